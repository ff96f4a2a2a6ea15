package cfg

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestBindMountFlagsAndUnmarshal(t *testing.T) {
	viper.Reset()
	fs := pflag.NewFlagSet("mount", pflag.ContinueOnError)
	require.NoError(t, BindMountFlags(fs))
	require.NoError(t, fs.Parse([]string{"--device=/dev/loop0", "--gc.policy=cost-benefit"}))

	var mc MountConfig
	require.NoError(t, viper.Unmarshal(&mc, DecoderOption()))

	require.Equal(t, "/dev/loop0", mc.Device)
	require.Equal(t, "cost-benefit", mc.GC.Policy)
}

func TestInvalidLogSeverityRejected(t *testing.T) {
	viper.Reset()
	fs := pflag.NewFlagSet("mount", pflag.ContinueOnError)
	require.NoError(t, BindMountFlags(fs))
	require.NoError(t, fs.Parse([]string{"--logging.severity=NOPE"}))

	var mc MountConfig
	err := viper.Unmarshal(&mc, DecoderOption())
	require.Error(t, err)
}

func TestBindMkfsFlags(t *testing.T) {
	viper.Reset()
	fs := pflag.NewFlagSet("mkfs", pflag.ContinueOnError)
	require.NoError(t, BindMkfsFlags(fs))
	require.NoError(t, fs.Parse([]string{"--device=/dev/loop1", "--force"}))

	var mc MkfsConfig
	require.NoError(t, viper.Unmarshal(&mc, DecoderOption()))

	require.Equal(t, "/dev/loop1", mc.Device)
	require.True(t, mc.Force)
}
