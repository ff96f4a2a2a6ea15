// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// LogSeverity mirrors the teacher's string-enum config type, validated at
// decode time by hookFunc rather than left as a bare string.
type LogSeverity string

// MountConfig is the full set of options accepted by the mount command,
// bindable from flags, a YAML config file, or both (flags win).
type MountConfig struct {
	Device     string `yaml:"device"`
	MountPoint string `yaml:"mount-point"`

	ReadOnly bool `yaml:"read-only"`

	GC      GCConfig      `yaml:"gc"`
	IO      IOConfig      `yaml:"io"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// GCConfig governs background segment cleaning, per spec §4.9.
type GCConfig struct {
	Background      bool    `yaml:"background"`
	MinFreeSegments  int     `yaml:"min-free-segments"`
	IntervalSeconds  int     `yaml:"interval-seconds"`
	Policy           string  `yaml:"policy"` // "greedy" or "cost-benefit"
	OverprovisionPct float64 `yaml:"overprovision-pct"`
}

// IOConfig governs the block-cache admission and writeback knobs exposed
// by bcache/pagecache.
type IOConfig struct {
	MaxInFlight          int  `yaml:"max-in-flight"`
	WritebackConcurrency int  `yaml:"writeback-concurrency"`
	Discard              bool `yaml:"discard"`
	ExtentCache          bool `yaml:"extent-cache"`
	InlineXattr          bool `yaml:"inline-xattr"`
}

// LoggingConfig mirrors the teacher's logger.Config shape.
type LoggingConfig struct {
	Severity  LogSeverity `yaml:"severity"`
	File      string      `yaml:"file"`
	MaxSizeMb int         `yaml:"max-size-mb"`
	Format    string      `yaml:"format"`
}

// MetricsConfig governs the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// MkfsConfig is the set of options accepted by the mkfs command.
type MkfsConfig struct {
	Device string `yaml:"device"`
	Label  string `yaml:"label"`

	OverprovisionPct float64 `yaml:"overprovision-pct"`
	Force            bool    `yaml:"force"`
}

// DefaultMountConfig returns the configuration a bare mount invocation
// should use absent any flags or config file.
func DefaultMountConfig() MountConfig {
	return MountConfig{
		GC: GCConfig{
			Background:       true,
			MinFreeSegments:  4,
			IntervalSeconds:  30,
			Policy:           "greedy",
			OverprovisionPct: 5.0,
		},
		IO: IOConfig{
			MaxInFlight:          32,
			WritebackConcurrency: 16,
			ExtentCache:          true,
		},
		Logging: LoggingConfig{
			Severity:  "INFO",
			MaxSizeMb: 100,
			Format:    "json",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

// BindMountFlags registers every MountConfig field as a flag and binds it
// into viper, so that viper.Unmarshal into a MountConfig reflects
// flag, env and config-file precedence in the order viper already
// implements.
func BindMountFlags(flagSet *pflag.FlagSet) error {
	d := DefaultMountConfig()

	flagSet.String("device", "", "Path to the backing block device or image file.")
	flagSet.Bool("read-only", false, "Mount the volume read-only.")

	flagSet.Bool("gc.background", d.GC.Background, "Run background segment cleaning.")
	flagSet.Int("gc.min-free-segments", d.GC.MinFreeSegments, "Free-segment low-water mark that triggers GC.")
	flagSet.Int("gc.interval-seconds", d.GC.IntervalSeconds, "Background GC poll interval.")
	flagSet.String("gc.policy", d.GC.Policy, "Victim selection policy: greedy or cost-benefit.")
	flagSet.Float64("gc.overprovision-pct", d.GC.OverprovisionPct, "Reserved free-space percentage GC aims to maintain.")

	flagSet.Int("io.max-in-flight", d.IO.MaxInFlight, "Maximum concurrent block device I/Os.")
	flagSet.Int("io.writeback-concurrency", d.IO.WritebackConcurrency, "Maximum concurrent dirty-page writeback goroutines.")
	flagSet.Bool("io.discard", d.IO.Discard, "Issue TRIM/discard on segment cleaning.")
	flagSet.Bool("io.extent-cache", d.IO.ExtentCache, "Enable the per-vnode single-extent read cache.")
	flagSet.Bool("io.inline-xattr", d.IO.InlineXattr, "Enable inline xattr storage in the inode block.")

	flagSet.String("logging.severity", string(d.Logging.Severity), "Minimum log severity: TRACE, DEBUG, INFO, WARNING, ERROR, OFF.")
	flagSet.String("logging.file", d.Logging.File, "Path to the log file; empty logs to stderr.")
	flagSet.Int("logging.max-size-mb", d.Logging.MaxSizeMb, "Log file rotation size in megabytes.")
	flagSet.String("logging.format", d.Logging.Format, "Log encoding: json or text.")

	flagSet.Bool("metrics.enabled", d.Metrics.Enabled, "Serve Prometheus metrics.")
	flagSet.String("metrics.addr", d.Metrics.Addr, "Address the metrics HTTP server listens on.")

	return bindAll(flagSet, []string{
		"device", "read-only",
		"gc.background", "gc.min-free-segments", "gc.interval-seconds", "gc.policy", "gc.overprovision-pct",
		"io.max-in-flight", "io.writeback-concurrency", "io.discard", "io.extent-cache", "io.inline-xattr",
		"logging.severity", "logging.file", "logging.max-size-mb", "logging.format",
		"metrics.enabled", "metrics.addr",
	})
}

// BindMkfsFlags registers MkfsConfig's flags.
func BindMkfsFlags(flagSet *pflag.FlagSet) error {
	flagSet.String("device", "", "Path to the backing block device or image file to format.")
	flagSet.String("label", "", "Volume label, up to 15 bytes.")
	flagSet.Float64("overprovision-pct", 5.0, "Reserved free-space percentage held back from user-visible capacity.")
	flagSet.Bool("force", false, "Format even if the device already looks like a formatted volume.")

	return bindAll(flagSet, []string{"device", "label", "overprovision-pct", "force"})
}

func bindAll(flagSet *pflag.FlagSet, names []string) error {
	for _, name := range names {
		if err := viper.BindPFlag(name, flagSet.Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}
