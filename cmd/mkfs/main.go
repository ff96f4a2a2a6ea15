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

// Command mkfs formats a block device or image file with a fresh
// superblock, checkpoint, NAT, SIT and root inode, per spec §6.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/flashfriendly/f2fs/bcache"
	"github.com/flashfriendly/f2fs/cfg"
	"github.com/flashfriendly/f2fs/checkpoint"
	"github.com/flashfriendly/f2fs/directory"
	"github.com/flashfriendly/f2fs/nat"
	"github.com/flashfriendly/f2fs/ondisk"
	"github.com/flashfriendly/f2fs/segment"
)

var rootCmd = &cobra.Command{
	Use:   "mkfs [flags] device",
	Short: "Format a block device with a fresh log-structured filesystem.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var mc cfg.MkfsConfig
		if err := viper.Unmarshal(&mc, cfg.DecoderOption()); err != nil {
			return err
		}
		mc.Device = args[0]
		return run(mc)
	},
}

func init() {
	if err := cfg.BindMkfsFlags(rootCmd.Flags()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// layout computes a segment layout for a device of the given block count,
// reserving overprovisionPct percent of the device's segments as free-space
// headroom for GC, per spec §4.9.
func layout(totalBlocks uint32, overprovisionPct float64) (sb *ondisk.Superblock) {
	totalSegs := totalBlocks / ondisk.BlocksPerSegment
	if totalSegs < 16 {
		totalSegs = 16
	}

	ckptSegs := uint32(2)
	sitSegs := uint32(1)
	natSegs := uint32(1)
	ssaSegs := uint32(1)
	overprovisionSegs := uint32(float64(totalSegs) * overprovisionPct / 100.0)
	if overprovisionSegs < 1 {
		overprovisionSegs = 1
	}

	reserved := ckptSegs + sitSegs + natSegs + ssaSegs + overprovisionSegs
	mainSegs := totalSegs - reserved
	if mainSegs < 4 {
		mainSegs = 4
		totalSegs = reserved + mainSegs
	}

	sb = &ondisk.Superblock{
		Magic:               ondisk.SuperblockMagic,
		Major:               1,
		Minor:               0,
		UUID:                uuid.New(),
		LogSectorSize:       9,
		LogBlockSize:        12,
		LogBlocksPerSegment: 9,

		SegmentCount:       totalSegs,
		SegmentsPerSection:  1,
		SectionsPerZone:     1,
		SectionCount:        mainSegs,

		SegmentCountCkpt: ckptSegs,
		SegmentCountSIT:  sitSegs,
		SegmentCountNAT:  natSegs,
		SegmentCountSSA:  ssaSegs,
		SegmentCountMain: mainSegs,

		OverprovisionSegmentCount: overprovisionSegs,

		RootIno: 3,
		NodeIno: 1,
		MetaIno: 2,
	}

	sb.CkptBlkaddr = 0
	sb.SitBlkaddr = sb.CkptBlkaddr + ckptSegs*ondisk.BlocksPerSegment
	sb.NatBlkaddr = sb.SitBlkaddr + sitSegs*ondisk.BlocksPerSegment
	sb.SsaBlkaddr = sb.NatBlkaddr + natSegs*ondisk.BlocksPerSegment
	sb.MainBlkaddr = sb.SsaBlkaddr + ssaSegs*ondisk.BlocksPerSegment

	return sb
}

func run(mc cfg.MkfsConfig) error {
	raw, err := bcache.OpenFileBlockDevice(mc.Device)
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	defer raw.Close()

	dev := bcache.New(raw, bcache.Config{})
	ctx := context.Background()

	sb := layout(raw.BlockCount(), mc.OverprovisionPct)
	copy(sb.Label[:], mc.Label)

	if err := sb.Validate(); err != nil {
		return fmt.Errorf("computed layout is invalid: %w", err)
	}

	natCache := nat.NewCache(dev, sb.NatBlkaddr, int(sb.SegmentCountNAT*ondisk.BlocksPerSegment))
	sit := segment.NewSitCache(dev, sb.SitBlkaddr, sb.SegmentCountMain)

	var snap [ondisk.NumCursegType]ondisk.CursegSnapshot
	segMgr := segment.NewManager(dev, sit, sb.MainBlkaddr, snap)

	// The root directory's "." and ".." land in hash-tree level 0, bucket
	// 0, which is logical block 0 of the directory -- addressable directly
	// out of the inode's own Addrs[0], with no indirect node needed.
	dentryBlock := ondisk.NewDentryBlock()
	dentryBlock.Dentries[0] = ondisk.Dentry{Hash: directory.Hash("."), Ino: sb.RootIno, Type: ondisk.FileTypeDirectory}
	dentryBlock.PutName(0, ".")
	dentryBlock.SetSlot(0, true)
	dentryBlock.Dentries[1] = ondisk.Dentry{Hash: directory.Hash(".."), Ino: sb.RootIno, Type: ondisk.FileTypeDirectory}
	dentryBlock.PutName(1, "..")
	dentryBlock.SetSlot(1, true)

	dentryAddr, err := segMgr.Alloc(ctx, ondisk.CursegHotData, sb.RootIno, 0, 0)
	if err != nil {
		return fmt.Errorf("allocate root dentry block: %w", err)
	}
	if err := dev.WriteBlock(ctx, dentryAddr, dentryBlock.Marshal()); err != nil {
		return fmt.Errorf("write root dentry block: %w", err)
	}

	rootInode := &ondisk.InodePayload{
		Mode:  uint32(0755 | 1<<31), // S_IFDIR high bit, matching the adapter's own convention
		Links: 2,
		Size:  ondisk.BlockSize,
	}
	rootInode.Addrs[0] = dentryAddr
	rootBlock := rootInode.Marshal()
	ondisk.SetNodeBlockFooter(rootBlock, ondisk.NodeFooter{Nid: sb.RootIno, Ino: sb.RootIno})

	rootAddr, err := segMgr.AllocNodeBlock(ctx)
	if err != nil {
		return fmt.Errorf("allocate root inode block: %w", err)
	}
	if err := dev.WriteBlock(ctx, rootAddr, rootBlock); err != nil {
		return fmt.Errorf("write root inode: %w", err)
	}
	natCache.Set(sb.RootIno, ondisk.NatEntry{Ino: sb.RootIno, BlockAddr: rootAddr})

	sbBlock := make([]byte, ondisk.BlockSize)
	copy(sbBlock[ondisk.SuperblockOffset:], sb.Marshal())

	for _, addr := range []uint32{0, 1} {
		if err := dev.WriteBlock(ctx, addr, sbBlock); err != nil {
			return fmt.Errorf("write superblock copy %d: %w", addr, err)
		}
	}

	cpMgr := checkpoint.New(dev, sb, natCache, sit, segMgr, 0, 1)
	counters := checkpoint.Counters{
		ValidBlockCount: 2,
		ValidNodeCount:  1,
		ValidInodeCount: 1,
		FreeSegmentCount: sb.SegmentCountMain - 1,
	}
	if err := cpMgr.Write(ctx, nil, nil, counters); err != nil {
		return fmt.Errorf("write initial checkpoint: %w", err)
	}

	if err := dev.Flush(); err != nil {
		return err
	}

	fmt.Printf("mkfs: formatted %s: %d segments (%d main), root ino %d\n", mc.Device, sb.SegmentCount, sb.SegmentCountMain, sb.RootIno)
	return nil
}
