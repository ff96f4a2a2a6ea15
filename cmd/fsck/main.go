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

// Command fsck performs an offline consistency check of a volume, per
// spec §4.11: an independent walk of the NAT and node trees, cross-checked
// against the SIT bitmaps and the checkpoint's recorded counters.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/flashfriendly/f2fs/bcache"
	"github.com/flashfriendly/f2fs/checkpoint"
	"github.com/flashfriendly/f2fs/fsck"
	"github.com/flashfriendly/f2fs/nat"
	"github.com/flashfriendly/f2fs/ondisk"
	"github.com/flashfriendly/f2fs/segment"
)

func main() {
	repair := flag.Bool("y", false, "Repair counter mismatches found (equivalent to fsck -y).")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: fsck [-y] device")
		os.Exit(2)
	}

	if err := run(flag.Arg(0), *repair); err != nil {
		log.Fatal(err)
	}
}

func run(devicePath string, repair bool) error {
	raw, err := bcache.OpenFileBlockDevice(devicePath)
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	defer raw.Close()

	dev := bcache.New(raw, bcache.Config{})
	ctx := context.Background()

	sbBlock, err := dev.ReadBlock(ctx, 0)
	if err != nil {
		return fmt.Errorf("read superblock: %w", err)
	}
	sb, err := ondisk.UnmarshalSuperblock(sbBlock)
	if err != nil {
		sbBlock, err = dev.ReadBlock(ctx, 1)
		if err != nil {
			return fmt.Errorf("read superblock copy 1: %w", err)
		}
		sb, err = ondisk.UnmarshalSuperblock(sbBlock)
		if err != nil {
			return fmt.Errorf("neither superblock copy validates: %w", err)
		}
	}

	cp, pack, err := checkpoint.SelectValid(ctx, dev, sb)
	if err != nil {
		return fmt.Errorf("select checkpoint: %w", err)
	}

	sit := segment.NewSitCache(dev, sb.SitBlkaddr, sb.SegmentCountMain)
	natCache := nat.NewCache(dev, sb.NatBlkaddr, int(sb.SegmentCountNAT*ondisk.BlocksPerSegment))

	checker := fsck.New(dev, sb, sit, natCache, func(ctx context.Context) ([]fsck.InodeView, error) {
		return walkInodes(ctx, dev, sb)
	})

	report, err := checker.Check(ctx, *cp)
	if err != nil {
		return fmt.Errorf("check: %w", err)
	}

	if report.Clean() {
		fmt.Println("fsck: clean")
		return nil
	}

	fmt.Printf("fsck: %d finding(s):\n", len(report.Findings))
	for _, f := range report.Findings {
		fmt.Printf("  [%s] %s\n", f.Kind, f.Detail)
	}

	if !repair {
		os.Exit(1)
	}

	checker.RepairCounters(report, cp)

	cpMgr := checkpoint.New(dev, sb, natCache, sit, segment.NewManager(dev, sit, sb.MainBlkaddr, cp.Cursegs), cp.Version, pack)
	counters := checkpoint.Counters{
		ValidBlockCount:  report.ComputedValidBlockCount,
		ValidNodeCount:   report.ComputedValidNodeCount,
		ValidInodeCount:  report.ComputedValidInodeCount,
		FreeSegmentCount: cp.FreeSegmentCount,
	}
	if err := cpMgr.Write(ctx, nil, nil, counters); err != nil {
		return fmt.Errorf("write repaired checkpoint: %w", err)
	}
	fmt.Println("fsck: repaired counters and wrote a fresh checkpoint")
	return nil
}

// walkInodes scans every NAT entry directly off the device (bypassing the
// nat.Cache's lazy load, since fsck wants its own independent read of what
// is actually on disk rather than whatever the cache happens to hold) and,
// for each entry whose node block is an inode block, collects its owned
// data and indirect-node block addresses.
func walkInodes(ctx context.Context, dev *bcache.Bcache, sb *ondisk.Superblock) ([]fsck.InodeView, error) {
	var views []fsck.InodeView

	natBlocks := int(sb.SegmentCountNAT * ondisk.BlocksPerSegment)
	for blockIdx := 0; blockIdx < natBlocks; blockIdx++ {
		raw, err := dev.ReadBlock(ctx, sb.NatBlkaddr+uint32(blockIdx))
		if err != nil {
			return nil, err
		}
		block := ondisk.UnmarshalNatBlock(raw)

		for slot, e := range block.Entries {
			if e.IsFree() || e.IsNew() {
				continue
			}
			nid := uint32(blockIdx*ondisk.NATEntryPerBlock + slot)

			nodeRaw, err := dev.ReadBlock(ctx, e.BlockAddr)
			if err != nil {
				continue
			}
			footer := ondisk.NodeBlockFooter(nodeRaw)
			if footer.Nid != nid || !footer.IsInode() {
				continue
			}

			inode := ondisk.UnmarshalInodePayload(nodeRaw)

			view := fsck.InodeView{Ino: nid, NodeBlockAddr: e.BlockAddr}
			for _, addr := range inode.Addrs {
				if addr != ondisk.NullAddr {
					view.OwnedBlocks = append(view.OwnedBlocks, addr)
				}
			}
			for _, indirectNid := range inode.Nids {
				if indirectNid == ondisk.NullAddr {
					continue
				}
				indirectIdx, indirectSlot := indirectNid/uint32(ondisk.NATEntryPerBlock), indirectNid%uint32(ondisk.NATEntryPerBlock)
				if int(indirectIdx) >= natBlocks {
					continue
				}
				indirectRaw, err := dev.ReadBlock(ctx, sb.NatBlkaddr+indirectIdx)
				if err != nil {
					continue
				}
				indirectEntry := ondisk.UnmarshalNatBlock(indirectRaw).Entries[indirectSlot]
				if indirectEntry.IsFree() {
					continue
				}
				view.OwnedBlocks = append(view.OwnedBlocks, indirectEntry.BlockAddr)

				direct, err := dev.ReadBlock(ctx, indirectEntry.BlockAddr)
				if err != nil {
					continue
				}
				for _, addr := range ondisk.UnmarshalDirectNodePayload(direct).Addrs {
					if addr != ondisk.NullAddr {
						view.OwnedBlocks = append(view.OwnedBlocks, addr)
					}
				}
			}

			views = append(views, view)
		}
	}

	return views, nil
}
