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

// Command mount attaches a volume as a FUSE filesystem: it opens the
// backing device, selects the valid checkpoint, replays orphans and
// fsync-chain roll-forward, wires every core package together and serves
// the mount until signaled to stop, running a background checkpoint/GC
// loop in the meantime (spec §4.9/§4.10).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/flashfriendly/f2fs/bcache"
	"github.com/flashfriendly/f2fs/cfg"
	"github.com/flashfriendly/f2fs/checkpoint"
	"github.com/flashfriendly/f2fs/directory"
	"github.com/flashfriendly/f2fs/ferrors"
	"github.com/flashfriendly/f2fs/file"
	"github.com/flashfriendly/f2fs/logger"
	"github.com/flashfriendly/f2fs/metrics"
	"github.com/flashfriendly/f2fs/nat"
	"github.com/flashfriendly/f2fs/ondisk"
	"github.com/flashfriendly/f2fs/recovery"
	"github.com/flashfriendly/f2fs/segment"
	"github.com/flashfriendly/f2fs/superblock"
	"github.com/flashfriendly/f2fs/vfsadapter"
	"github.com/flashfriendly/f2fs/vnode"
)

var rootCmd = &cobra.Command{
	Use:   "mount [flags] mount-point",
	Short: "Mount a volume as a FUSE filesystem.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var mc cfg.MountConfig
		if err := viper.Unmarshal(&mc, cfg.DecoderOption()); err != nil {
			return err
		}
		return run(mc, args[0])
	},
}

func init() {
	if err := cfg.BindMountFlags(rootCmd.Flags()); err != nil {
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

func run(mc cfg.MountConfig, mountPoint string) error {
	logger.Init(logger.Config{
		Format:        mc.Logging.Format,
		Severity:      string(mc.Logging.Severity),
		FilePath:      mc.Logging.File,
		MaxFileSizeMB: mc.Logging.MaxSizeMb,
	})

	met := metrics.New()
	if mc.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(met.Registry, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(mc.Metrics.Addr, mux); err != nil {
				logger.Errorf(context.Background(), "metrics server: %v", err)
			}
		}()
	}

	raw, err := bcache.OpenFileBlockDevice(mc.Device)
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	defer raw.Close()

	dev := bcache.New(raw, bcache.Config{MaxInFlight: int64(mc.IO.MaxInFlight)})
	ctx := context.Background()

	rawSb, err := readSuperblock(ctx, dev)
	if err != nil {
		return err
	}

	cp, pack, err := checkpoint.SelectValid(ctx, dev, rawSb)
	if err != nil {
		return fmt.Errorf("select checkpoint: %w", err)
	}

	sb := superblock.New(rawSb, superblock.MountOptions{
		BackgroundGC: mc.GC.Background,
		Discard:      mc.IO.Discard,
		InlineXattr:  mc.IO.InlineXattr,
		ExtentCache:  mc.IO.ExtentCache,
		ReadOnly:     mc.ReadOnly,
	}, func() {})
	sb.SetCounters(superblock.Counters{
		ValidBlockCount:  cp.ValidBlockCount,
		ValidNodeCount:   cp.ValidNodeCount,
		ValidInodeCount:  cp.ValidInodeCount,
		FreeSegmentCount: cp.FreeSegmentCount,
	})

	sit := segment.NewSitCache(dev, rawSb.SitBlkaddr, rawSb.SegmentCountMain)
	segMgr := segment.NewManager(dev, sit, rawSb.MainBlkaddr, cp.Cursegs)
	segMgr.SetSSABase(rawSb.SsaBlkaddr)

	natCache := nat.NewCache(dev, rawSb.NatBlkaddr, int(rawSb.SegmentCountNAT*ondisk.BlocksPerSegment))
	nids := scanFreeNids(ctx, dev, rawSb)
	nodes := nat.NewNodeManager(dev, natCache, nids, segMgr)

	io := file.NewIO(dev, nodes, segMgr)

	vnodes := vnode.NewCache(
		func(ino uint32) (*ondisk.InodePayload, error) {
			return loadInode(ctx, dev, natCache, ino)
		},
		func(ino uint32) error {
			return purgeInode(ctx, dev, natCache, nodes, nids, ino)
		},
	)

	if cp.HasOrphans() {
		purger := &orphanPurger{dev: dev, nat: natCache, nodes: nodes, nids: nids}
		orphanBase := packBaseAddr(rawSb, pack) + 1 // the orphan block immediately follows the pack's header copy
		if err := recovery.ReplayOrphans(ctx, dev, purger, orphanBase, cp.OrphanBlockCount); err != nil {
			return fmt.Errorf("replay orphans: %w", err)
		}
		met.OrphanInodesFreed.Add(float64(len(purger.purged)))
	}

	installer := &nodeInstaller{dev: dev, nat: natCache}
	recovered, err := recovery.RollForward(ctx, dev, installer, rawSb.MainBlkaddr, rawSb.MainBlkaddr+rawSb.SegmentCountMain*ondisk.BlocksPerSegment, cp.Version)
	if err != nil {
		return fmt.Errorf("roll forward: %w", err)
	}
	if recovered > 0 {
		logger.Infof(ctx, "recovery: rolled forward %d fsync'd node block(s)", recovered)
	}

	var resolve directory.BlockAddrFunc = func(ctx context.Context, dirIno uint32, logicalBlock uint64, grow bool) (uint32, error) {
		inode, err := loadInode(ctx, dev, natCache, dirIno)
		if err != nil {
			return 0, err
		}
		path, err := nodes.GetDnodeOfData(ctx, dirIno, inode, logicalBlock, grow)
		if err != nil {
			return 0, err
		}
		if path.InInode {
			addr := inode.Addrs[path.OfsInNode]
			if addr == ondisk.NullAddr && !grow {
				return 0, ferrors.New(ferrors.NotFound, "mount.resolve", "hole in directory")
			}
			if addr == ondisk.NullAddr && grow {
				addr, err = segMgr.Alloc(ctx, ondisk.CursegHotData, dirIno, uint16(path.OfsInNode), 0)
				if err != nil {
					return 0, err
				}
				inode.Addrs[path.OfsInNode] = addr
				if err := writeInode(ctx, dev, natCache, dirIno, inode); err != nil {
					return 0, err
				}
			}
			return addr, nil
		}
		return 0, ferrors.New(ferrors.NotFound, "mount.resolve", "non-inline directory blocks unsupported")
	}

	maxLevel := func(ino uint32) int { return ondisk.MaxDirHashDepth - 1 }

	fsys := vfsadapter.New(sb, vnodes, io, resolve, maxLevel, 0, nids, natCache, segMgr)

	server := fuseutil.NewFileSystemServer(fsys)
	options := map[string]string{}
	if mc.ReadOnly {
		options["ro"] = ""
	}
	mountCfg := &fuse.MountConfig{
		FSName:     "f2fs",
		Subtype:    "f2fs",
		VolumeName: "f2fs",
		Options:    options,
	}

	mfs, err := fuse.Mount(mountPoint, server, mountCfg)
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}

	stopGC := make(chan struct{})
	if mc.GC.Background && !mc.ReadOnly {
		go runBackgroundLoop(ctx, mc, dev, sb, natCache, sit, segMgr, cp, pack, met, stopGC)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	close(stopGC)
	if err := fuse.Unmount(mountPoint); err != nil {
		logger.Errorf(ctx, "unmount: %v", err)
	}
	return mfs.Join(ctx)
}

func readSuperblock(ctx context.Context, dev *bcache.Bcache) (*ondisk.Superblock, error) {
	block, err := dev.ReadBlock(ctx, 0)
	if err == nil {
		if sb, err := ondisk.UnmarshalSuperblock(block); err == nil {
			return sb, nil
		}
	}
	block, err = dev.ReadBlock(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("read superblock copy 1: %w", err)
	}
	sb, err := ondisk.UnmarshalSuperblock(block)
	if err != nil {
		return nil, fmt.Errorf("neither superblock copy validates: %w", err)
	}
	return sb, nil
}

// packBaseAddr mirrors checkpoint.Manager's own pack layout math: pack 0 and
// pack 1 sit back to back starting at CkptBlkaddr, each SegmentCountCkpt/2
// segments wide.
func packBaseAddr(sb *ondisk.Superblock, pack int) uint32 {
	segBlocks := ondisk.BlocksPerSegment * (sb.SegmentCountCkpt / 2)
	if segBlocks == 0 {
		segBlocks = 3
	}
	return sb.CkptBlkaddr + uint32(pack)*segBlocks
}

// scanFreeNids reads every NAT block to find nids whose entry is free,
// seeding the free-nid pool mount needs for create/mkdir.
func scanFreeNids(ctx context.Context, dev *bcache.Bcache, sb *ondisk.Superblock) *nat.FreeNidPool {
	var free []uint32
	natBlocks := int(sb.SegmentCountNAT * ondisk.BlocksPerSegment)
	for blockIdx := 0; blockIdx < natBlocks; blockIdx++ {
		raw, err := dev.ReadBlock(ctx, sb.NatBlkaddr+uint32(blockIdx))
		if err != nil {
			continue
		}
		block := ondisk.UnmarshalNatBlock(raw)
		for slot, e := range block.Entries {
			nid := uint32(blockIdx*ondisk.NATEntryPerBlock + slot)
			if nid <= sb.RootIno {
				continue // reserved nids (node/meta/root inodes)
			}
			if e.IsFree() {
				free = append(free, nid)
			}
		}
	}
	return nat.NewFreeNidPool(free)
}

func loadInode(ctx context.Context, dev *bcache.Bcache, natCache *nat.Cache, ino uint32) (*ondisk.InodePayload, error) {
	entry, err := natCache.Lookup(ctx, ino)
	if err != nil {
		return nil, err
	}
	if entry.IsFree() {
		return nil, ferrors.New(ferrors.NotFound, "mount.loadInode", "no such inode")
	}
	raw, err := dev.ReadBlock(ctx, entry.BlockAddr)
	if err != nil {
		return nil, err
	}
	return ondisk.UnmarshalInodePayload(raw), nil
}

func writeInode(ctx context.Context, dev *bcache.Bcache, natCache *nat.Cache, ino uint32, inode *ondisk.InodePayload) error {
	entry, err := natCache.Lookup(ctx, ino)
	if err != nil {
		return err
	}
	block := inode.Marshal()
	ondisk.SetNodeBlockFooter(block, ondisk.NodeFooter{Nid: ino, Ino: ino})
	return dev.WriteBlock(ctx, entry.BlockAddr, block)
}

// purgeInode frees an unlinked, no-longer-open inode's blocks and NAT
// entry, invoked from the vnode cache's destroy callback once an inode's
// lookup count and link count both reach zero.
func purgeInode(ctx context.Context, dev *bcache.Bcache, natCache *nat.Cache, nodes *nat.NodeManager, nids *nat.FreeNidPool, ino uint32) error {
	inode, err := loadInode(ctx, dev, natCache, ino)
	if err != nil {
		return err
	}
	if inode.Links > 0 {
		return nil // still linked; nothing to reclaim yet
	}
	if err := nodes.TruncateInodeBlocks(ctx, inode, 0); err != nil {
		return err
	}
	entry, err := natCache.Lookup(ctx, ino)
	if err != nil {
		return err
	}
	natCache.Set(ino, ondisk.NatEntry{Version: entry.Version + 1, BlockAddr: ondisk.NullAddr})
	nids.Free(ino)
	return nil
}

type orphanPurger struct {
	dev    *bcache.Bcache
	nat    *nat.Cache
	nodes  *nat.NodeManager
	nids   *nat.FreeNidPool
	purged []uint32
}

func (p *orphanPurger) PurgeOrphan(ctx context.Context, ino uint32) error {
	if err := purgeInode(ctx, p.dev, p.nat, p.nodes, p.nids, ino); err != nil {
		return err
	}
	p.purged = append(p.purged, ino)
	return nil
}

// nodeInstaller applies a rolled-forward node block by pointing its NAT
// entry at the address the scan found it durably written to; the block's
// own content already matches what fsync last wrote there, so nothing
// beyond the NAT pointer needs fixing up.
type nodeInstaller struct {
	dev *bcache.Bcache
	nat *nat.Cache
}

func (ins *nodeInstaller) InstallNode(ctx context.Context, addr uint32, footer ondisk.NodeFooter, block []byte) error {
	entry, err := ins.nat.Lookup(ctx, footer.Nid)
	if err != nil {
		return err
	}
	ins.nat.Set(footer.Nid, ondisk.NatEntry{Ino: footer.Ino, Version: entry.Version, BlockAddr: addr})
	return nil
}

// volumeBlockMover relocates one valid block during GC: its raw content is
// copied to a freshly allocated LFS address, and the reverse reference
// (NAT entry for a node block, or the owning node's address slot for a
// data block) is rewritten to point at the new address, per spec §4.9.
type volumeBlockMover struct {
	dev   *bcache.Bcache
	nat   *nat.Cache
	alloc *segment.Manager
}

func (mv *volumeBlockMover) MoveBlock(ctx context.Context, oldAddr uint32, summary ondisk.Summary, isNode bool) (uint32, error) {
	content, err := mv.dev.ReadBlock(ctx, oldAddr)
	if err != nil {
		return 0, err
	}

	curseg := ondisk.CursegColdData
	if isNode {
		curseg = ondisk.CursegColdNode
	}
	newAddr, err := mv.alloc.Alloc(ctx, curseg, summary.Nid, summary.OfsInNode, summary.Version)
	if err != nil {
		return 0, err
	}
	if err := mv.dev.WriteBlock(ctx, newAddr, content); err != nil {
		return 0, err
	}

	if isNode {
		entry, err := mv.nat.Lookup(ctx, summary.Nid)
		if err != nil {
			return 0, err
		}
		mv.nat.Set(summary.Nid, ondisk.NatEntry{Ino: entry.Ino, Version: entry.Version, BlockAddr: newAddr})
		return newAddr, nil
	}

	owner, err := mv.nat.Lookup(ctx, summary.Nid)
	if err != nil {
		return 0, err
	}
	ownerBlock, err := mv.dev.ReadBlock(ctx, owner.BlockAddr)
	if err != nil {
		return 0, err
	}
	footer := ondisk.NodeBlockFooter(ownerBlock)
	if footer.IsInode() {
		inode := ondisk.UnmarshalInodePayload(ownerBlock)
		inode.Addrs[summary.OfsInNode] = newAddr
		rewritten := inode.Marshal()
		ondisk.SetNodeBlockFooter(rewritten, footer)
		if err := mv.dev.WriteBlock(ctx, owner.BlockAddr, rewritten); err != nil {
			return 0, err
		}
	} else {
		direct := ondisk.UnmarshalDirectNodePayload(ownerBlock)
		direct.Addrs[summary.OfsInNode] = newAddr
		rewritten := direct.Marshal()
		ondisk.SetNodeBlockFooter(rewritten, footer)
		if err := mv.dev.WriteBlock(ctx, owner.BlockAddr, rewritten); err != nil {
			return 0, err
		}
	}
	return newAddr, nil
}

// runBackgroundLoop periodically checkpoints and, when free space is
// scarce, runs one GC round, per spec §4.9's background_gc mount option.
func runBackgroundLoop(ctx context.Context, mc cfg.MountConfig, dev *bcache.Bcache, sb *superblock.Info, natCache *nat.Cache, sit *segment.SitCache, segMgr *segment.Manager, cp *ondisk.Checkpoint, pack int, met *metrics.Metrics, stop <-chan struct{}) {
	interval := time.Duration(mc.GC.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	cpMgr := checkpoint.New(dev, sb.Raw, natCache, sit, segMgr, cp.Version, pack)
	mover := &volumeBlockMover{dev: dev, nat: natCache, alloc: segMgr}
	policy := segment.PolicyGreedy
	if mc.GC.Policy == "cost-benefit" {
		policy = segment.PolicyCostBenefit
	}

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			free := sit.FreeSegments()
			if len(free) < mc.GC.MinFreeSegments {
				candidates := make([]uint32, sb.Raw.SegmentCountMain)
				for i := range candidates {
					candidates[i] = uint32(i)
				}
				if _, ok, err := segMgr.Collect(ctx, policy, candidates, mover); err != nil {
					logger.Errorf(ctx, "gc: %v", err)
				} else if ok {
					met.GCRunsTotal.Inc()
					met.GCSegmentsReclaimed.Inc()
				}
			}

			snap := sb.Snapshot()
			counters := checkpoint.Counters{
				ValidBlockCount:  snap.ValidBlockCount,
				ValidNodeCount:   snap.ValidNodeCount,
				ValidInodeCount:  snap.ValidInodeCount,
				FreeSegmentCount: uint32(len(sit.FreeSegments())),
			}
			if err := cpMgr.Write(ctx, nil, nil, counters); err != nil {
				logger.Errorf(ctx, "checkpoint: %v", err)
				continue
			}
			met.CheckpointsTotal.Inc()
		}
	}
}
