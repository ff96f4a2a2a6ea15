package directory

import (
	"context"

	"github.com/flashfriendly/f2fs/bcache"
	"github.com/flashfriendly/f2fs/ferrors"
	"github.com/flashfriendly/f2fs/ondisk"
)

// RenameParams names every input Rename needs: old and new parent ino,
// old and new name, the moved entry's own ino/type, and (for a directory
// being moved to a different parent) the new parent's ino so its ".."
// entry can be fixed up.
type RenameParams struct {
	OldParentIno uint32
	OldName      string
	NewParentIno uint32
	NewName      string
	MovedIno     uint32
	MovedType    uint8
	IsDir        bool
}

// Rename implements spec §4.6's rename semantics: cross-directory moves,
// overwrite-if-exists at the destination, and ".." fixup when a directory
// changes parent. On success it returns the ino of any entry POSIX
// rename semantics required it silently replace at the destination (0 if
// none), which the caller must then unlink/decref.
func Rename(ctx context.Context, dev *bcache.Bcache, resolve BlockAddrFunc, dirLevel int, maxLevelFor func(ino uint32) int, params RenameParams) (replacedIno uint32, err error) {
	if existing, lookupErr := FindEntry(ctx, dev, resolve, params.NewParentIno, dirLevel, maxLevelFor(params.NewParentIno), params.NewName); lookupErr == nil {
		replacedIno = existing.Ino
		if err := DeleteEntry(ctx, dev, resolve, params.NewParentIno, dirLevel, maxLevelFor(params.NewParentIno), params.NewName); err != nil {
			return 0, err
		}
	} else if !ferrors.Is(lookupErr, ferrors.NotFound) {
		return 0, lookupErr
	}

	if err := AddLink(ctx, dev, resolve, params.NewParentIno, dirLevel, maxLevelFor(params.NewParentIno), params.NewName, params.MovedIno, params.MovedType); err != nil {
		return 0, err
	}

	if err := DeleteEntry(ctx, dev, resolve, params.OldParentIno, dirLevel, maxLevelFor(params.OldParentIno), params.OldName); err != nil {
		return 0, err
	}

	if params.IsDir && params.OldParentIno != params.NewParentIno {
		if err := fixupDotDot(ctx, dev, resolve, dirLevel, maxLevelFor, params.MovedIno, params.NewParentIno); err != nil {
			return 0, err
		}
	}

	return replacedIno, nil
}

// fixupDotDot rewrites movedIno's ".." entry to point at newParentIno,
// required whenever a directory is relocated to a different parent so its
// ModifiedDirIno bookkeeping (spec §4.6) stays consistent with the new
// tree position.
func fixupDotDot(ctx context.Context, dev *bcache.Bcache, resolve BlockAddrFunc, dirLevel int, maxLevelFor func(uint32) int, movedIno uint32, newParentIno uint32) error {
	if err := DeleteEntry(ctx, dev, resolve, movedIno, dirLevel, maxLevelFor(movedIno), ".."); err != nil && !ferrors.Is(err, ferrors.NotFound) {
		return err
	}
	return AddLink(ctx, dev, resolve, movedIno, dirLevel, maxLevelFor(movedIno), "..", newParentIno, ondisk.FileTypeDirectory)
}
