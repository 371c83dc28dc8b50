package tree

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"path"

	"github.com/opacitylabs/vault/internal/broker"
	"github.com/opacitylabs/vault/internal/domain"
	"github.com/opacitylabs/vault/internal/keys"
)

// DeleteFileVersions removes every broker-side blob backing file's versions.
// It does not touch any folder's directory entries; callers remove the
// parent's File entry and save separately.
func DeleteFileVersions(ctx context.Context, client *broker.Client, file domain.File) error {
	for _, v := range file.Versions {
		h, err := domain.ParseHandle(v.Handle)
		if err != nil {
			return fmt.Errorf("tree: parse version handle: %w", err)
		}
		fh, ok := h.(domain.FileHandle)
		if !ok {
			return fmt.Errorf("tree: version handle %q is not a file handle", v.Handle)
		}
		if err := client.Delete(ctx, hex.EncodeToString(fh.FileID[:])); err != nil {
			return fmt.Errorf("tree: delete blob: %w", err)
		}
	}
	return nil
}

// deleteFrame is one entry in the iterative post-order work-stack used by
// DeleteFolder: a folder is only deleted from the broker after every
// subfolder below it has already been torn down.
type deleteFrame struct {
	path     string
	expanded bool
}

// DeleteFolder recursively removes path and everything beneath it: every
// subfolder's metadata bottom-up, then path's own metadata. When
// deleteFiles is true, every contained file's broker blobs are also
// deleted (a plain recursive delete); when false, only directory
// structure is torn down and file blobs are left intact, because they
// are still referenced from a moved or renamed copy of this subtree
// (spec.md 4.7's move/rename compose on top of this flag). Recursion is
// expressed as an explicit stack rather than a recursive function so
// arbitrarily deep trees cannot overflow the call stack.
func DeleteFolder(ctx context.Context, client *broker.Client, master keys.MasterKey, p string, deleteFiles bool) error {
	stack := []deleteFrame{{path: p}}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]

		if !top.expanded {
			top.expanded = true

			view, err := Load(ctx, client, master, top.path)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					stack = stack[:len(stack)-1]
					continue
				}
				return err
			}

			if deleteFiles {
				for _, file := range view.Data.Files {
					if err := DeleteFileVersions(ctx, client, file); err != nil {
						return err
					}
				}
			}

			for _, sub := range view.Data.Folders {
				stack = append(stack, deleteFrame{path: JoinPath(top.path, sub.Name)})
			}
			continue
		}

		fk, err := keys.DeriveFolderKey(master, top.path)
		if err != nil {
			return fmt.Errorf("tree: derive folder key: %w", err)
		}
		if err := client.MetadataDelete(ctx, hex.EncodeToString(fk.MetadataKey[:])); err != nil {
			return fmt.Errorf("tree: delete folder %s: %w", top.path, err)
		}
		stack = stack[:len(stack)-1]
	}

	return nil
}

// Move relocates a direct entry of srcView into dstView under the same (or a
// new) name. The entry's handle is untouched — only the directory entries
// change — so no broker blob is re-uploaded. Both views must be saved by the
// caller after Move returns.
func Move(srcView, dstView *FolderView, name, destName string) error {
	if destName == "" {
		destName = name
	}

	if f, ok := srcView.FindFolder(name); ok {
		if dstView.hasName(destName) {
			return fmt.Errorf("tree: move %q: %w", destName, domain.ErrDuplicateName)
		}
		if err := srcView.RemoveEntry(name); err != nil {
			return err
		}
		f.Name = destName
		dstView.Data.Folders = append(dstView.Data.Folders, f)
		dstView.Data.Modified = now()
		return nil
	}
	if f, ok := srcView.FindFile(name); ok {
		finalName := destName
		if destName != name {
			// A rename, not just a relocation: preserve the original
			// extension regardless of what's in destName (spec.md 4.7),
			// matching original_source's
			// `newName + os.path.splitext(oldName)[1]`.
			finalName = destName + path.Ext(name)
		}
		if dstView.hasName(finalName) {
			return fmt.Errorf("tree: move %q: %w", finalName, domain.ErrDuplicateName)
		}
		if err := srcView.RemoveEntry(name); err != nil {
			return err
		}
		f.Name = finalName
		dstView.Data.Files = append(dstView.Data.Files, f)
		dstView.Data.Modified = now()
		return nil
	}
	return fmt.Errorf("tree: move %q: %w", name, domain.ErrNotFound)
}
