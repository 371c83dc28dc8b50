// Package tree implements folder-metadata operations: load/save, create,
// rename, move, and iterative delete (C7). Operations are expressed against
// an explicit FolderView value rather than session-held mutable state, so a
// caller can hold several views (e.g. source and destination of a move)
// without them aliasing each other.
package tree

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/opacitylabs/vault/internal/broker"
	"github.com/opacitylabs/vault/internal/domain"
	"github.com/opacitylabs/vault/internal/keys"
	"github.com/opacitylabs/vault/internal/metadata"
)

// FolderView is a snapshot of one folder's derived key and decrypted
// metadata, addressed by its logical path from the account root.
type FolderView struct {
	Path string
	Key  keys.FolderKey
	Data domain.FolderMetaData
}

// JoinPath joins a parent logical path and a child name into a child path.
func JoinPath(parent, name string) string {
	if parent == "" || parent == "/" {
		return "/" + name
	}
	return strings.TrimRight(parent, "/") + "/" + name
}

func now() int64 { return time.Now().UnixMilli() }

// Load derives the folder key for path and fetches+decrypts its metadata
// blob. ErrNotFound is returned unwrapped-comparable via errors.Is when the
// folder has never been created.
func Load(ctx context.Context, client *broker.Client, master keys.MasterKey, p string) (FolderView, error) {
	fk, err := keys.DeriveFolderKey(master, p)
	if err != nil {
		return FolderView{}, fmt.Errorf("tree: derive folder key: %w", err)
	}
	sealed, err := client.MetadataGet(ctx, hex.EncodeToString(fk.MetadataKey[:]))
	if err != nil {
		var be *domain.BrokerError
		if errors.As(err, &be) && be.Status == 404 {
			return FolderView{}, fmt.Errorf("tree: %s: %w", p, domain.ErrNotFound)
		}
		return FolderView{}, fmt.Errorf("tree: load %s: %w", p, err)
	}
	data, err := metadata.Decode(sealed, fk.KeyString[:])
	if err != nil {
		return FolderView{}, fmt.Errorf("tree: decode %s: %w", p, err)
	}
	return FolderView{Path: p, Key: fk, Data: data}, nil
}

// Create derives the folder key for path and announces it to the broker. If
// the folder already exists, its current metadata is loaded instead
// (created=false). A freshly created folder gets a blank metadata body.
func Create(ctx context.Context, client *broker.Client, master keys.MasterKey, p string) (view FolderView, created bool, err error) {
	fk, err := keys.DeriveFolderKey(master, p)
	if err != nil {
		return FolderView{}, false, fmt.Errorf("tree: derive folder key: %w", err)
	}
	created, err = client.MetadataCreate(ctx, hex.EncodeToString(fk.MetadataKey[:]))
	if err != nil {
		return FolderView{}, false, fmt.Errorf("tree: create %s: %w", p, err)
	}
	if !created {
		view, err = Load(ctx, client, master, p)
		return view, false, err
	}
	data := metadata.New(path.Base(p), now())
	view = FolderView{Path: p, Key: fk, Data: data}
	if err := view.Save(ctx, client); err != nil {
		return FolderView{}, false, err
	}
	return view, true, nil
}

// Save seals the view's current metadata and writes it back to the broker.
func (v FolderView) Save(ctx context.Context, client *broker.Client) error {
	sealed, err := metadata.Encode(v.Data, v.Key.KeyString[:])
	if err != nil {
		return fmt.Errorf("tree: encode %s: %w", v.Path, err)
	}
	if err := client.MetadataSet(ctx, hex.EncodeToString(v.Key.MetadataKey[:]), sealed); err != nil {
		return fmt.Errorf("tree: save %s: %w", v.Path, err)
	}
	return nil
}

// FindFolder looks up a direct subfolder entry by name.
func (v FolderView) FindFolder(name string) (domain.Folder, bool) {
	for _, f := range v.Data.Folders {
		if f.Name == name {
			return f, true
		}
	}
	return domain.Folder{}, false
}

// FindFile looks up a direct file entry by name.
func (v FolderView) FindFile(name string) (domain.File, bool) {
	for _, f := range v.Data.Files {
		if f.Name == name {
			return f, true
		}
	}
	return domain.File{}, false
}

// hasName reports whether name already exists as either a folder or a file.
func (v FolderView) hasName(name string) bool {
	_, ok := v.FindFolder(name)
	if ok {
		return true
	}
	_, ok = v.FindFile(name)
	return ok
}

// AddSubfolder derives the child folder's key, records its directory entry
// in v.Data, and returns the child's logical path. The caller is responsible
// for creating the child folder itself (tree.Create) and saving v.
func (v *FolderView) AddSubfolder(master keys.MasterKey, name string) (childPath string, err error) {
	if v.hasName(name) {
		return "", fmt.Errorf("tree: add subfolder %q: %w", name, domain.ErrDuplicateName)
	}
	childPath = JoinPath(v.Path, name)
	childKey, err := keys.DeriveFolderKey(master, childPath)
	if err != nil {
		return "", fmt.Errorf("tree: derive subfolder key: %w", err)
	}
	v.Data.Folders = append(v.Data.Folders, domain.Folder{
		Name:   name,
		Handle: hex.EncodeToString(childKey.MetadataKey[:]),
	})
	v.Data.Modified = now()
	return childPath, nil
}

// AddFileVersion records version as the newest version of name, creating the
// File entry if this is the first time name is seen in the folder.
func AddFileVersion(data *domain.FolderMetaData, name string, version domain.FileVersion) {
	ts := now()
	for i := range data.Files {
		if data.Files[i].Name == name {
			data.Files[i].Versions = append([]domain.FileVersion{version}, data.Files[i].Versions...)
			data.Files[i].Modified = ts
			data.Modified = ts
			return
		}
	}
	data.Files = append(data.Files, domain.File{
		Name:     name,
		Created:  ts,
		Modified: ts,
		Versions: []domain.FileVersion{version},
	})
	data.Modified = ts
}

// RemoveEntry deletes the named folder or file directory entry from v.Data,
// without touching the broker. Returns domain.ErrNotFound if name is absent.
func (v *FolderView) RemoveEntry(name string) error {
	for i, f := range v.Data.Folders {
		if f.Name == name {
			v.Data.Folders = append(v.Data.Folders[:i], v.Data.Folders[i+1:]...)
			v.Data.Modified = now()
			return nil
		}
	}
	for i, f := range v.Data.Files {
		if f.Name == name {
			v.Data.Files = append(v.Data.Files[:i], v.Data.Files[i+1:]...)
			v.Data.Modified = now()
			return nil
		}
	}
	return fmt.Errorf("tree: remove %q: %w", name, domain.ErrNotFound)
}

// Rename changes a direct entry's name in place.
func (v *FolderView) Rename(oldName, newName string) error {
	if v.hasName(newName) {
		return fmt.Errorf("tree: rename to %q: %w", newName, domain.ErrDuplicateName)
	}
	for i, f := range v.Data.Folders {
		if f.Name == oldName {
			v.Data.Folders[i].Name = newName
			v.Data.Modified = now()
			return nil
		}
	}
	for i, f := range v.Data.Files {
		if f.Name == oldName {
			v.Data.Files[i].Name = newName
			v.Data.Modified = now()
			return nil
		}
	}
	return fmt.Errorf("tree: rename %q: %w", oldName, domain.ErrNotFound)
}

// CopyMetadata overwrites dst's Folders and Files with src's, matching the
// original implementation literally: this is an overwrite, not a merge, so
// any entries dst held that src does not are discarded.
func CopyMetadata(dst *domain.FolderMetaData, src domain.FolderMetaData) {
	dst.Folders = src.Folders
	dst.Files = src.Files
	dst.Modified = now()
}

// CloneSubtree recreates srcPath's folder and every descendant folder under
// dstPath. Folder keys are a pure function of (master, path), so each
// recreated folder lands at the same derived key a fresh Load of dstPath (or
// any of its descendants) will find; only the directory tree is rebuilt,
// file entries are carried over unchanged since a FileHandle does not
// depend on the path it is referenced from. Used by a folder rename or move,
// which — unlike a file rename/move — cannot just relocate a directory
// entry, because the folder's own metadata blob (and every descendant
// folder's) is addressed by its full path.
func CloneSubtree(ctx context.Context, client *broker.Client, master keys.MasterKey, srcPath, dstPath string) (FolderView, error) {
	srcView, err := Load(ctx, client, master, srcPath)
	if err != nil {
		return FolderView{}, err
	}
	dstView, _, err := Create(ctx, client, master, dstPath)
	if err != nil {
		return FolderView{}, err
	}

	dstView.Data.Files = srcView.Data.Files
	dstView.Data.Folders = make([]domain.Folder, 0, len(srcView.Data.Folders))
	for _, sub := range srcView.Data.Folders {
		childView, err := CloneSubtree(ctx, client, master, JoinPath(srcPath, sub.Name), JoinPath(dstPath, sub.Name))
		if err != nil {
			return FolderView{}, err
		}
		dstView.Data.Folders = append(dstView.Data.Folders, domain.Folder{
			Name:   sub.Name,
			Handle: hex.EncodeToString(childView.Key.MetadataKey[:]),
		})
	}
	dstView.Data.Modified = now()

	if err := dstView.Save(ctx, client); err != nil {
		return FolderView{}, err
	}
	return dstView, nil
}
