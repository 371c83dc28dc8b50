package session

import (
	"context"
	"encoding/hex"
	"fmt"
	"path/filepath"

	"github.com/opacitylabs/vault/internal/domain"
	"github.com/opacitylabs/vault/internal/tree"
)

// CreateFolder ensures path exists, creating every missing ancestor is NOT
// attempted — the immediate parent must already exist, matching spec.md
// section 6's single-level createFolder command. Returns created=false
// without error if path already names a folder.
func (s *Session) CreateFolder(ctx context.Context, absPath string) (created bool, err error) {
	if err := s.limiter.Wait(ctx, "broker"); err != nil {
		return false, fmt.Errorf("session: rate limit: %w", err)
	}

	parentPath, name, ok := splitParent(absPath)
	if !ok {
		// Root has no parent entry to update; only its own metadata blob is
		// created, and an existing root is loaded (created=false).
		_, created, err = tree.Create(ctx, s.client, s.master, "/")
		return created, err
	}

	parentView, err := tree.Load(ctx, s.client, s.master, parentPath)
	if err != nil {
		return false, fmt.Errorf("session: create folder: %w", err)
	}
	if _, ok := parentView.FindFolder(name); ok {
		return false, nil
	}
	if _, ok := parentView.FindFile(name); ok {
		return false, fmt.Errorf("session: create folder %q: %w", absPath, domain.ErrDuplicateName)
	}

	childPath, err := parentView.AddSubfolder(s.master, name)
	if err != nil {
		return false, fmt.Errorf("session: create folder: %w", err)
	}
	if _, _, err := tree.Create(ctx, s.client, s.master, childPath); err != nil {
		return false, fmt.Errorf("session: create folder: %w", err)
	}
	if err := parentView.Save(ctx, s.client); err != nil {
		return false, fmt.Errorf("session: create folder: %w", err)
	}

	logAudit(ctx, s.audit, s.logger, "create_folder", map[string]any{"path": absPath})
	s.notifyEvent(ctx, "create_folder", "Folder created", absPath)
	return true, nil
}

// Upload reads localPath and writes it into folder destPath under name. If
// name already exists in the destination, no upload is attempted and
// uploaded is returned false with a nil error (spec.md 4.5's duplicate-name
// skip). A zero-byte source file is rejected by the chunk pipeline itself.
func (s *Session) Upload(ctx context.Context, destPath, name, localPath string) (version domain.FileVersion, uploaded bool, err error) {
	if name == "" {
		name = filepath.Base(localPath)
	}

	destView, err := tree.Load(ctx, s.client, s.master, destPath)
	if err != nil {
		return domain.FileVersion{}, false, fmt.Errorf("session: upload: %w", err)
	}
	if _, ok := destView.FindFile(name); ok {
		return domain.FileVersion{}, false, nil
	}
	if _, ok := destView.FindFolder(name); ok {
		return domain.FileVersion{}, false, fmt.Errorf("session: upload %q: %w", name, domain.ErrDuplicateName)
	}

	if err := s.limiter.Wait(ctx, "broker"); err != nil {
		return domain.FileVersion{}, false, fmt.Errorf("session: rate limit: %w", err)
	}

	version, uploaded, err = s.uploader.Upload(ctx, localPath)
	if err != nil {
		s.notifyEvent(ctx, "error", "Upload failed", fmt.Sprintf("%s: %v", localPath, err))
		return domain.FileVersion{}, false, fmt.Errorf("session: upload: %w", err)
	}
	if !uploaded {
		return version, false, nil
	}

	tree.AddFileVersion(&destView.Data, name, version)
	if err := destView.Save(ctx, s.client); err != nil {
		return domain.FileVersion{}, false, fmt.Errorf("session: upload: save metadata: %w", err)
	}

	logAudit(ctx, s.audit, s.logger, "upload", map[string]any{
		"path": tree.JoinPath(destPath, name),
		"size": version.Size,
	})
	s.notifyEvent(ctx, "upload_complete", "Upload complete", tree.JoinPath(destPath, name))
	return version, true, nil
}

// Download fetches the file identified by handle (a 128-hex-character file
// handle, spec.md section 6) into destDir.
func (s *Session) Download(ctx context.Context, handle, destDir string) (domain.FileMetaData, error) {
	h, err := domain.ParseHandle(handle)
	if err != nil {
		return domain.FileMetaData{}, fmt.Errorf("session: download: %w", err)
	}
	fh, ok := h.(domain.FileHandle)
	if !ok {
		return domain.FileMetaData{}, fmt.Errorf("session: download: %w", domain.ErrInvalidHandle)
	}

	if err := s.limiter.Wait(ctx, "broker"); err != nil {
		return domain.FileMetaData{}, fmt.Errorf("session: rate limit: %w", err)
	}

	meta, err := s.downloader.Download(ctx, fh, destDir)
	if err != nil {
		s.notifyEvent(ctx, "error", "Download failed", fmt.Sprintf("%s: %v", handle, err))
		return domain.FileMetaData{}, fmt.Errorf("session: download: %w", err)
	}

	logAudit(ctx, s.audit, s.logger, "download", map[string]any{"handle": handle, "name": meta.Name})
	s.notifyEvent(ctx, "download_complete", "Download complete", meta.Name)
	return meta, nil
}

// Delete removes name from folderPath. isFolder selects a recursive folder
// delete (every descendant folder's metadata and every contained file's
// blobs) over a single file delete.
func (s *Session) Delete(ctx context.Context, folderPath, name string, isFolder bool) error {
	view, err := tree.Load(ctx, s.client, s.master, folderPath)
	if err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}

	if isFolder {
		if _, ok := view.FindFolder(name); !ok {
			return fmt.Errorf("session: delete %q: %w", name, domain.ErrNotFound)
		}
		childPath := tree.JoinPath(folderPath, name)
		if err := tree.DeleteFolder(ctx, s.client, s.master, childPath, true); err != nil {
			return fmt.Errorf("session: delete folder: %w", err)
		}
	} else {
		file, ok := view.FindFile(name)
		if !ok {
			return fmt.Errorf("session: delete %q: %w", name, domain.ErrNotFound)
		}
		if err := tree.DeleteFileVersions(ctx, s.client, file); err != nil {
			return fmt.Errorf("session: delete file: %w", err)
		}
	}

	if err := view.RemoveEntry(name); err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}
	if err := view.Save(ctx, s.client); err != nil {
		return fmt.Errorf("session: delete: save metadata: %w", err)
	}

	logAudit(ctx, s.audit, s.logger, "delete", map[string]any{
		"path":     tree.JoinPath(folderPath, name),
		"isFolder": isFolder,
	})
	s.notifyEvent(ctx, "delete", "Deleted", tree.JoinPath(folderPath, name))
	return nil
}

// Move relocates name from srcPath to destPath, optionally renaming it to
// newName (empty keeps the original name). Renaming in place is expressed
// as a move with srcPath == destPath.
//
// Files and folders are relocated differently: a file's handle is a random
// identifier independent of its path, so only its directory entry needs to
// move. A folder's metadata blob (and every descendant folder's) is
// addressed by a key derived from its full path, so moving one requires
// rebuilding the whole subtree at the new path (tree.CloneSubtree) before
// the old one is torn down.
func (s *Session) Move(ctx context.Context, srcPath, name, destPath, newName string) error {
	if err := s.limiter.Wait(ctx, "broker"); err != nil {
		return fmt.Errorf("session: rate limit: %w", err)
	}

	srcView, err := tree.Load(ctx, s.client, s.master, srcPath)
	if err != nil {
		return fmt.Errorf("session: move: %w", err)
	}

	if _, ok := srcView.FindFolder(name); ok {
		return s.moveFolder(ctx, srcView, srcPath, name, destPath, newName)
	}
	if _, ok := srcView.FindFile(name); ok {
		return s.moveFile(ctx, &srcView, srcPath, name, destPath, newName)
	}
	return fmt.Errorf("session: move %q: %w", name, domain.ErrNotFound)
}

func (s *Session) moveFile(ctx context.Context, srcView *tree.FolderView, srcPath, name, destPath, newName string) error {
	sameParent := destPath == srcPath

	dstView := srcView
	if !sameParent {
		loaded, err := tree.Load(ctx, s.client, s.master, destPath)
		if err != nil {
			return fmt.Errorf("session: move file: %w", err)
		}
		dstView = &loaded
	}

	if err := tree.Move(srcView, dstView, name, newName); err != nil {
		return fmt.Errorf("session: move file: %w", err)
	}

	if sameParent {
		// Same view mutated twice in place (entry removed, then re-added under
		// the new name) — a single save captures both changes.
		if err := srcView.Save(ctx, s.client); err != nil {
			return fmt.Errorf("session: move file: save: %w", err)
		}
	} else {
		// Persist the destination's new entry before removing the source's, so
		// a crash between the two leaves the file referenced twice rather than
		// not at all. Loading src and dst independently only when they differ
		// avoids one view's save clobbering the other's when they are in fact
		// the same folder.
		if err := dstView.Save(ctx, s.client); err != nil {
			return fmt.Errorf("session: move file: save destination: %w", err)
		}
		if err := srcView.Save(ctx, s.client); err != nil {
			return fmt.Errorf("session: move file: save source: %w", err)
		}
	}

	finalName := newName
	if finalName == "" {
		finalName = name
	} else {
		// Mirror tree.Move's extension-preserving rename so the audit
		// trail and notification reflect the name actually stored.
		finalName += filepath.Ext(name)
	}
	logAudit(ctx, s.audit, s.logger, "move", map[string]any{
		"from": tree.JoinPath(srcPath, name),
		"to":   tree.JoinPath(destPath, finalName),
	})
	s.notifyEvent(ctx, "move", "Moved", fmt.Sprintf("%s -> %s", tree.JoinPath(srcPath, name), tree.JoinPath(destPath, finalName)))
	return nil
}

func (s *Session) moveFolder(ctx context.Context, srcParentView tree.FolderView, srcParentPath, name, destPath, newName string) error {
	destName := newName
	if destName == "" {
		destName = name
	}

	srcChildPath := tree.JoinPath(srcParentPath, name)
	dstChildPath := tree.JoinPath(destPath, destName)
	sameParent := destPath == srcParentPath

	// A rename-in-place loads the parent once and mutates it twice; loading
	// it a second time independently (as the non-sameParent branch does)
	// would let whichever save runs last clobber the other's change, since
	// both copies start from the same pre-mutation snapshot.
	dstParentView := &srcParentView
	if !sameParent {
		loaded, err := tree.Load(ctx, s.client, s.master, destPath)
		if err != nil {
			return fmt.Errorf("session: move folder: load destination: %w", err)
		}
		dstParentView = &loaded
	}
	if _, ok := dstParentView.FindFolder(destName); ok && !(sameParent && destName == name) {
		return fmt.Errorf("session: move folder: %w", domain.ErrDuplicateName)
	}
	if _, ok := dstParentView.FindFile(destName); ok {
		return fmt.Errorf("session: move folder: %w", domain.ErrDuplicateName)
	}

	clonedView, err := tree.CloneSubtree(ctx, s.client, s.master, srcChildPath, dstChildPath)
	if err != nil {
		return fmt.Errorf("session: move folder: clone: %w", err)
	}

	dstParentView.Data.Folders = append(dstParentView.Data.Folders, domain.Folder{
		Name:   destName,
		Handle: hex.EncodeToString(clonedView.Key.MetadataKey[:]),
	})

	// Persist the new directory entry before the destructive delete below: if
	// the process dies in between, the folder is briefly reachable from both
	// parents (the old entry is still saved, untouched) rather than from
	// neither. In the sameParent case dstParentView and srcParentView alias
	// the same object, so this single save already carries the old entry too.
	if err := dstParentView.Save(ctx, s.client); err != nil {
		return fmt.Errorf("session: move folder: save destination: %w", err)
	}

	// The clone now owns every descendant's metadata; the original subtree's
	// folder blobs are orphaned structure, not referenced file data, so
	// deleteFiles=false leaves the (still-referenced) file blobs alone.
	if err := tree.DeleteFolder(ctx, s.client, s.master, srcChildPath, false); err != nil {
		return fmt.Errorf("session: move folder: delete source subtree: %w", err)
	}

	if err := srcParentView.RemoveEntry(name); err != nil {
		return fmt.Errorf("session: move folder: %w", err)
	}
	if err := srcParentView.Save(ctx, s.client); err != nil {
		return fmt.Errorf("session: move folder: save source: %w", err)
	}

	logAudit(ctx, s.audit, s.logger, "move", map[string]any{
		"from":     srcChildPath,
		"to":       dstChildPath,
		"isFolder": true,
	})
	s.notifyEvent(ctx, "move", "Moved", fmt.Sprintf("%s -> %s", srcChildPath, dstChildPath))
	return nil
}

// Rename is a Move within the same parent folder.
func (s *Session) Rename(ctx context.Context, folderPath, oldName, newName string) error {
	return s.Move(ctx, folderPath, oldName, folderPath, newName)
}

// GetFolderData loads and returns a folder's directory listing (spec.md
// section 6's dir command).
func (s *Session) GetFolderData(ctx context.Context, absPath string) (domain.FolderMetaData, error) {
	if err := s.limiter.Wait(ctx, "broker"); err != nil {
		return domain.FolderMetaData{}, fmt.Errorf("session: rate limit: %w", err)
	}
	view, err := tree.Load(ctx, s.client, s.master, absPath)
	if err != nil {
		return domain.FolderMetaData{}, fmt.Errorf("session: dir: %w", err)
	}
	return view.Data, nil
}

// ListFolder loads absPath and renders its direct entries as a flat,
// display-ready listing: the C7 read operation original_source exposes
// separately from getFolderData as showFiles, rather than leaving the
// rendering as a CLI-side formatting detail.
func (s *Session) ListFolder(ctx context.Context, absPath string) ([]tree.ListEntry, error) {
	data, err := s.GetFolderData(ctx, absPath)
	if err != nil {
		return nil, fmt.Errorf("session: list folder: %w", err)
	}
	return tree.List(data), nil
}
