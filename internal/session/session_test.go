package session

import (
	"crypto/rand"
	"encoding/hex"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/opacitylabs/vault/internal/broker/brokerstub"
	"github.com/opacitylabs/vault/internal/config"
	"github.com/opacitylabs/vault/internal/domain"
)

func testHandle(t *testing.T) string {
	t.Helper()
	raw := make([]byte, 64)
	if _, err := rand.Read(raw); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return hex.EncodeToString(raw)
}

func testSession(t *testing.T) *Session {
	t.Helper()
	srv := httptest.NewServer(brokerstub.NewInMemoryServer())
	t.Cleanup(srv.Close)

	cfg := &config.Config{}
	cfg.Broker.BaseURL = srv.URL + "/"

	s, err := New(t.Context(), cfg, testHandle(t), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	// The stub starts as a never-used account with no root metadata blob.
	if _, err := s.CreateFolder(t.Context(), "/"); err != nil {
		t.Fatalf("CreateFolder(/): %v", err)
	}
	return s
}

func writeTempFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return p
}

func TestCreateFolderThenListInParent(t *testing.T) {
	s := testSession(t)
	ctx := t.Context()

	created, err := s.CreateFolder(ctx, "/docs")
	if err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	if !created {
		t.Fatalf("CreateFolder: want created=true")
	}

	data, err := s.GetFolderData(ctx, "/")
	if err != nil {
		t.Fatalf("GetFolderData: %v", err)
	}
	if len(data.Folders) != 1 || data.Folders[0].Name != "docs" {
		t.Fatalf("root folders = %+v, want one 'docs' entry", data.Folders)
	}

	created, err = s.CreateFolder(ctx, "/docs")
	if err != nil {
		t.Fatalf("CreateFolder (idempotent): %v", err)
	}
	if created {
		t.Errorf("CreateFolder: want created=false on second call")
	}
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	s := testSession(t)
	ctx := t.Context()
	dir := t.TempDir()

	localPath := writeTempFile(t, dir, "report.txt", 4096)

	version, uploaded, err := s.Upload(ctx, "/", "report.txt", localPath)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !uploaded {
		t.Fatalf("Upload: want uploaded=true")
	}

	destDir := t.TempDir()
	meta, err := s.Download(ctx, version.Handle, destDir)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if meta.Size != version.Size {
		t.Errorf("downloaded size = %d, want %d", meta.Size, version.Size)
	}

	data, err := s.GetFolderData(ctx, "/")
	if err != nil {
		t.Fatalf("GetFolderData: %v", err)
	}
	if len(data.Files) != 1 || data.Files[0].Name != "report.txt" {
		t.Fatalf("root files = %+v, want one report.txt entry", data.Files)
	}
}

func TestUploadDuplicateNameSkipsCleanly(t *testing.T) {
	s := testSession(t)
	ctx := t.Context()
	dir := t.TempDir()

	localPath := writeTempFile(t, dir, "a.bin", 1024)
	if _, uploaded, err := s.Upload(ctx, "/", "a.bin", localPath); err != nil || !uploaded {
		t.Fatalf("first upload: uploaded=%v err=%v", uploaded, err)
	}

	_, uploaded, err := s.Upload(ctx, "/", "a.bin", localPath)
	if err != nil {
		t.Fatalf("second upload: want nil error, got %v", err)
	}
	if uploaded {
		t.Errorf("second upload: want uploaded=false for duplicate name")
	}
}

func TestDeleteFile(t *testing.T) {
	s := testSession(t)
	ctx := t.Context()
	dir := t.TempDir()

	localPath := writeTempFile(t, dir, "gone.bin", 2048)
	if _, _, err := s.Upload(ctx, "/", "gone.bin", localPath); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if err := s.Delete(ctx, "/", "gone.bin", false); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	data, err := s.GetFolderData(ctx, "/")
	if err != nil {
		t.Fatalf("GetFolderData: %v", err)
	}
	if len(data.Files) != 0 {
		t.Errorf("root files = %+v, want none after delete", data.Files)
	}
}

func TestMoveFileBetweenFolders(t *testing.T) {
	s := testSession(t)
	ctx := t.Context()
	dir := t.TempDir()

	if _, err := s.CreateFolder(ctx, "/src"); err != nil {
		t.Fatalf("CreateFolder /src: %v", err)
	}
	if _, err := s.CreateFolder(ctx, "/dst"); err != nil {
		t.Fatalf("CreateFolder /dst: %v", err)
	}

	localPath := writeTempFile(t, dir, "note.txt", 512)
	if _, _, err := s.Upload(ctx, "/src", "note.txt", localPath); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if err := s.Move(ctx, "/src", "note.txt", "/dst", ""); err != nil {
		t.Fatalf("Move: %v", err)
	}

	srcData, err := s.GetFolderData(ctx, "/src")
	if err != nil {
		t.Fatalf("GetFolderData /src: %v", err)
	}
	if len(srcData.Files) != 0 {
		t.Errorf("/src files = %+v, want none after move", srcData.Files)
	}

	dstData, err := s.GetFolderData(ctx, "/dst")
	if err != nil {
		t.Fatalf("GetFolderData /dst: %v", err)
	}
	if len(dstData.Files) != 1 || dstData.Files[0].Name != "note.txt" {
		t.Fatalf("/dst files = %+v, want one note.txt entry", dstData.Files)
	}
}

func TestMoveFolderRelocatesDescendants(t *testing.T) {
	s := testSession(t)
	ctx := t.Context()
	dir := t.TempDir()

	if _, err := s.CreateFolder(ctx, "/project"); err != nil {
		t.Fatalf("CreateFolder /project: %v", err)
	}
	if _, err := s.CreateFolder(ctx, "/project/nested"); err != nil {
		t.Fatalf("CreateFolder /project/nested: %v", err)
	}
	localPath := writeTempFile(t, dir, "deep.txt", 256)
	if _, _, err := s.Upload(ctx, "/project/nested", "deep.txt", localPath); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if _, err := s.CreateFolder(ctx, "/archive"); err != nil {
		t.Fatalf("CreateFolder /archive: %v", err)
	}

	if err := s.Move(ctx, "/", "project", "/archive", "old-project"); err != nil {
		t.Fatalf("Move folder: %v", err)
	}

	if _, err := s.GetFolderData(ctx, "/project"); err == nil {
		t.Errorf("GetFolderData /project: want error after move, folder should no longer exist at old path")
	}

	relocated, err := s.GetFolderData(ctx, "/archive/old-project/nested")
	if err != nil {
		t.Fatalf("GetFolderData /archive/old-project/nested: %v", err)
	}
	if len(relocated.Files) != 1 || relocated.Files[0].Name != "deep.txt" {
		t.Fatalf("relocated nested files = %+v, want one deep.txt entry", relocated.Files)
	}

	root, err := s.GetFolderData(ctx, "/")
	if err != nil {
		t.Fatalf("GetFolderData /: %v", err)
	}
	for _, f := range root.Folders {
		if f.Name == "project" {
			t.Errorf("root still lists 'project' after move")
		}
	}
}

func TestRenameFolderInPlace(t *testing.T) {
	s := testSession(t)
	ctx := t.Context()

	if _, err := s.CreateFolder(ctx, "/alpha"); err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	if err := s.Rename(ctx, "/", "alpha", "beta"); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	if _, err := s.GetFolderData(ctx, "/beta"); err != nil {
		t.Fatalf("GetFolderData /beta: %v", err)
	}
	if _, err := s.GetFolderData(ctx, "/alpha"); err == nil {
		t.Errorf("GetFolderData /alpha: want error after rename")
	}
}

func TestRenameFilePreservesExtension(t *testing.T) {
	s := testSession(t)
	ctx := t.Context()
	dir := t.TempDir()

	localPath := writeTempFile(t, dir, "report.final.pdf", 128)
	if _, _, err := s.Upload(ctx, "/", "report.final.pdf", localPath); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if err := s.Rename(ctx, "/", "report.final.pdf", "draft"); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	data, err := s.GetFolderData(ctx, "/")
	if err != nil {
		t.Fatalf("GetFolderData: %v", err)
	}
	if len(data.Files) != 1 || data.Files[0].Name != "draft.pdf" {
		t.Fatalf("root files = %+v, want one draft.pdf entry", data.Files)
	}
}

func TestUploadFolderDownloadFolderRoundTrip(t *testing.T) {
	s := testSession(t)
	ctx := t.Context()
	dir := t.TempDir()

	localRoot := filepath.Join(dir, "project")
	if err := os.MkdirAll(filepath.Join(localRoot, "nested"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	writeTempFile(t, localRoot, "top.txt", 64)
	writeTempFile(t, filepath.Join(localRoot, "nested"), "deep.txt", 32)

	if err := s.UploadFolder(ctx, "/", localRoot); err != nil {
		t.Fatalf("UploadFolder: %v", err)
	}

	rootData, err := s.GetFolderData(ctx, "/project")
	if err != nil {
		t.Fatalf("GetFolderData /project: %v", err)
	}
	if len(rootData.Files) != 1 || rootData.Files[0].Name != "top.txt" {
		t.Fatalf("/project files = %+v, want one top.txt entry", rootData.Files)
	}
	if len(rootData.Folders) != 1 || rootData.Folders[0].Name != "nested" {
		t.Fatalf("/project folders = %+v, want one nested entry", rootData.Folders)
	}

	nestedData, err := s.GetFolderData(ctx, "/project/nested")
	if err != nil {
		t.Fatalf("GetFolderData /project/nested: %v", err)
	}
	if len(nestedData.Files) != 1 || nestedData.Files[0].Name != "deep.txt" {
		t.Fatalf("/project/nested files = %+v, want one deep.txt entry", nestedData.Files)
	}

	destDir := t.TempDir()
	if err := s.DownloadFolder(ctx, "/project", destDir); err != nil {
		t.Fatalf("DownloadFolder: %v", err)
	}
	if _, err := os.Stat(filepath.Join(destDir, "project", "top.txt")); err != nil {
		t.Errorf("downloaded top.txt missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(destDir, "project", "nested", "deep.txt")); err != nil {
		t.Errorf("downloaded nested/deep.txt missing: %v", err)
	}
}

func TestListFolderRendersFoldersAndFiles(t *testing.T) {
	s := testSession(t)
	ctx := t.Context()
	dir := t.TempDir()

	if _, err := s.CreateFolder(ctx, "/docs"); err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	localPath := writeTempFile(t, dir, "a.bin", 1024)
	if _, _, err := s.Upload(ctx, "/", "a.bin", localPath); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	entries, err := s.ListFolder(ctx, "/")
	if err != nil {
		t.Fatalf("ListFolder: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ListFolder entries = %+v, want 2", entries)
	}
	var sawFolder, sawFile bool
	for _, e := range entries {
		switch {
		case e.IsFolder && e.Name == "docs":
			sawFolder = true
		case !e.IsFolder && e.Name == "a.bin":
			sawFile = true
			if e.Size != 1024 {
				t.Errorf("a.bin size = %d, want 1024", e.Size)
			}
		}
	}
	if !sawFolder || !sawFile {
		t.Fatalf("ListFolder entries = %+v, want one docs folder and one a.bin file", entries)
	}
}

func TestDownloadRejectsFolderHandle(t *testing.T) {
	s := testSession(t)
	ctx := t.Context()

	// A folder handle is 32 raw bytes (64 hex chars); ParseHandle must route
	// it away from Download, which only accepts file handles.
	var raw [32]byte
	folderHandle := hex.EncodeToString(raw[:])
	if h, err := domain.ParseHandle(folderHandle); err != nil {
		t.Fatalf("ParseHandle: %v", err)
	} else if _, ok := h.(domain.FolderHandle); !ok {
		t.Fatalf("expected folder handle discriminant for 64 hex chars")
	}

	if _, err := s.Download(ctx, folderHandle, t.TempDir()); err == nil {
		t.Errorf("Download: want error for a folder handle")
	}
}
