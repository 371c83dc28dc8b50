package chunkio

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/opacitylabs/vault/internal/domain"
)

func parseHandle(t *testing.T, handle string) domain.FileHandle {
	t.Helper()
	h, err := domain.ParseHandle(handle)
	if err != nil {
		t.Fatalf("ParseHandle: %v", err)
	}
	fh, ok := h.(domain.FileHandle)
	if !ok {
		t.Fatalf("ParseHandle: got %T, want domain.FileHandle", h)
	}
	return fh
}

func TestDownloadRoundTripSinglePart(t *testing.T) {
	client := testClient(t)
	u := NewUploader(client, nil, nil)

	srcPath := writeTempFile(t, 200*1024)
	want, err := os.ReadFile(srcPath)
	if err != nil {
		t.Fatalf("read src: %v", err)
	}

	version, uploaded, err := u.Upload(t.Context(), srcPath)
	if err != nil || !uploaded {
		t.Fatalf("Upload: uploaded=%v err=%v", uploaded, err)
	}

	d := NewDownloader(client, nil, nil)
	destDir := t.TempDir()
	meta, err := d.Download(t.Context(), parseHandle(t, version.Handle), destDir)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if meta.Size != version.Size {
		t.Errorf("meta.Size = %d, want %d", meta.Size, version.Size)
	}

	got, err := os.ReadFile(filepath.Join(destDir, meta.Name))
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("downloaded content mismatch: got %d bytes, want %d bytes", len(got), len(want))
	}
}

func TestDownloadRoundTripMultiPart(t *testing.T) {
	client := testClient(t)
	u := NewUploader(client, nil, nil)

	size := int(PartSizePlain)*2 + 1024
	srcPath := writeTempFile(t, size)
	want, err := os.ReadFile(srcPath)
	if err != nil {
		t.Fatalf("read src: %v", err)
	}

	version, uploaded, err := u.Upload(t.Context(), srcPath)
	if err != nil || !uploaded {
		t.Fatalf("Upload: uploaded=%v err=%v", uploaded, err)
	}

	d := NewDownloader(client, nil, nil)
	destDir := t.TempDir()
	meta, err := d.Download(t.Context(), parseHandle(t, version.Handle), destDir)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(destDir, meta.Name))
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("downloaded content mismatch: got %d bytes, want %d bytes", len(got), len(want))
	}
}

func TestDownloadWrongKeyFailsCorrupt(t *testing.T) {
	client := testClient(t)
	u := NewUploader(client, nil, nil)

	srcPath := writeTempFile(t, 50*1024)
	version, uploaded, err := u.Upload(t.Context(), srcPath)
	if err != nil || !uploaded {
		t.Fatalf("Upload: uploaded=%v err=%v", uploaded, err)
	}

	handle := parseHandle(t, version.Handle)
	handle.FileKey[0] ^= 0xff // corrupt the key

	d := NewDownloader(client, nil, nil)
	if _, err := d.Download(t.Context(), handle, t.TempDir()); !errors.Is(err, domain.ErrDownloadCorrupt) {
		t.Fatalf("Download: err = %v, want ErrDownloadCorrupt with a corrupted key", err)
	}
}

func TestDownloadCleansUpTempDir(t *testing.T) {
	client := testClient(t)
	u := NewUploader(client, nil, nil)

	srcPath := writeTempFile(t, 10*1024)
	version, uploaded, err := u.Upload(t.Context(), srcPath)
	if err != nil || !uploaded {
		t.Fatalf("Upload: uploaded=%v err=%v", uploaded, err)
	}

	d := NewDownloader(client, nil, nil)
	destDir := t.TempDir()
	if _, err := d.Download(t.Context(), parseHandle(t, version.Handle), destDir); err != nil {
		t.Fatalf("Download: %v", err)
	}

	if _, err := os.Stat(filepath.Join(destDir, "tmp")); !os.IsNotExist(err) {
		t.Errorf("expected tmp dir to be cleaned up, stat err = %v", err)
	}
}
