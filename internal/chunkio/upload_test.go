package chunkio

import (
	"encoding/hex"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/opacitylabs/vault/internal/broker"
	"github.com/opacitylabs/vault/internal/broker/brokerstub"
	"github.com/opacitylabs/vault/internal/keys"
	"github.com/opacitylabs/vault/internal/reqsign"
)

func testClient(t *testing.T) *broker.Client {
	t.Helper()
	srv := httptest.NewServer(brokerstub.NewInMemoryServer())
	t.Cleanup(srv.Close)

	raw := make([]byte, 64)
	for i := range raw {
		raw[i] = byte(i)
	}
	master, err := keys.ParseAccountHandle(hex.EncodeToString(raw))
	if err != nil {
		t.Fatalf("ParseAccountHandle: %v", err)
	}
	signer, err := reqsign.New(master)
	if err != nil {
		t.Fatalf("reqsign.New: %v", err)
	}
	return broker.New(srv.URL+"/", signer, nil)
}

func writeTempFile(t *testing.T, size int) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.bin")
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestUploadZeroByteFileRejected(t *testing.T) {
	client := testClient(t)
	u := NewUploader(client, nil, nil)

	path := filepath.Join(t.TempDir(), "empty.bin")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("write empty file: %v", err)
	}

	_, uploaded, err := u.Upload(t.Context(), path)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if uploaded {
		t.Fatalf("Upload: want uploaded=false for a zero-byte file")
	}
}

func TestUploadSinglePartRoundTrip(t *testing.T) {
	client := testClient(t)
	u := NewUploader(client, nil, nil)

	path := writeTempFile(t, 128*1024)
	version, uploaded, err := u.Upload(t.Context(), path)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !uploaded {
		t.Fatalf("Upload: want uploaded=true")
	}
	if version.Size != 128*1024 {
		t.Errorf("version.Size = %d, want %d", version.Size, 128*1024)
	}
	if len(version.Handle) != 128 {
		t.Errorf("version.Handle length = %d, want 128 (64 hex fileID + 64 hex fileKey)", len(version.Handle))
	}
}

func TestUploadMultiPartRoundTrip(t *testing.T) {
	client := testClient(t)
	u := NewUploader(client, nil, nil)

	// Two full parts plus a partial third, exercising PartSize boundaries.
	size := int(PartSizePlain)*2 + 1024
	path := writeTempFile(t, size)
	version, uploaded, err := u.Upload(t.Context(), path)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !uploaded {
		t.Fatalf("Upload: want uploaded=true")
	}
	if version.Size != int64(size) {
		t.Errorf("version.Size = %d, want %d", version.Size, size)
	}
}
