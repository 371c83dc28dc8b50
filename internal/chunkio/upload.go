package chunkio

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opacitylabs/vault/internal/broker"
	"github.com/opacitylabs/vault/internal/cryptox"
	"github.com/opacitylabs/vault/internal/domain"
)

// ProgressFunc is called after each part transfer completes, for an
// optional progress hub to broadcast to subscribed front ends. A nil
// ProgressFunc is a valid no-op.
type ProgressFunc func(op string, fileHandle string, partIndex, totalParts int)

// Uploader drives the chunked upload pipeline against one broker client.
type Uploader struct {
	client   *broker.Client
	logger   *slog.Logger
	progress ProgressFunc
}

// NewUploader builds an Uploader. progress may be nil.
func NewUploader(client *broker.Client, logger *slog.Logger, progress ProgressFunc) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{client: client, logger: logger.With(slog.String("component", "chunkio.upload")), progress: progress}
}

// Upload reads localPath, encrypts it in fixed-size blocks, and uploads
// it to the broker. A zero-byte file is rejected per spec.md S1: it
// returns uploaded=false with no broker calls at all.
func (u *Uploader) Upload(ctx context.Context, localPath string) (version domain.FileVersion, uploaded bool, err error) {
	f, err := os.Open(localPath)
	if err != nil {
		return domain.FileVersion{}, false, fmt.Errorf("%w: %v", domain.ErrInvalidPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return domain.FileVersion{}, false, fmt.Errorf("%w: %v", domain.ErrInvalidPath, err)
	}
	if info.IsDir() {
		return domain.FileVersion{}, false, fmt.Errorf("%w: %s is a directory", domain.ErrInvalidPath, localPath)
	}
	size := info.Size()
	if size == 0 {
		return domain.FileVersion{}, false, nil
	}

	var fileID, fileKey [32]byte
	if _, err := rand.Read(fileID[:]); err != nil {
		return domain.FileVersion{}, false, fmt.Errorf("chunkio: generate file id: %w", err)
	}
	if _, err := rand.Read(fileKey[:]); err != nil {
		return domain.FileVersion{}, false, fmt.Errorf("chunkio: generate file key: %w", err)
	}
	fileIDHex := hex.EncodeToString(fileID[:])

	uploadSize := UploadSize(size)
	endIndex := EndIndex(uploadSize)

	fileMeta := domain.FileMetaData{
		Name: filepath.Base(localPath),
		Size: size,
		Type: contentType(localPath),
		P:    domain.ChunkingGeometry{PartSize: PartSize, BlockSize: BlockSize},
	}
	metaJSON, err := json.Marshal(fileMeta)
	if err != nil {
		return domain.FileVersion{}, false, fmt.Errorf("chunkio: marshal file metadata: %w", err)
	}
	sealedMeta, err := cryptox.Seal(metaJSON, fileKey[:])
	if err != nil {
		return domain.FileVersion{}, false, fmt.Errorf("chunkio: seal file metadata: %w", err)
	}

	if err := u.client.InitUpload(ctx, fileIDHex, uploadSize, endIndex, sealedMeta); err != nil {
		return domain.FileVersion{}, false, fmt.Errorf("chunkio: init-upload: %w", err)
	}

	allIndexes := make([]int, endIndex)
	for i := range allIndexes {
		allIndexes[i] = i + 1
	}
	u.uploadParts(ctx, f, fileIDHex, endIndex, allIndexes, fileKey[:])

	for attempt := 0; attempt < MaxRetries; attempt++ {
		status, err := u.client.UploadStatus(ctx, fileIDHex)
		if err != nil {
			return domain.FileVersion{}, false, fmt.Errorf("chunkio: upload-status: %w", err)
		}
		if status.Status == domain.UploadStatusComplete {
			now := time.Now().UnixMilli()
			return domain.FileVersion{
				Size:     size,
				Handle:   fileIDHex + hex.EncodeToString(fileKey[:]),
				Created:  now,
				Modified: now,
			}, true, nil
		}
		if status.Status != domain.UploadStatusMissing {
			return domain.FileVersion{}, false, fmt.Errorf("chunkio: unexpected upload-status %q", status.Status)
		}
		u.uploadParts(ctx, f, fileIDHex, endIndex, status.MissingIndexes, fileKey[:])
	}

	return domain.FileVersion{}, false, fmt.Errorf("chunkio: %w", domain.ErrUploadIncomplete)
}

// uploadParts uploads the given 1-based part indexes with bounded
// parallelism. Per-part transport errors are swallowed here — the
// verification/retry loop in Upload is what enforces correctness
// (spec.md 4.5.1 step 5).
func (u *Uploader) uploadParts(ctx context.Context, f *os.File, fileIDHex string, endIndex int, indexes []int, fileKey []byte) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(UploadWorkers)

	for _, partIndex := range indexes {
		partIndex := partIndex
		g.Go(func() error {
			blob, err := sealPart(f, int64(partIndex-1)*PartSizePlain, fileKey)
			if err != nil {
				u.logger.WarnContext(gctx, "seal part failed", slog.Int("part", partIndex), slog.String("error", err.Error()))
				return nil
			}
			if err := u.client.Upload(gctx, fileIDHex, partIndex, endIndex, blob); err != nil {
				u.logger.WarnContext(gctx, "upload part failed", slog.Int("part", partIndex), slog.String("error", err.Error()))
				return nil
			}
			if u.progress != nil {
				u.progress("upload", fileIDHex, partIndex, endIndex)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// sealPart reads the plaintext window for one upload part starting at
// byteOffset, splits it into BlockSize blocks, seals each block
// independently with key, and concatenates the ciphertext.
func sealPart(f *os.File, byteOffset int64, key []byte) ([]byte, error) {
	window := make([]byte, PartSizePlain)
	n, err := f.ReadAt(window, byteOffset)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("chunkio: read plaintext window: %w", err)
	}
	window = window[:n]
	if len(window) == 0 {
		return nil, fmt.Errorf("chunkio: empty plaintext window at offset %d", byteOffset)
	}

	var out []byte
	for off := 0; off < len(window); off += int(BlockSize) {
		end := off + int(BlockSize)
		if end > len(window) {
			end = len(window)
		}
		sealed, err := cryptox.Seal(window[off:end], key)
		if err != nil {
			return nil, fmt.Errorf("chunkio: seal block: %w", err)
		}
		out = append(out, sealed...)
	}
	return out, nil
}

func contentType(path string) string {
	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}
