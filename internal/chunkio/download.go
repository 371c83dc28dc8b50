package chunkio

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/opacitylabs/vault/internal/broker"
	"github.com/opacitylabs/vault/internal/cryptox"
	"github.com/opacitylabs/vault/internal/domain"
)

// Downloader drives the chunked download pipeline against one broker client.
type Downloader struct {
	client   *broker.Client
	logger   *slog.Logger
	progress ProgressFunc
}

// NewDownloader builds a Downloader. progress may be nil.
func NewDownloader(client *broker.Client, logger *slog.Logger, progress ProgressFunc) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{client: client, logger: logger.With(slog.String("component", "chunkio.download")), progress: progress}
}

// Download resolves handle, fetches and decrypts the file's metadata, pulls
// every ciphertext part with bounded parallelism, and reassembles the
// plaintext into destDir/<name>. It returns the recovered metadata.
func (d *Downloader) Download(ctx context.Context, handle domain.FileHandle, destDir string) (domain.FileMetaData, error) {
	fileIDHex := hex.EncodeToString(handle.FileID[:])
	fileKey := handle.FileKey[:]

	downloadURL, err := d.client.Download(ctx, fileIDHex)
	if err != nil {
		return domain.FileMetaData{}, fmt.Errorf("chunkio: %w", err)
	}

	sealedMeta, err := d.client.GetMetadataBlob(ctx, downloadURL)
	if err != nil {
		return domain.FileMetaData{}, fmt.Errorf("chunkio: %w", err)
	}
	metaJSON, err := cryptox.Open(sealedMeta, fileKey)
	if err != nil {
		return domain.FileMetaData{}, fmt.Errorf("chunkio: decrypt file metadata: %w: %w", domain.ErrDownloadCorrupt, err)
	}
	var meta domain.FileMetaData
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return domain.FileMetaData{}, fmt.Errorf("chunkio: decode file metadata: %w", err)
	}

	uploadSize := UploadSize(meta.Size)
	endIndex := EndIndex(uploadSize)

	tmpDir := filepath.Join(destDir, "tmp", filepath.Base(meta.Name))
	if err := os.MkdirAll(tmpDir, 0o700); err != nil {
		return domain.FileMetaData{}, fmt.Errorf("chunkio: create temp dir: %w", err)
	}
	defer cleanupTempDir(tmpDir)

	if err := d.downloadParts(ctx, downloadURL, tmpDir, endIndex, uploadSize); err != nil {
		return domain.FileMetaData{}, err
	}

	destPath := filepath.Join(destDir, meta.Name)
	if err := reassemble(tmpDir, destPath, endIndex, meta.Size, fileKey); err != nil {
		return domain.FileMetaData{}, err
	}

	return meta, nil
}

// downloadParts fetches 1-based ciphertext parts [1, endIndex] with bounded
// parallelism, writing each to tmpDir/<index>.part.
func (d *Downloader) downloadParts(ctx context.Context, downloadURL, tmpDir string, endIndex int, uploadSize int64) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(DownloadWorkers)

	for partIndex := 1; partIndex <= endIndex; partIndex++ {
		partIndex := partIndex
		from := int64(partIndex-1) * PartSize
		to := from + PartSize - 1
		if to >= uploadSize {
			to = uploadSize - 1
		}
		g.Go(func() error {
			blob, err := d.client.GetFileRange(gctx, downloadURL, from, to)
			if err != nil {
				return fmt.Errorf("chunkio: download part %d: %w", partIndex, err)
			}
			partPath := filepath.Join(tmpDir, fmt.Sprintf("%d.part", partIndex))
			if err := os.WriteFile(partPath, blob, 0o600); err != nil {
				return fmt.Errorf("chunkio: write part %d: %w", partIndex, err)
			}
			if d.progress != nil {
				d.progress("download", downloadURL, partIndex, endIndex)
			}
			return nil
		})
	}
	return g.Wait()
}

// reassemble opens every sealed block across the downloaded part files, in
// order, and writes the decrypted plaintext to destPath. A block that fails
// authentication anywhere in the stream is reported as domain.ErrDownloadCorrupt.
func reassemble(tmpDir, destPath string, endIndex int, plainSize int64, fileKey []byte) (err error) {
	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("chunkio: create output file: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	var written int64
	var carry []byte

	for partIndex := 1; partIndex <= endIndex; partIndex++ {
		partPath := filepath.Join(tmpDir, fmt.Sprintf("%d.part", partIndex))
		partData, rerr := os.ReadFile(partPath)
		if rerr != nil {
			return fmt.Errorf("chunkio: read part %d: %w", partIndex, rerr)
		}
		buf := append(carry, partData...)
		carry = nil

		off := 0
		for off+int(CipherBlockSize) <= len(buf) {
			block := buf[off : off+int(CipherBlockSize)]
			plain, oerr := cryptox.Open(block, fileKey)
			if oerr != nil {
				return fmt.Errorf("chunkio: open block at part %d offset %d: %w", partIndex, off, domain.ErrDownloadCorrupt)
			}
			n := int64(len(plain))
			if written+n > plainSize {
				n = plainSize - written
			}
			if _, werr := out.Write(plain[:n]); werr != nil {
				return fmt.Errorf("chunkio: write plaintext: %w", werr)
			}
			written += n
			off += int(CipherBlockSize)
		}
		if partIndex < endIndex {
			carry = append(carry, buf[off:]...)
		} else if off < len(buf) {
			// final partial block on the last part: decrypt whatever remains.
			block := buf[off:]
			plain, oerr := cryptox.Open(block, fileKey)
			if oerr != nil {
				return fmt.Errorf("chunkio: open final block: %w", domain.ErrDownloadCorrupt)
			}
			n := int64(len(plain))
			if written+n > plainSize {
				n = plainSize - written
			}
			if _, werr := out.Write(plain[:n]); werr != nil {
				return fmt.Errorf("chunkio: write plaintext: %w", werr)
			}
			written += n
		}
	}

	if written != plainSize {
		return fmt.Errorf("chunkio: reassembled %d bytes, want %d: %w", written, plainSize, domain.ErrDownloadCorrupt)
	}
	return nil
}

func cleanupTempDir(tmpDir string) {
	_ = os.RemoveAll(tmpDir)
	parent := filepath.Dir(tmpDir)
	if entries, err := os.ReadDir(parent); err == nil && len(entries) == 0 {
		_ = os.Remove(parent)
	}
}
