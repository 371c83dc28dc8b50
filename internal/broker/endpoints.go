package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/opacitylabs/vault/internal/domain"
)

type timestampBody struct {
	Timestamp int64 `json:"timestamp"`
}

func now() int64 { return time.Now().UnixMilli() }

// AccountData verifies the account handle against the broker. A 404
// response is mapped to domain.ErrInvalidHandle, which is fatal to the
// session (spec.md 4.9).
func (c *Client) AccountData(ctx context.Context) (domain.AccountStatus, error) {
	raw, status, err := c.doJSON(ctx, "account-data", timestampBody{Timestamp: now()})
	if err != nil {
		return domain.AccountStatus{}, fmt.Errorf("broker: account-data: %w", err)
	}
	if status == http.StatusNotFound {
		return domain.AccountStatus{}, fmt.Errorf("broker: account-data: %w", domain.ErrInvalidHandle)
	}
	if err := mapStatus(status, raw); err != nil {
		return domain.AccountStatus{}, fmt.Errorf("broker: account-data: %w", err)
	}
	var out domain.AccountStatus
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.AccountStatus{}, fmt.Errorf("broker: account-data: decode: %w", err)
	}
	return out, nil
}

type initUploadBody struct {
	FileHandle     string `json:"fileHandle"`
	FileSizeInByte int64  `json:"fileSizeInByte"`
	EndIndex       int    `json:"endIndex"`
}

// InitUpload announces a new file upload and carries the sealed
// per-file metadata blob.
func (c *Client) InitUpload(ctx context.Context, fileHandleHex string, fileSizeInByte int64, endIndex int, sealedMetadata []byte) error {
	body := initUploadBody{FileHandle: fileHandleHex, FileSizeInByte: fileSizeInByte, EndIndex: endIndex}
	raw, status, err := c.doMultipart(ctx, "init-upload", body, multipartPart{FieldName: "metadata", Data: sealedMetadata})
	if err != nil {
		return fmt.Errorf("broker: init-upload: %w", err)
	}
	return mapStatus(status, raw)
}

type uploadBody struct {
	FileHandle string `json:"fileHandle"`
	PartIndex  int    `json:"partIndex"`
	EndIndex   int    `json:"endIndex"`
}

// Upload sends one encrypted part. partIndex is 1-based on the wire.
func (c *Client) Upload(ctx context.Context, fileHandleHex string, partIndex, endIndex int, chunkData []byte) error {
	body := uploadBody{FileHandle: fileHandleHex, PartIndex: partIndex, EndIndex: endIndex}
	raw, status, err := c.doMultipart(ctx, "upload", body, multipartPart{FieldName: "chunkData", Data: chunkData})
	if err != nil {
		return fmt.Errorf("broker: upload: %w", err)
	}
	return mapStatus(status, raw)
}

type fileHandleBody struct {
	FileHandle string `json:"fileHandle"`
}

// UploadStatus reports whether a file has finished uploading, and if
// not, which 1-based part indexes are missing.
func (c *Client) UploadStatus(ctx context.Context, fileHandleHex string) (domain.UploadStatus, error) {
	raw, status, err := c.doJSON(ctx, "upload-status", fileHandleBody{FileHandle: fileHandleHex})
	if err != nil {
		return domain.UploadStatus{}, fmt.Errorf("broker: upload-status: %w", err)
	}
	if err := mapStatus(status, raw); err != nil {
		return domain.UploadStatus{}, fmt.Errorf("broker: upload-status: %w", err)
	}
	var out domain.UploadStatus
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.UploadStatus{}, fmt.Errorf("broker: upload-status: decode: %w", err)
	}
	return out, nil
}

type fileIDBody struct {
	FileID string `json:"fileID"`
}

// Download resolves a file id to a signed, time-limited download URL.
// This call is unsigned per spec.md 4.4.
func (c *Client) Download(ctx context.Context, fileIDHex string) (string, error) {
	raw, status, err := c.doUnsigned(ctx, "download", fileIDBody{FileID: fileIDHex})
	if err != nil {
		return "", fmt.Errorf("broker: download: %w", err)
	}
	if err := mapStatus(status, raw); err != nil {
		return "", fmt.Errorf("broker: download: %w", err)
	}
	var out struct {
		FileDownloadURL string `json:"fileDownloadUrl"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("broker: download: decode: %w", err)
	}
	return out.FileDownloadURL, nil
}

// GetMetadataBlob fetches the sealed metadata blob for a file's download
// URL.
func (c *Client) GetMetadataBlob(ctx context.Context, fileDownloadURL string) ([]byte, error) {
	raw, status, err := c.GetURL(ctx, "", fileDownloadURL+"/metadata")
	if err != nil {
		return nil, fmt.Errorf("broker: get metadata: %w", err)
	}
	if err := mapStatus(status, raw); err != nil {
		return nil, fmt.Errorf("broker: get metadata: %w", err)
	}
	return raw, nil
}

// GetFileRange fetches a ciphertext byte range for a file's download URL.
func (c *Client) GetFileRange(ctx context.Context, fileDownloadURL string, byteFrom, byteTo int64) ([]byte, error) {
	rangeHeader := fmt.Sprintf("bytes=%d-%d", byteFrom, byteTo)
	raw, status, err := c.GetURL(ctx, rangeHeader, fileDownloadURL+"/file")
	if err != nil {
		return nil, fmt.Errorf("broker: get file range: %w", err)
	}
	if status != http.StatusOK && status != http.StatusPartialContent {
		return nil, fmt.Errorf("broker: get file range: %w", mapStatus(status, raw))
	}
	return raw, nil
}

type metadataKeyBody struct {
	Timestamp   int64  `json:"timestamp"`
	MetadataKey string `json:"metadataKey"`
}

// MetadataCreate creates a folder's metadata blob placeholder. If the
// blob already exists the broker returns 403; this is not an error, the
// caller receives created=false and must not touch the parent (spec.md
// 4.7).
func (c *Client) MetadataCreate(ctx context.Context, metadataKeyHex string) (created bool, err error) {
	raw, status, err := c.doJSON(ctx, "metadata/create", metadataKeyBody{Timestamp: now(), MetadataKey: metadataKeyHex})
	if err != nil {
		return false, fmt.Errorf("broker: metadata/create: %w", err)
	}
	if status == http.StatusForbidden {
		return false, nil
	}
	if err := mapStatus(status, raw); err != nil {
		return false, fmt.Errorf("broker: metadata/create: %w", err)
	}
	return true, nil
}

// MetadataGet fetches and base64-decodes a folder's sealed metadata blob.
func (c *Client) MetadataGet(ctx context.Context, metadataKeyHex string) ([]byte, error) {
	raw, status, err := c.doJSON(ctx, "metadata/get", metadataKeyBody{Timestamp: now(), MetadataKey: metadataKeyHex})
	if err != nil {
		return nil, fmt.Errorf("broker: metadata/get: %w", err)
	}
	if err := mapStatus(status, raw); err != nil {
		return nil, fmt.Errorf("broker: metadata/get: %w", err)
	}
	var out struct {
		Metadata string `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("broker: metadata/get: decode: %w", err)
	}
	blob, err := base64Decode(out.Metadata)
	if err != nil {
		return nil, fmt.Errorf("broker: metadata/get: base64: %w", err)
	}
	return blob, nil
}

type metadataSetBody struct {
	Timestamp   int64  `json:"timestamp"`
	MetadataKey string `json:"metadataKey"`
	Metadata    string `json:"metadata"`
}

// MetadataSet replaces a folder's sealed metadata blob.
func (c *Client) MetadataSet(ctx context.Context, metadataKeyHex string, sealedMetadata []byte) error {
	body := metadataSetBody{Timestamp: now(), MetadataKey: metadataKeyHex, Metadata: base64Encode(sealedMetadata)}
	raw, status, err := c.doJSON(ctx, "metadata/set", body)
	if err != nil {
		return fmt.Errorf("broker: metadata/set: %w", err)
	}
	return mapStatus(status, raw)
}

// MetadataDelete deletes a folder's metadata blob.
func (c *Client) MetadataDelete(ctx context.Context, metadataKeyHex string) error {
	raw, status, err := c.doJSON(ctx, "metadata/delete", metadataKeyBody{Timestamp: now(), MetadataKey: metadataKeyHex})
	if err != nil {
		return fmt.Errorf("broker: metadata/delete: %w", err)
	}
	return mapStatus(status, raw)
}

// Delete removes a file's ciphertext blob from the broker.
func (c *Client) Delete(ctx context.Context, fileIDHex string) error {
	raw, status, err := c.doJSON(ctx, "delete", fileIDBody{FileID: fileIDHex})
	if err != nil {
		return fmt.Errorf("broker: delete: %w", err)
	}
	return mapStatus(status, raw)
}
