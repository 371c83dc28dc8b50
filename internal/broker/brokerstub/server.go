package brokerstub

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/opacitylabs/vault/internal/domain"
)

// uploadEntry tracks the in-flight state of one file upload.
type uploadEntry struct {
	sizeInByte int64
	endIndex   int
	received   map[int]bool
}

// Server is a fake broker implementing the wire contract of spec.md 4.4
// against an in-process blob store, for use with httptest.NewServer in
// integration tests. It performs no signature verification — it exists
// to exercise the client's transport and chunk pipeline logic, not to
// model the broker's own security boundary.
type Server struct {
	writer domain.BlobWriter
	reader domain.BlobReader

	mu       sync.Mutex
	metadata map[string][]byte
	uploads  map[string]*uploadEntry

	mux *http.ServeMux
}

// NewServer builds a Server backed by the given store.
func NewServer(writer domain.BlobWriter, reader domain.BlobReader) *Server {
	s := &Server{
		writer:   writer,
		reader:   reader,
		metadata: map[string][]byte{},
		uploads:  map[string]*uploadEntry{},
	}
	s.mux = http.NewServeMux()
	s.routes()
	return s
}

// NewInMemoryServer builds a Server backed by an in-memory store, for
// fast unit tests that don't need a real S3 endpoint.
func NewInMemoryServer() *Server {
	store := newMemoryStore()
	return NewServer(store, store)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) routes() {
	s.mux.HandleFunc("/account-data", s.handleAccountData)
	s.mux.HandleFunc("/init-upload", s.handleInitUpload)
	s.mux.HandleFunc("/upload", s.handleUpload)
	s.mux.HandleFunc("/upload-status", s.handleUploadStatus)
	s.mux.HandleFunc("/download", s.handleDownload)
	s.mux.HandleFunc("/metadata/create", s.handleMetadataCreate)
	s.mux.HandleFunc("/metadata/get", s.handleMetadataGet)
	s.mux.HandleFunc("/metadata/set", s.handleMetadataSet)
	s.mux.HandleFunc("/metadata/delete", s.handleMetadataDelete)
	s.mux.HandleFunc("/delete", s.handleDelete)
	s.mux.HandleFunc("/blob/", s.handleBlob)
}

type signedEnvelope struct {
	RequestBody string `json:"requestBody"`
}

func decodeEnvelope(r *http.Request, into any) error {
	var env signedEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		return fmt.Errorf("brokerstub: decode envelope: %w", err)
	}
	return json.Unmarshal([]byte(env.RequestBody), into)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleAccountData(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, domain.AccountStatus{UsedStorage: 0, StorageLimit: 1 << 40, PaymentStatus: "active"})
}

func (s *Server) handleInitUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var body struct {
		FileHandle     string `json:"fileHandle"`
		FileSizeInByte int64  `json:"fileSizeInByte"`
		EndIndex       int    `json:"endIndex"`
	}
	if err := json.Unmarshal([]byte(r.FormValue("requestBody")), &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	file, _, err := r.FormFile("metadata")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()
	blob, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := s.writer.Put(ctx, metaObjectPath(body.FileHandle), bytes.NewReader(blob), "application/octet-stream"); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	s.uploads[body.FileHandle] = &uploadEntry{sizeInByte: body.FileSizeInByte, endIndex: body.EndIndex, received: map[int]bool{}}
	s.mu.Unlock()

	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var body struct {
		FileHandle string `json:"fileHandle"`
		PartIndex  int    `json:"partIndex"`
		EndIndex   int    `json:"endIndex"`
	}
	if err := json.Unmarshal([]byte(r.FormValue("requestBody")), &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	file, _, err := r.FormFile("chunkData")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()
	blob, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := s.writer.Put(ctx, partObjectPath(body.FileHandle, body.PartIndex), bytes.NewReader(blob), "application/octet-stream"); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	entry, ok := s.uploads[body.FileHandle]
	if ok {
		entry.received[body.PartIndex] = true
	}
	s.mu.Unlock()

	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FileHandle string `json:"fileHandle"`
	}
	if err := decodeEnvelope(r, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	entry, ok := s.uploads[body.FileHandle]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown file handle", http.StatusNotFound)
		return
	}

	var missing []int
	for i := 1; i <= entry.endIndex; i++ {
		if !entry.received[i] {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		writeJSON(w, domain.UploadStatus{Status: domain.UploadStatusComplete, EndIndex: entry.endIndex})
		return
	}
	writeJSON(w, domain.UploadStatus{Status: domain.UploadStatusMissing, EndIndex: entry.endIndex, MissingIndexes: missing})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FileID string `json:"fileID"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	writeJSON(w, map[string]string{
		"fileDownloadUrl": fmt.Sprintf("%s://%s/blob/%s", scheme, r.Host, body.FileID),
	})
}

func (s *Server) handleMetadataCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MetadataKey string `json:"metadataKey"`
	}
	if err := decodeEnvelope(r, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.metadata[body.MetadataKey]; exists {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	s.metadata[body.MetadataKey] = nil
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleMetadataGet(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MetadataKey string `json:"metadataKey"`
	}
	if err := decodeEnvelope(r, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	blob, ok := s.metadata[body.MetadataKey]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]string{"metadata": base64.StdEncoding.EncodeToString(blob)})
}

func (s *Server) handleMetadataSet(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MetadataKey string `json:"metadataKey"`
		Metadata    string `json:"metadata"`
	}
	if err := decodeEnvelope(r, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	blob, err := base64.StdEncoding.DecodeString(body.Metadata)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.metadata[body.MetadataKey] = blob
	s.mu.Unlock()
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleMetadataDelete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MetadataKey string `json:"metadataKey"`
	}
	if err := decodeEnvelope(r, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	delete(s.metadata, body.MetadataKey)
	s.mu.Unlock()
	writeJSON(w, map[string]string{"status": "metadata successfully deleted"})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FileID string `json:"fileID"`
	}
	if err := decodeEnvelope(r, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	delete(s.uploads, body.FileID)
	s.mu.Unlock()
	writeJSON(w, map[string]any{})
}

// handleBlob serves /blob/{fileID}/metadata and /blob/{fileID}/file,
// reassembling the uploaded parts on demand for ranged reads.
func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/blob/")
	fileID, kindPart, ok := strings.Cut(rest, "/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	var kind string
	switch kindPart {
	case "metadata":
		kind = "metadata"
	case "file":
		kind = "file"
	default:
		http.NotFound(w, r)
		return
	}

	ctx := r.Context()
	switch kind {
	case "metadata":
		rc, err := s.reader.Get(ctx, metaObjectPath(fileID))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		defer rc.Close()
		_, _ = io.Copy(w, rc)
	case "file":
		s.mu.Lock()
		entry, ok := s.uploads[fileID]
		s.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		full := make([]byte, 0, entry.sizeInByte)
		for i := 1; i <= entry.endIndex; i++ {
			rc, err := s.reader.Get(ctx, partObjectPath(fileID, i))
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			part, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			full = append(full, part...)
		}
		from, to := int64(0), int64(len(full))-1
		if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
			fmt.Sscanf(rangeHeader, "bytes=%d-%d", &from, &to)
		}
		if to >= int64(len(full)) {
			to = int64(len(full)) - 1
		}
		if from > to {
			w.WriteHeader(http.StatusPartialContent)
			return
		}
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(full[from : to+1])
	}
}

func metaObjectPath(fileID string) string { return "meta/" + fileID }
func partObjectPath(fileID string, part int) string {
	return fmt.Sprintf("parts/%s/%d", fileID, part)
}

// Reset clears all in-memory broker state, useful between test cases
// that share a Server instance.
func (s *Server) Reset(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata = map[string][]byte{}
	s.uploads = map[string]*uploadEntry{}
}
