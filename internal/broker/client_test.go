package broker

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/opacitylabs/vault/internal/domain"
	"github.com/opacitylabs/vault/internal/keys"
	"github.com/opacitylabs/vault/internal/reqsign"
)

func testSigner(t *testing.T) *reqsign.Signer {
	t.Helper()
	raw := make([]byte, 64)
	if _, err := rand.Read(raw); err != nil {
		t.Fatalf("rand: %v", err)
	}
	mk, err := keys.ParseAccountHandle(hex.EncodeToString(raw))
	if err != nil {
		t.Fatalf("ParseAccountHandle: %v", err)
	}
	s, err := reqsign.New(mk)
	if err != nil {
		t.Fatalf("reqsign.New: %v", err)
	}
	return s
}

func TestAccountDataMapsNotFoundToInvalidHandle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL+"/", testSigner(t), nil)
	_, err := c.AccountData(t.Context())
	if !errors.Is(err, domain.ErrInvalidHandle) {
		t.Fatalf("AccountData: err = %v, want ErrInvalidHandle", err)
	}
}

func TestAccountDataSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env reqsign.Envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			t.Errorf("decode envelope: %v", err)
		}
		if len(env.Signature) != 128 {
			t.Errorf("signature length = %d, want 128", len(env.Signature))
		}
		_ = json.NewEncoder(w).Encode(domain.AccountStatus{UsedStorage: 42})
	}))
	defer srv.Close()

	c := New(srv.URL+"/", testSigner(t), nil)
	status, err := c.AccountData(t.Context())
	if err != nil {
		t.Fatalf("AccountData: %v", err)
	}
	if status.UsedStorage != 42 {
		t.Errorf("UsedStorage = %d, want 42", status.UsedStorage)
	}
}

func TestMetadataCreateAlreadyExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(srv.URL+"/", testSigner(t), nil)
	created, err := c.MetadataCreate(t.Context(), "deadbeef")
	if err != nil {
		t.Fatalf("MetadataCreate: %v", err)
	}
	if created {
		t.Errorf("created = true, want false on 403")
	}
}
