package cryptox

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/opacitylabs/vault/internal/domain"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand: %v", err)
	}

	cases := [][]byte{
		nil,
		[]byte("hello world"),
		bytes.Repeat([]byte{0x42}, 65536),
	}

	for _, pt := range cases {
		blob, err := Seal(pt, key)
		if err != nil {
			t.Fatalf("Seal: %v", err)
		}
		if len(blob) != len(pt)+Overhead {
			t.Errorf("Seal length = %d, want %d", len(blob), len(pt)+Overhead)
		}
		got, err := Open(blob, key)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if !bytes.Equal(got, pt) {
			t.Errorf("Open mismatch: got %x want %x", got, pt)
		}
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand: %v", err)
	}
	blob, err := Seal([]byte("tamper me"), key)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	blob[len(blob)-5] ^= 0xff

	if _, err := Open(blob, key); !errors.Is(err, domain.ErrAuthFailed) {
		t.Errorf("Open tampered blob: err = %v, want ErrAuthFailed", err)
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	key1 := bytes.Repeat([]byte{0x01}, 32)
	key2 := bytes.Repeat([]byte{0x02}, 32)

	blob, err := Seal([]byte("secret"), key1)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := Open(blob, key2); !errors.Is(err, domain.ErrAuthFailed) {
		t.Errorf("Open with wrong key: err = %v, want ErrAuthFailed", err)
	}
}
