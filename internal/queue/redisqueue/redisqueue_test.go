package redisqueue

import (
	"encoding/json"
	"testing"

	"github.com/opacitylabs/vault/internal/queue"
)

func TestDecodeRoundTrip(t *testing.T) {
	cases := []queue.Action{
		queue.Upload{DestPath: "/docs", Name: "a.txt", LocalPath: "/tmp/a.txt"},
		queue.Delete{FolderPath: "/docs", Name: "a.txt"},
		queue.Move{SrcPath: "/docs", DestPath: "/archive", Name: "a.txt", NewName: "b.txt"},
	}

	for _, want := range cases {
		var typ string
		switch want.(type) {
		case queue.Upload:
			typ = "upload"
		case queue.Delete:
			typ = "delete"
		case queue.Move:
			typ = "move"
		}

		body, err := json.Marshal(want)
		if err != nil {
			t.Fatalf("marshal action: %v", err)
		}
		raw, err := json.Marshal(wireAction{Type: typ, Body: body})
		if err != nil {
			t.Fatalf("marshal envelope: %v", err)
		}

		got, err := decode(raw)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Key() != want.Key() {
			t.Fatalf("decoded action key = %q, want %q", got.Key(), want.Key())
		}
	}
}

func TestDecodeUnknownType(t *testing.T) {
	raw, err := json.Marshal(wireAction{Type: "rename", Body: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	if _, err := decode(raw); err == nil {
		t.Fatalf("expected error decoding unknown action type")
	}
}

func TestLockKeyNamespacing(t *testing.T) {
	if got, want := lockKey("a/b"), "vault:lock:a/b"; got != want {
		t.Fatalf("lockKey = %q, want %q", got, want)
	}
}
