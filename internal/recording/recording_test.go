package recording

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/fernet/fernet-go"
)

func TestRecordingNeverStoresInputText(t *testing.T) {
	rec := New(0)
	rec.RecordOutput([]byte("user@host's password: "))
	rec.RecordInput(len("hunter2\n"))
	rec.RecordOutput([]byte("Welcome"))

	entries := rec.Entries()
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[1].Type != "i" || entries[1].Data != "[8 bytes]" {
		t.Errorf("input entry = %+v", entries[1])
	}
	data, err := rec.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(data, []byte("hunter2")) {
		t.Error("recording leaked input text")
	}
}

func TestRecordingMaxEntries(t *testing.T) {
	rec := New(2)
	for i := 0; i < 5; i++ {
		rec.RecordOutput([]byte("x"))
	}
	if rec.Len() != 2 {
		t.Errorf("Len = %d, want 2", rec.Len())
	}
}

func TestStoreSaveLoadPlain(t *testing.T) {
	st, err := NewStore(t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	rec := New(0)
	rec.RecordOutput([]byte("hello"))

	path, err := st.Save("abc-123", rec)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	raw, _ := os.ReadFile(path)
	if !bytes.Contains(raw, []byte("hello")) {
		t.Error("plain recording should be readable JSON")
	}

	entries, err := st.Load("abc-123")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(entries) != 1 || entries[0].Data != "hello" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestStoreEncrypted(t *testing.T) {
	var k fernet.Key
	if err := k.Generate(); err != nil {
		t.Fatal(err)
	}
	st, err := NewStore(t.TempDir(), k.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if !st.Encrypted() {
		t.Fatal("expected encrypted store")
	}
	rec := New(0)
	rec.RecordOutput([]byte("secret output"))

	path, err := st.Save("sess1", rec)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	raw, _ := os.ReadFile(path)
	if bytes.Contains(raw, []byte("secret output")) {
		t.Error("encrypted recording contains plaintext")
	}

	entries, err := st.Load("sess1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(entries) != 1 || entries[0].Data != "secret output" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestStoreRejectsBadInput(t *testing.T) {
	if _, err := NewStore(t.TempDir(), "not-a-key"); err == nil {
		t.Error("expected key decode error")
	}
	st, _ := NewStore(t.TempDir(), "")
	if _, err := st.Save("../escape", New(0)); err == nil || !strings.Contains(err.Error(), "invalid session id") {
		t.Errorf("Save with traversal id = %v", err)
	}
}
