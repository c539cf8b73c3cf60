package storage

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestLocalStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage() error = %v", err)
	}
	payload := []byte("int main() { return 0; }")
	if err := s.PutObject(ctx, "submissions/s1/f1/main.c", bytes.NewReader(payload), int64(len(payload)), ""); err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}

	got, err := ReadAll(ctx, s, "submissions/s1/f1/main.c", 1024)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("content = %q", got)
	}
	stat, err := s.StatObject(ctx, "submissions/s1/f1/main.c")
	if err != nil || stat.SizeBytes != int64(len(payload)) {
		t.Fatalf("StatObject() = %+v, %v", stat, err)
	}
	if _, err := ReadAll(ctx, s, "submissions/s1/f1/main.c", 4); err == nil {
		t.Fatal("expected size limit error")
	}
}

func TestLocalStorageMissingAndEscapes(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewLocalStorage(root)
	if err != nil {
		t.Fatalf("NewLocalStorage() error = %v", err)
	}
	if _, err := s.GetObject(ctx, "nope"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("GetObject() error = %v", err)
	}
	if err := s.PutObject(ctx, "../../escape", bytes.NewReader([]byte("x")), 1, ""); err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if _, err := s.GetObject(ctx, "escape"); err != nil {
		t.Fatalf("traversal key should be confined to root: %v", err)
	}
	if err := s.PutObject(ctx, "short", bytes.NewReader([]byte("x")), 5, ""); err == nil {
		t.Fatal("expected short write error")
	}
}
