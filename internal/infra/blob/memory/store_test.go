package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"seedlot/internal/blob/core"
)

func TestStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	md := map[string]string{"source": "nppo"}
	info, err := s.Put(ctx, "evidence/a", bytes.NewReader([]byte("abc")), core.PutOptions{ContentType: "text/plain", Metadata: md})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	md["source"] = "mutated"
	// sha256("abc")
	if info.ETag != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Fatalf("unexpected etag %s", info.ETag)
	}
	if _, err := s.Put(ctx, "evidence/a", bytes.NewReader([]byte("x")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	head, err := s.Head(ctx, "evidence/a")
	if err != nil || head.Metadata["source"] != "nppo" {
		t.Fatalf("head: %v %+v", err, head)
	}
	_, rc, err := s.Get(ctx, "evidence/a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(b) != "abc" {
		t.Fatalf("content mismatch %q", b)
	}
	if _, err := s.Put(ctx, "other/b", bytes.NewReader(nil), core.PutOptions{}); err != nil {
		t.Fatalf("put b: %v", err)
	}
	list, _ := s.List(ctx, "evidence/")
	if len(list) != 1 {
		t.Fatalf("expected 1 evidence blob, got %d", len(list))
	}
	if _, err := s.PresignURL(ctx, "evidence/a", core.SignedURLOptions{}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected unsupported presign")
	}
	if s.Driver() != core.DriverMemory {
		t.Fatalf("unexpected driver")
	}
}

func TestStore_NotFound(t *testing.T) {
	s := New()
	if _, err := s.Head(context.Background(), "x"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("head: %v", err)
	}
	if _, _, err := s.Get(context.Background(), "x"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("get: %v", err)
	}
}
