package blob

import (
	"context"
	"testing"

	"seedlot/internal/blob/core"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	fs, err := Open(ctx, Config{FSRoot: t.TempDir()})
	if err != nil || fs.Driver() != core.DriverFilesystem {
		t.Fatalf("default driver: %v", err)
	}
	mem, err := Open(ctx, Config{Driver: core.DriverMemory})
	if err != nil || mem.Driver() != core.DriverMemory {
		t.Fatalf("memory driver: %v", err)
	}
	if _, err := Open(ctx, Config{Driver: "tape"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	if _, err := Open(ctx, Config{Driver: core.DriverS3}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}
