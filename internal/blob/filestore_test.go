package blob

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	return store
}

func TestCreateNamesBlobAfterDocument(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	handle, err := store.Create(ctx, "A1B2C3D4E5")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if handle != Handle("A1B2C3D4E5.txt") {
		t.Fatalf("unexpected handle %q", handle)
	}
	if got := URL(handle); got != "/documents/A1B2C3D4E5.txt" {
		t.Fatalf("URL() = %q", got)
	}

	contents, err := store.Read(ctx, handle)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if contents != "" {
		t.Fatalf("new blob must be empty, got %q", contents)
	}
}

func TestCreateFailsWhenContentExists(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, "DOC1"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_, err := store.Create(ctx, "DOC1")
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("second Create() error = %v, want ErrAlreadyExists", err)
	}
}

func TestAppendAndTruncate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	handle, err := store.Create(ctx, "DOC1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.Append(ctx, handle, "first\n"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := store.Append(ctx, handle, "second\n"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	contents, err := store.Read(ctx, handle)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if contents != "first\nsecond\n" {
		t.Fatalf("unexpected contents %q", contents)
	}

	if err := store.Truncate(ctx, handle); err != nil {
		t.Fatalf("Truncate() error = %v", err)
	}
	contents, err = store.Read(ctx, handle)
	if err != nil {
		t.Fatalf("Read() after truncate error = %v", err)
	}
	if contents != "" {
		t.Fatalf("truncated blob must be empty, got %q", contents)
	}
}

func TestOperationsOnMissingBlob(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	missing := HandleFor("MISSING")

	if err := store.Append(ctx, missing, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Append() error = %v, want ErrNotFound", err)
	}
	if err := store.Truncate(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Truncate() error = %v, want ErrNotFound", err)
	}
	if _, err := store.Read(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Read() error = %v, want ErrNotFound", err)
	}
	if err := store.Remove(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Remove() error = %v, want ErrNotFound", err)
	}
}

func TestConcurrentAppendsNeverInterleave(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	handle, err := store.Create(ctx, "DOC1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	const writers = 8
	const lines = 25
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(writer int) {
			defer wg.Done()
			line := strings.Repeat(string(rune('a'+writer)), 40) + "\n"
			for j := 0; j < lines; j++ {
				if err := store.Append(ctx, handle, line); err != nil {
					t.Errorf("Append() error = %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	contents, err := store.Read(ctx, handle)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	got := strings.Split(strings.TrimSuffix(contents, "\n"), "\n")
	if len(got) != writers*lines {
		t.Fatalf("expected %d lines, got %d", writers*lines, len(got))
	}
	for _, line := range got {
		if len(line) != 40 || strings.Count(line, line[:1]) != 40 {
			t.Fatalf("interleaved line %q", line)
		}
	}
}
