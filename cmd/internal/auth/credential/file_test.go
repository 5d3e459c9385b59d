package credential

import (
	"context"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testKeyHex() string {
	return hex.EncodeToString([]byte(strings.Repeat("k", sealKeyBytes)))
}

func TestFileBackend_PlainRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "session.json")

	b, err := NewFileBackend(path, "")
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}

	if _, err := b.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load on missing file err=%v want ErrNotFound", err)
	}

	want := Snapshot{AccessToken: "plain-tok", RefreshCapable: true, UpdatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	if err := b.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("file perm=%o want 600", perm)
	}

	got, err := b.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.AccessToken != want.AccessToken || got.RefreshCapable != want.RefreshCapable || !got.UpdatedAt.Equal(want.UpdatedAt) {
		t.Fatalf("Load()=%+v want %+v", got, want)
	}

	if err := b.Delete(ctx); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := b.Delete(ctx); err != nil {
		t.Fatalf("second Delete must be a no-op, got %v", err)
	}
	if _, err := b.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load after Delete err=%v want ErrNotFound", err)
	}
}

func TestFileBackend_SealedRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.json")

	b, err := NewFileBackend(path, testKeyHex())
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}

	if err := b.Save(ctx, Snapshot{AccessToken: "sealed-tok", RefreshCapable: true}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if strings.Contains(string(raw), "sealed-tok") {
		t.Fatalf("sealed document leaks the token: %s", raw)
	}

	got, err := b.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.AccessToken != "sealed-tok" || !got.RefreshCapable {
		t.Fatalf("Load()=%+v", got)
	}
}

func TestFileBackend_WrongKeyRejected(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.json")

	writer, err := NewFileBackend(path, testKeyHex())
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	if err := writer.Save(ctx, Snapshot{AccessToken: "x"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	otherKey := hex.EncodeToString([]byte(strings.Repeat("z", sealKeyBytes)))
	reader, err := NewFileBackend(path, otherKey)
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	if _, err := reader.Load(ctx); !errors.Is(err, ErrSealed) {
		t.Fatalf("Load with wrong key err=%v want ErrSealed", err)
	}

	plainReader, err := NewFileBackend(path, "")
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	if _, err := plainReader.Load(ctx); !errors.Is(err, ErrSealed) {
		t.Fatalf("Load sealed doc without key err=%v want ErrSealed", err)
	}
}

func TestFileBackend_KeyedReaderRejectsPlainDocument(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.json")

	plain, _ := NewFileBackend(path, "")
	if err := plain.Save(ctx, Snapshot{AccessToken: "x"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	keyed, _ := NewFileBackend(path, testKeyHex())
	if _, err := keyed.Load(ctx); !errors.Is(err, ErrSealed) {
		t.Fatalf("Load err=%v want ErrSealed", err)
	}
}

func TestNewFileBackend_Config(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		path string
		key  string
		ok   bool
	}{
		{name: "plain", path: "/tmp/x.json", ok: true},
		{name: "empty path", path: " ", ok: false},
		{name: "bad hex", path: "/tmp/x.json", key: "zz", ok: false},
		{name: "short key", path: "/tmp/x.json", key: "abcd", ok: false},
		{name: "good key", path: "/tmp/x.json", key: testKeyHex(), ok: true},
	}

	for _, tc := range cases {
		_, err := NewFileBackend(tc.path, tc.key)
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected err %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrConfig) {
			t.Fatalf("%s: err=%v want ErrConfig", tc.name, err)
		}
	}
}

func TestKeeper_WithFileBackendSurvivesReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.json")
	b, _ := NewFileBackend(path, "")

	k1 := Open(ctx, b, WithLogger(quietLogger()))
	k1.Set(Snapshot{AccessToken: "reload-me", RefreshCapable: true})

	k2 := Open(ctx, b, WithLogger(quietLogger()))
	if got := k2.Token(); got != "reload-me" {
		t.Fatalf("reopened Token()=%q want reload-me", got)
	}
	if !k2.RefreshCapable() {
		t.Fatalf("refresh capability must survive reopen")
	}
}
