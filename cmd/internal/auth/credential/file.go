package credential

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	fileDocVersion = 1

	sealKeyBytes   = 32
	sealNonceBytes = 24
)

// fileDoc is the on-disk layout. Exactly one of Plain or Sealed is set.
type fileDoc struct {
	V      int       `json:"v"`
	Plain  *Snapshot `json:"plain,omitempty"`
	Sealed []byte    `json:"sealed,omitempty"`
}

// FileBackend stores the snapshot as a JSON document at a fixed path.
//
// When a key is configured the snapshot is sealed with NaCl secretbox
// (XSalsa20-Poly1305) so the file is unreadable and tamper-evident at rest.
type FileBackend struct {
	path string
	key  *[sealKeyBytes]byte
}

// NewFileBackend returns a backend writing to path. keyHex may be empty
// (plain JSON) or a 64-char hex encoding of a 32-byte sealing key.
func NewFileBackend(path, keyHex string) (*FileBackend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: empty file path", ErrConfig)
	}

	b := &FileBackend{path: path}

	keyHex = strings.TrimSpace(keyHex)
	if keyHex == "" {
		return b, nil
	}
	raw, err := hex.DecodeString(keyHex)
	if err != nil || len(raw) != sealKeyBytes {
		return nil, fmt.Errorf("%w: sealing key must be %d hex-encoded bytes", ErrConfig, sealKeyBytes)
	}
	var key [sealKeyBytes]byte
	copy(key[:], raw)
	b.key = &key
	return b, nil
}

// DefaultFilePath returns the per-user location of the session document.
func DefaultFilePath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "arclink", "session.json")
}

// Name implements Backend.
func (b *FileBackend) Name() string { return "file" }

// Path returns the document location.
func (b *FileBackend) Path() string { return b.path }

// Load implements Backend.
func (b *FileBackend) Load(_ context.Context) (Snapshot, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}

	var doc fileDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return Snapshot{}, fmt.Errorf("decode %s: %w", b.path, err)
	}
	if doc.V != fileDocVersion {
		return Snapshot{}, fmt.Errorf("unsupported document version: %d", doc.V)
	}

	switch {
	case doc.Sealed != nil:
		if b.key == nil {
			return Snapshot{}, ErrSealed
		}
		return b.open(doc.Sealed)
	case doc.Plain != nil:
		if b.key != nil {
			// A key is configured: refuse to trust an unsealed document.
			return Snapshot{}, ErrSealed
		}
		return *doc.Plain, nil
	default:
		return Snapshot{}, ErrNotFound
	}
}

// Save implements Backend. The document is written to a temp file and renamed
// into place so a crash never leaves a truncated file behind.
func (b *FileBackend) Save(_ context.Context, s Snapshot) error {
	doc := fileDoc{V: fileDocVersion}
	if b.key != nil {
		sealed, err := b.seal(s)
		if err != nil {
			return err
		}
		doc.Sealed = sealed
	} else {
		doc.Plain = &s
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".session-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, b.path)
}

// Delete implements Backend.
func (b *FileBackend) Delete(_ context.Context) error {
	err := os.Remove(b.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (b *FileBackend) seal(s Snapshot) ([]byte, error) {
	plain, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var nonce [sealNonceBytes]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plain, &nonce, b.key), nil
}

func (b *FileBackend) open(sealed []byte) (Snapshot, error) {
	if len(sealed) < sealNonceBytes+secretbox.Overhead {
		return Snapshot{}, ErrSealed
	}
	var nonce [sealNonceBytes]byte
	copy(nonce[:], sealed[:sealNonceBytes])

	plain, ok := secretbox.Open(nil, sealed[sealNonceBytes:], &nonce, b.key)
	if !ok {
		return Snapshot{}, ErrSealed
	}

	var s Snapshot
	if err := json.Unmarshal(plain, &s); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrSealed, err)
	}
	return s, nil
}
