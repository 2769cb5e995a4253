package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	qerrors "github.com/pzverkov/pqlink/internal/errors"
	"github.com/pzverkov/pqlink/pkg/protocol"
)

const (
	secretKeyFile = "identity.key"
	publicKeyFile = "identity.pub"
)

// ErrNotFound is returned when the store holds no identity yet.
var ErrNotFound = errors.New("identity: not found")

// FileStore keeps an identity as two one-line uppercase hex files in dir.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore returns a store rooted at dir.
func NewFileStore(dir string) *FileStore { return &FileStore{dir: dir} }

// Dir returns the store directory.
func (s *FileStore) Dir() string { return s.dir }

// PublicKeyPath returns the path of the public key file, for distribution.
func (s *FileStore) PublicKeyPath() string { return filepath.Join(s.dir, publicKeyFile) }

// Exists reports whether a secret key file is present.
func (s *FileStore) Exists() bool {
	_, err := os.Stat(filepath.Join(s.dir, secretKeyFile))
	return err == nil
}

// Save writes both halves. The secret file is mode 0600.
//
// The public key goes first: Exists looks only at the secret file, so a
// failed save never leaves a store that reports an identity it cannot load.
func (s *FileStore) Save(id *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	if err := writeHexFile(filepath.Join(s.dir, publicKeyFile), id.PublicKey, 0o644); err != nil {
		return fmt.Errorf("identity: save public key: %w", err)
	}
	if err := writeHexFile(filepath.Join(s.dir, secretKeyFile), id.SecretKey, 0o600); err != nil {
		return fmt.Errorf("identity: save secret key: %w", err)
	}
	return nil
}

// Load reads the identity, checking each half has the expected size.
// It returns ErrNotFound when no secret key file exists.
func (s *FileStore) Load(publicSize, secretSize int) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sk, err := readHexFile(filepath.Join(s.dir, secretKeyFile), secretSize)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	pk, err := readHexFile(filepath.Join(s.dir, publicKeyFile), publicSize)
	if err != nil {
		return nil, err
	}
	return &Identity{PublicKey: pk, SecretKey: sk}, nil
}

// LoadPublicKey reads a peer's public key file distributed out of band.
func LoadPublicKey(path string, size int) ([]byte, error) {
	return readHexFile(path, size)
}

// SavePublicKey writes a public key in the same one-line hex form.
func SavePublicKey(path string, key []byte) error {
	return writeHexFile(path, key, 0o644)
}

func readHexFile(path string, size int) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	field := filepath.Base(path)
	key, err := protocol.DecodeHex(field, strings.TrimSpace(string(b)), size)
	if err != nil {
		return nil, qerrors.NewCryptoError("identity.read", err)
	}
	return key, nil
}

// writeHexFile writes via a temp file, then atomically replaces the target.
func writeHexFile(path string, key []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	f, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()

	// Best-effort cleanup if anything fails before rename.
	defer func() { _ = os.Remove(tmp) }()

	if _, err := f.WriteString(protocol.EncodeHex(key) + "\n"); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Chmod(mode); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}
