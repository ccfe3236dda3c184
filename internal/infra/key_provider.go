package infra

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	historyKeyFileName = ".history.key"
	historyKeySize     = 32 // SQLCipher raw key
)

// FileKeyProvider keeps the lock history key in a 0600 file in the data dir.
type FileKeyProvider struct {
	keyPath string
}

// NewFileKeyProvider creates a FileKeyProvider for dataDir.
func NewFileKeyProvider(dataDir string) *FileKeyProvider {
	return &FileKeyProvider{keyPath: filepath.Join(dataDir, historyKeyFileName)}
}

// Path returns the key file location.
func (p *FileKeyProvider) Path() string {
	return p.keyPath
}

// Key returns the stored key, generating and storing one on first use.
func (p *FileKeyProvider) Key() ([]byte, error) {
	encoded, err := os.ReadFile(p.keyPath)
	if err == nil {
		return decodeHistoryKey(encoded)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	key := make([]byte, historyKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.keyPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	// O_EXCL so two processes racing on first run cannot both win.
	f, err := os.OpenFile(p.keyPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if os.IsExist(err) {
			return p.Key()
		}
		return nil, fmt.Errorf("failed to create key file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(base64.StdEncoding.EncodeToString(key)); err != nil {
		return nil, fmt.Errorf("failed to write key file: %w", err)
	}
	return key, nil
}

func decodeHistoryKey(encoded []byte) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(encoded)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	if len(key) != historyKeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(key), historyKeySize)
	}
	return key, nil
}
