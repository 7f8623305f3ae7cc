package storage

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/scrypt"

	"github.com/keymesh/go-cluster-kms/internal/cluster"
)

// File is a KeyStorage keeping one encrypted record file per secret under a
// base directory. Records are AES-GCM encrypted with a scrypt-derived key
// and written via temp file plus atomic rename.
type File struct {
	basePath      string
	encryptionKey []byte
}

const recordExt = ".share.enc"

// NewFile creates a file-backed store rooted at basePath.
func NewFile(basePath, passphrase string) (*File, error) {
	key, err := deriveKey(passphrase)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive encryption key")
	}

	if err := os.MkdirAll(basePath, 0700); err != nil {
		return nil, errors.Wrap(err, "failed to create base path")
	}

	return &File{basePath: basePath, encryptionKey: key}, nil
}

func deriveKey(passphrase string) ([]byte, error) {
	salt := []byte("cluster-kms-share-record-salt")
	return scrypt.Key([]byte(passphrase), salt, 32768, 8, 1, 32)
}

func (s *File) path(id cluster.SessionID) string {
	return filepath.Join(s.basePath, string(id)+recordExt)
}

func (s *File) encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cipher")
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create GCM")
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, "failed to generate nonce")
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *File) decrypt(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cipher")
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create GCM")
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decrypt record")
	}
	return plaintext, nil
}

func (s *File) write(id cluster.SessionID, record *cluster.ShareRecord) error {
	plaintext, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "failed to marshal record")
	}

	encrypted, err := s.encrypt(plaintext)
	if err != nil {
		return errors.Wrap(err, "failed to encrypt record")
	}

	path := s.path(id)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, encrypted, 0600); err != nil {
		return errors.Wrap(err, "failed to write encrypted record")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errors.Wrap(err, "failed to rename temp file")
	}
	return nil
}

func (s *File) Get(_ context.Context, id cluster.SessionID) (*cluster.ShareRecord, error) {
	encrypted, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to read encrypted record")
	}

	plaintext, err := s.decrypt(encrypted)
	if err != nil {
		return nil, err
	}

	var record cluster.ShareRecord
	if err := json.Unmarshal(plaintext, &record); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal record")
	}
	return &record, nil
}

func (s *File) Insert(_ context.Context, id cluster.SessionID, record *cluster.ShareRecord) error {
	if _, err := os.Stat(s.path(id)); err == nil {
		return ErrAlreadyExists
	}
	return s.write(id, record)
}

func (s *File) Update(_ context.Context, id cluster.SessionID, record *cluster.ShareRecord) error {
	if _, err := os.Stat(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return errors.Wrap(err, "failed to stat record")
	}
	return s.write(id, record)
}

func (s *File) Remove(_ context.Context, id cluster.SessionID) error {
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to delete record")
	}
	return nil
}

// List returns the ids of all records kept by this store.
func (s *File) List(_ context.Context) ([]cluster.SessionID, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list records")
	}

	var ids []cluster.SessionID
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, recordExt) {
			continue
		}
		ids = append(ids, cluster.SessionID(strings.TrimSuffix(name, recordExt)))
	}
	return ids, nil
}
