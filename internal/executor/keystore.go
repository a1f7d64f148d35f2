package executor

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	apperrors "drguard/internal/errors"
)

const shredPasses = 3

// KeyStore manages per-backup encryption keys. Each backup gets its own
// random salt; the key is derived from the master secret plus that salt,
// so destroying the salt renders the backup's ciphertext unrecoverable
// without touching the artifacts themselves.
type KeyStore struct {
	dir    string
	secret string
}

// NewKeyStore creates a key store rooted at dir
func NewKeyStore(dir, masterSecret string) (*KeyStore, error) {
	if masterSecret == "" {
		return nil, apperrors.NewConfigurationError("encryption master secret is required", nil)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, apperrors.NewConfigurationError("failed to create key store directory", err)
	}
	return &KeyStore{dir: dir, secret: masterSecret}, nil
}

func (ks *KeyStore) saltPath(backupID string) string {
	return filepath.Join(ks.dir, backupID+".salt")
}

// CreateKey generates a salt for backupID, persists it, and returns the
// derived key plus the hex-encoded salt for the backup record
func (ks *KeyStore) CreateKey(backupID string) ([]byte, string, error) {
	salt, err := NewSalt()
	if err != nil {
		return nil, "", err
	}

	encoded := hex.EncodeToString(salt)
	if err := os.WriteFile(ks.saltPath(backupID), []byte(encoded), 0o600); err != nil {
		return nil, "", apperrors.NewEncryptionError("failed to persist key salt for "+backupID, err)
	}

	return DeriveKey(ks.secret, salt), encoded, nil
}

// Key re-derives the key for backupID from its persisted salt
func (ks *KeyStore) Key(backupID string) ([]byte, error) {
	data, err := os.ReadFile(ks.saltPath(backupID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NewNotFoundError("no key salt found for backup "+backupID, err)
		}
		return nil, apperrors.NewEncryptionError("failed to read key salt for "+backupID, err)
	}

	salt, err := hex.DecodeString(string(data))
	if err != nil {
		return nil, apperrors.NewEncryptionError("corrupt key salt for "+backupID, err)
	}
	return DeriveKey(ks.secret, salt), nil
}

// StageRotation generates a replacement salt for backupID and persists
// it alongside the active one. The active salt keeps decrypting until
// CommitRotation swaps the staged salt in.
func (ks *KeyStore) StageRotation(backupID string) ([]byte, string, error) {
	salt, err := NewSalt()
	if err != nil {
		return nil, "", err
	}

	encoded := hex.EncodeToString(salt)
	if err := os.WriteFile(ks.saltPath(backupID)+".next", []byte(encoded), 0o600); err != nil {
		return nil, "", apperrors.NewEncryptionError("failed to stage replacement salt for "+backupID, err)
	}
	return DeriveKey(ks.secret, salt), encoded, nil
}

// CommitRotation shreds the old salt and activates the staged one
func (ks *KeyStore) CommitRotation(backupID string) error {
	staged := ks.saltPath(backupID) + ".next"
	if _, err := os.Stat(staged); err != nil {
		return apperrors.NewEncryptionError("no staged salt to commit for "+backupID, err)
	}
	if err := ks.Shred(backupID); err != nil {
		return err
	}
	if err := os.Rename(staged, ks.saltPath(backupID)); err != nil {
		return apperrors.NewEncryptionError("failed to activate rotated salt for "+backupID, err)
	}
	return nil
}

// AbandonRotation discards a staged salt that was never committed
func (ks *KeyStore) AbandonRotation(backupID string) {
	os.Remove(ks.saltPath(backupID) + ".next")
}

// HasKey reports whether a salt exists for backupID
func (ks *KeyStore) HasKey(backupID string) bool {
	_, err := os.Stat(ks.saltPath(backupID))
	return err == nil
}

// Shred destroys the salt for backupID by overwriting it with random
// bytes before removal. After Shred the backup's ciphertext cannot be
// decrypted even if copies of the artifacts survive.
func (ks *KeyStore) Shred(backupID string) error {
	path := ks.saltPath(backupID)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperrors.NewEncryptionError("failed to stat key salt for "+backupID, err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0o600)
	if err != nil {
		return apperrors.NewEncryptionError("failed to open key salt for shredding", err)
	}

	noise := make([]byte, info.Size())
	for pass := 0; pass < shredPasses; pass++ {
		if _, err := io.ReadFull(rand.Reader, noise); err != nil {
			f.Close()
			return apperrors.NewEncryptionError("failed to generate overwrite data", err)
		}
		if _, err := f.WriteAt(noise, 0); err != nil {
			f.Close()
			return apperrors.NewEncryptionError("failed to overwrite key salt", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return apperrors.NewEncryptionError("failed to sync key salt overwrite", err)
		}
	}
	if err := f.Close(); err != nil {
		return apperrors.NewEncryptionError("failed to close key salt file", err)
	}

	if err := os.Remove(path); err != nil {
		return apperrors.NewEncryptionError("failed to remove key salt for "+backupID, err)
	}
	return nil
}
