package executor

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"

	apperrors "drguard/internal/errors"
)

const (
	keySize          = 32
	saltSize         = 32
	pbkdf2Iterations = 100000
)

// DeriveKey derives an AES-256 key from the master secret and a
// per-backup salt using PBKDF2 with SHA-256
func DeriveKey(secret string, salt []byte) []byte {
	return pbkdf2.Key([]byte(secret), salt, pbkdf2Iterations, keySize, sha256.New)
}

// NewSalt generates a random per-backup salt
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, apperrors.NewEncryptionError("failed to generate salt", err)
	}
	return salt, nil
}

// Encryptor seals and opens backup artifacts with AES-256-GCM
type Encryptor struct{}

// NewEncryptor creates an encryptor
func NewEncryptor() *Encryptor {
	return &Encryptor{}
}

// Encrypt seals data with the given key. The nonce is prepended to the
// ciphertext.
func (e *Encryptor) Encrypt(data, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, apperrors.NewEncryptionError("failed to generate nonce", err)
	}

	return gcm.Seal(nonce, nonce, data, nil), nil
}

// Decrypt opens data sealed by Encrypt
func (e *Encryptor) Decrypt(data, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, apperrors.NewEncryptionError("encrypted data too short", nil)
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, apperrors.NewEncryptionError("failed to decrypt data", err)
	}
	return plaintext, nil
}

// EncryptFile seals the contents of srcPath into dstPath
func (e *Encryptor) EncryptFile(srcPath, dstPath string, key []byte) error {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return apperrors.NewEncryptionError("failed to read "+srcPath, err)
	}

	sealed, err := e.Encrypt(data, key)
	if err != nil {
		return err
	}

	if err := os.WriteFile(dstPath, sealed, 0o600); err != nil {
		return apperrors.NewEncryptionError("failed to write "+dstPath, err)
	}
	return nil
}

// DecryptFile opens the contents of srcPath into dstPath
func (e *Encryptor) DecryptFile(srcPath, dstPath string, key []byte) error {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return apperrors.NewEncryptionError("failed to read "+srcPath, err)
	}

	plaintext, err := e.Decrypt(data, key)
	if err != nil {
		return err
	}

	if err := os.WriteFile(dstPath, plaintext, 0o600); err != nil {
		return apperrors.NewEncryptionError("failed to write "+dstPath, err)
	}
	return nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != keySize {
		return nil, apperrors.NewEncryptionError("encryption key must be 32 bytes", nil)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperrors.NewEncryptionError("failed to create AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apperrors.NewEncryptionError("failed to create GCM cipher", err)
	}
	return gcm, nil
}
