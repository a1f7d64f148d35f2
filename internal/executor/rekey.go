package executor

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	apperrors "drguard/internal/errors"
	"drguard/internal/record"
	"drguard/internal/statestore"
	"drguard/internal/storage"
)

// RotateKey re-encrypts every artifact of backupID under a freshly
// derived key and retires the old one. The old key stays active until
// all regions hold the re-encrypted objects; a replica that cannot be
// rewritten is deleted so the replication monitor restores it from the
// primary copy.
func (e *Executor) RotateKey(ctx context.Context, backupID string) error {
	registry := &record.BackupRegistry{}
	if err := e.state.Load(ctx, statestore.KeyBackupRegistry, registry); err != nil && !errors.Is(err, statestore.ErrNotFound) {
		return apperrors.NewStateError("failed to load backup registry", err)
	}
	rec := registry.Get(backupID)
	if rec == nil {
		return apperrors.NewNotFoundError("no backup registered with id "+backupID, nil)
	}

	oldKey, err := e.keys.Key(backupID)
	if err != nil {
		return err
	}
	newKey, newSalt, err := e.keys.StageRotation(backupID)
	if err != nil {
		return err
	}

	prefix := "backups/"
	class := storage.ClassStandard
	if rec.Archived {
		prefix = "archive/"
		class = storage.ClassArchive
	}

	checksums := make(map[string]string, len(rec.Artifacts))
	sizes := make(map[string]int64, len(rec.Artifacts))
	for i := range rec.Artifacts {
		artifact := &rec.Artifacts[i]
		objectKey := fmt.Sprintf("%s%s/%s", prefix, backupID, artifact.Name)

		rotated, err := e.reEncryptObject(ctx, objectKey, oldKey, newKey, class)
		if err != nil {
			e.keys.AbandonRotation(backupID)
			return err
		}

		if artifact.LocalPath != "" {
			if err := e.reEncryptLocal(artifact.LocalPath, oldKey, newKey); err != nil {
				e.keys.AbandonRotation(backupID)
				return err
			}
		}

		sum := sha256.Sum256(rotated)
		checksums[artifact.Name] = hex.EncodeToString(sum[:])
		sizes[artifact.Name] = int64(len(rotated))
	}

	if err := e.keys.CommitRotation(backupID); err != nil {
		return err
	}

	if err := e.state.Update(ctx, statestore.KeyBackupRegistry, func(raw json.RawMessage) (interface{}, error) {
		reg := &record.BackupRegistry{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, reg); err != nil {
				return nil, err
			}
		}
		stored := reg.Get(backupID)
		if stored == nil {
			return nil, apperrors.NewNotFoundError("backup "+backupID+" vanished during key rotation", nil)
		}
		stored.KeySalt = newSalt
		for i := range stored.Artifacts {
			if sum, ok := checksums[stored.Artifacts[i].Name]; ok {
				stored.Artifacts[i].Checksum = sum
				stored.Artifacts[i].SizeBytes = sizes[stored.Artifacts[i].Name]
			}
		}
		return reg, nil
	}); err != nil {
		return apperrors.NewStateError("failed to record rotated key for "+backupID, err)
	}

	e.logger.WithFields(map[string]interface{}{
		"backup_id": backupID,
	}).Info("Encryption key rotated")
	return nil
}

// reEncryptObject rewrites one object in every region and returns the
// re-encrypted bytes as stored in the primary region
func (e *Executor) reEncryptObject(ctx context.Context, objectKey string, oldKey, newKey []byte, class storage.StorageClass) ([]byte, error) {
	primary := e.stores[e.config.PrimaryRegion]
	body, err := primary.Get(ctx, objectKey)
	if err != nil {
		return nil, apperrors.NewUploadError("failed to fetch "+objectKey+" for key rotation", err)
	}
	ciphertext, err := io.ReadAll(body)
	body.Close()
	if err != nil {
		return nil, apperrors.NewUploadError("failed to read "+objectKey+" for key rotation", err)
	}

	plaintext, err := e.encryptor.Decrypt(ciphertext, oldKey)
	if err != nil {
		return nil, err
	}
	rotated, err := e.encryptor.Encrypt(plaintext, newKey)
	if err != nil {
		return nil, err
	}

	opts := storage.PutOptions{StorageClass: class}
	if err := primary.Put(ctx, objectKey, bytes.NewReader(rotated), opts); err != nil {
		return nil, apperrors.NewUploadError("failed to rewrite "+objectKey+" in primary region", err)
	}

	for region, store := range e.stores {
		if region == e.config.PrimaryRegion {
			continue
		}
		if err := store.Put(ctx, objectKey, bytes.NewReader(rotated), opts); err != nil {
			// drop the stale copy so the monitor re-replicates the
			// rotated primary object
			store.Delete(ctx, objectKey)
			e.logger.WithFields(map[string]interface{}{
				"region": region,
				"object": objectKey,
				"error":  err.Error(),
			}).Warn("Replica rewrite failed during key rotation, object dropped for resync")
		}
	}
	return rotated, nil
}

func (e *Executor) reEncryptLocal(path string, oldKey, newKey []byte) error {
	ciphertext, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperrors.NewEncryptionError("failed to read local artifact "+path, err)
	}
	plaintext, err := e.encryptor.Decrypt(ciphertext, oldKey)
	if err != nil {
		return err
	}
	rotated, err := e.encryptor.Encrypt(plaintext, newKey)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, rotated, 0o600); err != nil {
		return apperrors.NewEncryptionError("failed to rewrite local artifact "+path, err)
	}
	return nil
}
