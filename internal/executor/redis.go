package executor

import (
	"bytes"
	"context"
	"io"
	"os"
	"time"

	"github.com/go-redis/redis/v8"

	apperrors "drguard/internal/errors"
)

// rdbMagic is the header every valid Redis dump file starts with
var rdbMagic = []byte("REDIS")

// Snapshotter produces a point-in-time snapshot of the cache store
type Snapshotter interface {
	// Ping verifies connectivity
	Ping(ctx context.Context) error
	// Snapshot triggers a background save and copies the resulting dump
	// file to destPath
	Snapshot(ctx context.Context, destPath string) error
}

// RedisConfig configures the primary Redis connection
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	DB       int    `json:"db" yaml:"db"`
	// RDBPath is where the Redis server writes its dump file. It must be
	// readable from the host running the backup.
	RDBPath      string        `json:"rdb_path" yaml:"rdb_path"`
	SaveTimeout  time.Duration `json:"save_timeout" yaml:"save_timeout"`
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
}

// SetDefaults fills unset fields with safe values
func (c *RedisConfig) SetDefaults() {
	if c.SaveTimeout == 0 {
		c.SaveTimeout = 5 * time.Minute
	}
	if c.PollInterval == 0 {
		c.PollInterval = 2 * time.Second
	}
}

// RedisSnapshotter implements Snapshotter against Redis BGSAVE
type RedisSnapshotter struct {
	client       *redis.Client
	rdbPath      string
	saveTimeout  time.Duration
	pollInterval time.Duration
}

// NewRedisSnapshotter creates a snapshotter for the given Redis instance
func NewRedisSnapshotter(config RedisConfig) (*RedisSnapshotter, error) {
	if config.Addr == "" || config.RDBPath == "" {
		return nil, apperrors.NewConfigurationError("Redis address and RDB path are required", nil)
	}
	config.SetDefaults()

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	return &RedisSnapshotter{
		client:       client,
		rdbPath:      config.RDBPath,
		saveTimeout:  config.SaveTimeout,
		pollInterval: config.PollInterval,
	}, nil
}

// Close releases the client
func (s *RedisSnapshotter) Close() error {
	return s.client.Close()
}

// Ping verifies connectivity
func (s *RedisSnapshotter) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return apperrors.NewConnectivityError("Redis is unreachable", err)
	}
	return nil
}

// Snapshot triggers BGSAVE, waits for it to complete, and copies the
// dump file to destPath after verifying its header
func (s *RedisSnapshotter) Snapshot(ctx context.Context, destPath string) error {
	before, err := s.client.LastSave(ctx).Result()
	if err != nil {
		return apperrors.NewDumpError("failed to read last Redis save time", err)
	}

	if err := s.client.BgSave(ctx).Err(); err != nil {
		// A save may already be in progress; treat that as ours
		if err.Error() != "ERR Background save already in progress" {
			return apperrors.NewDumpError("failed to trigger Redis background save", err)
		}
	}

	if err := s.waitForSave(ctx, before); err != nil {
		return err
	}
	return s.copyRDB(destPath)
}

func (s *RedisSnapshotter) waitForSave(ctx context.Context, before int64) error {
	deadline := time.Now().Add(s.saveTimeout)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		last, err := s.client.LastSave(ctx).Result()
		if err != nil {
			return apperrors.NewDumpError("failed to poll Redis save status", err)
		}
		if last > before {
			return nil
		}
		if time.Now().After(deadline) {
			return apperrors.NewTimeoutError("Redis background save did not complete in time", nil)
		}

		select {
		case <-ctx.Done():
			return apperrors.NewTimeoutError("Redis snapshot cancelled", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *RedisSnapshotter) copyRDB(destPath string) error {
	src, err := os.Open(s.rdbPath)
	if err != nil {
		return apperrors.NewDumpError("failed to open Redis dump file "+s.rdbPath, err)
	}
	defer src.Close()

	header := make([]byte, len(rdbMagic))
	if _, err := io.ReadFull(src, header); err != nil {
		return apperrors.NewDumpError("failed to read Redis dump header", err)
	}
	if !bytes.Equal(header, rdbMagic) {
		return apperrors.NewIntegrityError("Redis dump file has an invalid header", nil)
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return apperrors.NewDumpError("failed to rewind Redis dump file", err)
	}

	dst, err := os.Create(destPath)
	if err != nil {
		return apperrors.NewDumpError("failed to create snapshot copy "+destPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return apperrors.NewDumpError("failed to copy Redis dump file", err)
	}
	return nil
}
