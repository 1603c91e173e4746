// Package storage persists aggregated request statistics to a JSON file or
// to Redis.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"toolproxy/internal/core"
	"toolproxy/internal/util"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

func emptyStats() *core.RequestStats {
	return &core.RequestStats{RequestHistory: []core.RequestRecord{}}
}

func decodeStats(data []byte) (*core.RequestStats, error) {
	var stats core.RequestStats
	if err := sonic.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	if stats.RequestHistory == nil {
		stats.RequestHistory = []core.RequestRecord{}
	}
	return &stats, nil
}

// FileStorage implements persistence using a JSON file
type FileStorage struct {
	filePath string
}

func NewFileStorage(filePath string) *FileStorage {
	if filePath == "" {
		filePath = core.StatsFilePath
	}
	return &FileStorage{filePath: filePath}
}

// Path returns the stats file location.
func (fs *FileStorage) Path() string {
	return fs.filePath
}

// SaveStats writes to a temporary file and renames it over the target so a
// crash mid-write never leaves a truncated stats file.
func (fs *FileStorage) SaveStats(ctx context.Context, stats *core.RequestStats) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := sonic.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(fs.filePath), filepath.Base(fs.filePath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp stats file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write stats: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close stats: %w", err)
	}
	if err := os.Chmod(tmpName, core.FilePermissionReadWrite); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, fs.filePath); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace stats file: %w", err)
	}
	return nil
}

func (fs *FileStorage) LoadStats(ctx context.Context) (*core.RequestStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fs.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return emptyStats(), nil
		}
		return nil, err
	}
	return decodeStats(data)
}

func (fs *FileStorage) Close() error {
	return nil
}

// RedisStorage implements persistence using Redis
type RedisStorage struct {
	client *redis.Client
	key    string
}

// RedisStorageConfig Redis storage config
type RedisStorageConfig struct {
	URL string
	Key string
}

func NewRedisStorage(ctx context.Context, config RedisStorageConfig) (*RedisStorage, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, core.StorageOpTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	key := config.Key
	if key == "" {
		key = core.StatsRedisKey
	}
	return &RedisStorage{client: client, key: key}, nil
}

func (rs *RedisStorage) SaveStats(ctx context.Context, stats *core.RequestStats) error {
	data, err := util.MarshalJSON(stats)
	if err != nil {
		return err
	}
	return rs.client.Set(ctx, rs.key, data, 0).Err()
}

func (rs *RedisStorage) LoadStats(ctx context.Context) (*core.RequestStats, error) {
	val, err := rs.client.Get(ctx, rs.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return emptyStats(), nil
		}
		return nil, err
	}
	return decodeStats(val)
}

func (rs *RedisStorage) Close() error {
	return rs.client.Close()
}

// Options selects the storage backend.
type Options struct {
	RedisURL string
	FilePath string
	Logger   core.Logger
}

// InitStorage returns Redis storage when a URL is configured and reachable,
// otherwise file storage.
func InitStorage(ctx context.Context, opts Options) core.StorageInterface {
	logger := opts.Logger
	if logger == nil {
		logger = &core.NopLogger{}
	}

	if opts.RedisURL != "" {
		redisStorage, err := NewRedisStorage(ctx, RedisStorageConfig{URL: opts.RedisURL, Key: core.StatsRedisKey})
		if err != nil {
			logger.Warn("Failed to initialize Redis storage: %v, falling back to file storage", err)
			return NewFileStorage(opts.FilePath)
		}
		logger.Info("Using Redis storage for stats")
		return redisStorage
	}

	fs := NewFileStorage(opts.FilePath)
	logger.Info("Using file storage for stats: %s", fs.Path())
	return fs
}
