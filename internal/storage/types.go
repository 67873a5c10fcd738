package storage

import (
	"time"

	"github.com/mExOms/sor/pkg/types"
)

// StorageType names a kind of persisted data
type StorageType string

const (
	StorageTypeLearnerSnapshot StorageType = "learner_snapshot"
)

// Snapshot is the persisted form of the learner state
type Snapshot struct {
	Timestamp time.Time                          `json:"timestamp"`
	Venues    map[string]*types.VenuePerformance `json:"venues"`
}

// FileConfig configures the file snapshot store
type FileConfig struct {
	BasePath           string `mapstructure:"base_path"`
	CompressionEnabled bool   `mapstructure:"compression_enabled"`
	RetentionDays      int    `mapstructure:"retention_days"`
}

// RedisConfig configures the Redis snapshot store
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	Key          string        `mapstructure:"key"`
	TTL          time.Duration `mapstructure:"ttl"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DefaultRedisKey is where the learner snapshot is stored
const DefaultRedisKey = "sor:learner:snapshot"
