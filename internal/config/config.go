// Package config loads ibis's on-disk configuration: the FileManager's
// resident mapping budget, partition directory defaults, and the notify
// hub's listen address.
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/relicstore/ibis/core/errorsx"
)

// Config is the top-level configuration loaded from a TOML file. Zero
// value fields fall back to DefaultConfig's values via Load.
type Config struct {
	Storage   StorageConfig   `toml:"storage"`
	Partition PartitionConfig `toml:"partition"`
	Notify    NotifyConfig    `toml:"notify"`
}

// StorageConfig bounds core/storage.FileManager's resident mapping budget.
type StorageConfig struct {
	// MaxBytes is the total resident mapped-byte budget before LRU
	// eviction kicks in. 0 means unlimited.
	MaxBytes int64 `toml:"max_bytes"`
}

// PartitionConfig names the default partition/backup directory pair
// cmd/ibis operates on when no path is given explicitly.
type PartitionConfig struct {
	Dir       string `toml:"dir"`
	BackupDir string `toml:"backup_dir"`
}

// NotifyConfig configures the websocket mutation-event hub.
type NotifyConfig struct {
	ListenAddr    string        `toml:"listen_addr"`
	ClientSendBuf int           `toml:"client_send_buffer"`
	WriteTimeout  time.Duration `toml:"write_timeout"`
	PingInterval  time.Duration `toml:"ping_interval"`
}

// DefaultConfig returns ibis's built-in defaults, used whenever a config
// file is absent or a field is left zero-valued.
func DefaultConfig() Config {
	return Config{
		Storage: StorageConfig{
			MaxBytes: 256 << 20,
		},
		Partition: PartitionConfig{
			Dir:       "./data/active",
			BackupDir: "./data/backup",
		},
		Notify: NotifyConfig{
			ListenAddr:    ":8765",
			ClientSendBuf: 256,
			WriteTimeout:  10 * time.Second,
			PingInterval:  54 * time.Second,
		},
	}
}

// Load reads a TOML config file at path, overlaying its fields onto
// DefaultConfig. A missing file is not an error; Load simply returns the
// defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return Config{}, errorsx.NewIoError("decode", path, err)
	}
	_ = meta // undecoded-key checking is left to the caller if it cares
	cfg.fillZeroes()
	return cfg, nil
}

// fillZeroes restores DefaultConfig's values for any field Load's caller
// left zeroed in a partial config file.
func (c *Config) fillZeroes() {
	d := DefaultConfig()
	if c.Storage.MaxBytes == 0 {
		c.Storage.MaxBytes = d.Storage.MaxBytes
	}
	if c.Partition.Dir == "" {
		c.Partition.Dir = d.Partition.Dir
	}
	if c.Partition.BackupDir == "" {
		c.Partition.BackupDir = d.Partition.BackupDir
	}
	if c.Notify.ListenAddr == "" {
		c.Notify.ListenAddr = d.Notify.ListenAddr
	}
	if c.Notify.ClientSendBuf == 0 {
		c.Notify.ClientSendBuf = d.Notify.ClientSendBuf
	}
	if c.Notify.WriteTimeout == 0 {
		c.Notify.WriteTimeout = d.Notify.WriteTimeout
	}
	if c.Notify.PingInterval == 0 {
		c.Notify.PingInterval = d.Notify.PingInterval
	}
}
