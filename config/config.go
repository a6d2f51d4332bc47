package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config is the resolved server configuration: built-in defaults, then
// the optional TOML file, then MESS_* environment overrides.
type Config struct {
	Addr         string
	DBPath       string
	ReadTimeout  int // seconds
	WriteTimeout int // seconds
	MetricsAddr  string

	PersistChatMessages bool
	RequireFriendship   bool
	MaxFrameBuffer      int
}

type tomlConfig struct {
	Server  serverSection  `toml:"server"`
	Routing routingSection `toml:"routing"`
	Limits  limitsSection  `toml:"limits"`
}

type serverSection struct {
	Addr         string `toml:"addr"`
	DBPath       string `toml:"db_path"`
	ReadTimeout  int    `toml:"read_timeout_seconds"`
	WriteTimeout int    `toml:"write_timeout_seconds"`
	MetricsAddr  string `toml:"metrics_addr"`
}

type routingSection struct {
	PersistChatMessages *bool `toml:"persist_chat_messages"`
	RequireFriendship   *bool `toml:"require_friendship"`
}

type limitsSection struct {
	MaxFrameBuffer int `toml:"max_frame_buffer"`
}

func Default() *Config {
	return &Config{
		Addr:                "127.0.0.1:9090",
		DBPath:              "mess.db",
		ReadTimeout:         120,
		WriteTimeout:        30,
		MetricsAddr:         "", // disabled
		PersistChatMessages: true,
		RequireFriendship:   true,
		MaxFrameBuffer:      1024 * 1024,
	}
}

// Load resolves the configuration. When path names a missing file it
// is created with the defaults so an operator has something to edit;
// an empty path skips the file layer entirely.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			var file tomlConfig
			if _, err := toml.DecodeFile(path, &file); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
			cfg.applyFile(file)
		} else if os.IsNotExist(err) {
			if err := cfg.write(path); err != nil {
				return nil, fmt.Errorf("write default config file %s: %w", path, err)
			}
		} else {
			return nil, fmt.Errorf("stat config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (cfg *Config) write(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	persist := cfg.PersistChatMessages
	friendship := cfg.RequireFriendship
	file := tomlConfig{
		Server: serverSection{
			Addr:         cfg.Addr,
			DBPath:       cfg.DBPath,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			MetricsAddr:  cfg.MetricsAddr,
		},
		Routing: routingSection{
			PersistChatMessages: &persist,
			RequireFriendship:   &friendship,
		},
		Limits: limitsSection{
			MaxFrameBuffer: cfg.MaxFrameBuffer,
		},
	}
	return toml.NewEncoder(f).Encode(file)
}

func (cfg *Config) applyFile(file tomlConfig) {
	if file.Server.Addr != "" {
		cfg.Addr = file.Server.Addr
	}
	if file.Server.DBPath != "" {
		cfg.DBPath = file.Server.DBPath
	}
	if file.Server.ReadTimeout > 0 {
		cfg.ReadTimeout = file.Server.ReadTimeout
	}
	if file.Server.WriteTimeout > 0 {
		cfg.WriteTimeout = file.Server.WriteTimeout
	}
	if file.Server.MetricsAddr != "" {
		cfg.MetricsAddr = file.Server.MetricsAddr
	}
	if file.Routing.PersistChatMessages != nil {
		cfg.PersistChatMessages = *file.Routing.PersistChatMessages
	}
	if file.Routing.RequireFriendship != nil {
		cfg.RequireFriendship = *file.Routing.RequireFriendship
	}
	if file.Limits.MaxFrameBuffer > 0 {
		cfg.MaxFrameBuffer = file.Limits.MaxFrameBuffer
	}
}

func (cfg *Config) applyEnv() {
	if addr := os.Getenv("MESS_ADDR"); addr != "" {
		cfg.Addr = addr
	}

	if dbPath := os.Getenv("MESS_DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	}

	if timeoutStr := os.Getenv("MESS_READ_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.ReadTimeout = timeout
		}
	}

	if timeoutStr := os.Getenv("MESS_WRITE_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.WriteTimeout = timeout
		}
	}

	if addr := os.Getenv("MESS_METRICS_ADDR"); addr != "" {
		cfg.MetricsAddr = addr
	}

	if boolStr := os.Getenv("MESS_PERSIST_CHAT_MESSAGES"); boolStr != "" {
		if val, err := strconv.ParseBool(boolStr); err == nil {
			cfg.PersistChatMessages = val
		}
	}

	if boolStr := os.Getenv("MESS_REQUIRE_FRIENDSHIP"); boolStr != "" {
		if val, err := strconv.ParseBool(boolStr); err == nil {
			cfg.RequireFriendship = val
		}
	}

	if sizeStr := os.Getenv("MESS_MAX_FRAME_BUFFER"); sizeStr != "" {
		if size, err := strconv.Atoi(sizeStr); err == nil && size > 0 {
			cfg.MaxFrameBuffer = size
		}
	}
}
