package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// WebSocket keepalive parameters shared by the connection handler.
const (
	// MaxMessageSize bounds inbound frames; the realtime channel only
	// carries small typing signals, media goes over the REST surface.
	MaxMessageSize int64 = 4096

	// WriteWait is the deadline for a single outbound write.
	WriteWait = 10 * time.Second

	// PongWait is how long we wait for a pong before dropping the peer.
	PongWait = 60 * time.Second

	// PingPeriod must be shorter than PongWait.
	PingPeriod = (PongWait * 9) / 10
)

// Lifecycle timing parameters.
const (
	// TypingIdle is how long a typist may stay silent before the tracker
	// emits userStoppedTyping on their behalf.
	TypingIdle = 3 * time.Second

	// TypingSweep is the sweep interval; it bounds worst-case stop latency.
	TypingSweep = 1 * time.Second

	// PendingTTL is how long a freshly confirmed message id stays in the
	// client-side pending set to absorb duplicate hub deliveries.
	PendingTTL = 2 * time.Second
)

// Config holds runtime settings merged from defaults, an optional yaml
// file and environment variables (env wins).
type Config struct {
	ServerAddr string `yaml:"server_addr"`
	NatsURL    string `yaml:"nats_url"`
	DBPath     string `yaml:"db_path"`
	UploadDir  string `yaml:"upload_dir"`
	Debug      bool   `yaml:"debug"`
}

func defaults() Config {
	return Config{
		ServerAddr: ":8080",
		NatsURL:    "nats://127.0.0.1:4222",
		DBPath:     "data/chat.db",
		UploadDir:  "data/uploads",
	}
}

// Load reads the optional yaml file at path (ignored when absent) and
// applies environment overrides.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path != "" {
		b, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, err
			}
		} else if !os.IsNotExist(err) {
			return cfg, err
		}
	}
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.ServerAddr = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NatsURL = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("UPLOAD_DIR"); v != "" {
		cfg.UploadDir = v
	}
	if v := os.Getenv("DEBUG"); v == "1" || v == "true" {
		cfg.Debug = true
	}
	return cfg, nil
}
