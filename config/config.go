package config

import (
	"errors"
	"fmt"
	"io/fs"

	"csrbridge/util/env"

	"github.com/BurntSushi/toml"
)

const (
	EnvTransport = "CSRBRIDGE_TRANSPORT"
	EnvMetadata  = "CSRBRIDGE_METADATA"
	EnvLogLevel  = "CSRBRIDGE_LOG_LEVEL"
	EnvLogFile   = "CSRBRIDGE_LOG_FILE"
)

type Config struct {
	// Transport is a driver URL such as "usb:" or "tcp://host:7441".
	Transport string `toml:"transport"`
	// Metadata is the path of the interface metadata JSON file.
	Metadata string `toml:"metadata"`

	Log    LogConfig    `toml:"log"`
	Relay  RelayConfig  `toml:"relay"`
	Serial SerialConfig `toml:"serial"`
	USB    USBConfig    `toml:"usb"`
}

type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// RelayConfig holds listen addresses for `serve`; empty disables a listener.
type RelayConfig struct {
	Device  string `toml:"device"`
	TCP     string `toml:"tcp"`
	WS      string `toml:"ws"`
	GRPC    string `toml:"grpc"`
	Metrics string `toml:"metrics"`
}

// SerialConfig applies to serial: URLs. VID and PID select a USB serial
// adapter when the URL names no port.
type SerialConfig struct {
	VID  string `toml:"vid"`
	PID  string `toml:"pid"`
	Baud int    `toml:"baud"`
}

// USBConfig applies to usb: URLs.
type USBConfig struct {
	VID       string `toml:"vid"`
	PID       string `toml:"pid"`
	Interface string `toml:"interface"`
}

func Default() Config {
	return Config{
		Transport: "usb:",
		Log: LogConfig{
			Level: "info",
		},
		Relay: RelayConfig{
			Device: "usb:",
			TCP:    "127.0.0.1:7441",
		},
		Serial: SerialConfig{
			Baud: 921600,
		},
		USB: USBConfig{
			VID:       "1209",
			PID:       "3443",
			Interface: "katsuo.bridge",
		},
	}
}

// Load reads the TOML file at path over the defaults. A missing file is not
// an error. Environment variables override values from the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if err == nil {
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				return Config{}, fmt.Errorf("config: %s: unknown key %q", path, undecoded[0].String())
			}
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Transport = env.GetOrDefault(EnvTransport, cfg.Transport)
	cfg.Metadata = env.GetOrDefault(EnvMetadata, cfg.Metadata)
	cfg.Log.Level = env.GetOrDefault(EnvLogLevel, cfg.Log.Level)
	cfg.Log.File = env.GetOrDefault(EnvLogFile, cfg.Log.File)
}
