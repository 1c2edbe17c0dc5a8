package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Audio       AudioConfig      `yaml:"audio"`
	Encoder     EncoderConfig    `yaml:"encoder"`
	Session     SessionConfig    `yaml:"session"`
	Engine      EngineConfig     `yaml:"engine"`
	Permission  PermissionConfig `yaml:"permission"`
	Store       StoreConfig      `yaml:"store"`
	Archive     ArchiveConfig    `yaml:"archive"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// AudioConfig describes the capture side: device format plus the ring buffer
// that decouples the device callback from the encoder.
type AudioConfig struct {
	Device               string `yaml:"device"`
	SampleRate           int    `yaml:"sample_rate"`
	Channels             int    `yaml:"channels"`
	FrameDurationMS      int    `yaml:"frame_duration_ms"`
	BufferCapacityFrames int    `yaml:"buffer_capacity_frames"`
}

type EncoderConfig struct {
	ChunkWindowMS    int     `yaml:"chunk_window_ms"`
	OverlapRatio     float64 `yaml:"overlap_ratio"`
	TargetSampleRate int     `yaml:"target_sample_rate"`
}

type SessionConfig struct {
	FlushTimeoutMS int `yaml:"flush_timeout_ms"`
}

type EngineConfig struct {
	Mode           string `yaml:"mode"` // mock, exec
	Command        string `yaml:"command"`
	ModelPath      string `yaml:"model_path"`
	Language       string `yaml:"language"`
	PublishInterim bool   `yaml:"publish_interim"`
	PartialEveryMS int    `yaml:"partial_every_ms"`
	MaxInflight    int    `yaml:"max_inflight"`
}

type PermissionConfig struct {
	Mode string `yaml:"mode"` // granted, denied, prompt
}

type StoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Directory string `yaml:"directory"`
}

func Default() Config {
	return Config{
		RuntimeName: "scribe-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8090,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9092",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Audio: AudioConfig{
			Device:               "default",
			SampleRate:           48000,
			Channels:             1,
			FrameDurationMS:      20,
			BufferCapacityFrames: 100, // 2s of audio at 20ms frames
		},
		Encoder: EncoderConfig{
			ChunkWindowMS:    500,
			OverlapRatio:     0,
			TargetSampleRate: 16000,
		},
		Session: SessionConfig{
			FlushTimeoutMS: 3000,
		},
		Engine: EngineConfig{
			Mode:           "mock",
			Language:       "en",
			PublishInterim: true,
			PartialEveryMS: 800,
			MaxInflight:    2,
		},
		Permission: PermissionConfig{
			Mode: "granted",
		},
		Store: StoreConfig{
			Path:          "./data/scribe-transcripts.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Archive: ArchiveConfig{
			Enabled:   false,
			Directory: "./data/audio",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "SCRIBE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "SCRIBE_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SCRIBE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SCRIBE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "SCRIBE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SCRIBE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SCRIBE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "SCRIBE_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "SCRIBE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SCRIBE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "SCRIBE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SCRIBE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SCRIBE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SCRIBE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SCRIBE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SCRIBE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Audio.Device, "SCRIBE_AUDIO_DEVICE")
	overrideInt(&cfg.Audio.SampleRate, "SCRIBE_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "SCRIBE_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.FrameDurationMS, "SCRIBE_AUDIO_FRAME_DURATION_MS")
	overrideInt(&cfg.Audio.BufferCapacityFrames, "SCRIBE_AUDIO_BUFFER_CAPACITY_FRAMES")
	overrideInt(&cfg.Encoder.ChunkWindowMS, "SCRIBE_ENCODER_CHUNK_WINDOW_MS")
	overrideFloat(&cfg.Encoder.OverlapRatio, "SCRIBE_ENCODER_OVERLAP_RATIO")
	overrideInt(&cfg.Encoder.TargetSampleRate, "SCRIBE_ENCODER_TARGET_SAMPLE_RATE")
	overrideInt(&cfg.Session.FlushTimeoutMS, "SCRIBE_SESSION_FLUSH_TIMEOUT_MS")
	overrideString(&cfg.Engine.Mode, "SCRIBE_ENGINE_MODE")
	overrideString(&cfg.Engine.Command, "SCRIBE_ENGINE_COMMAND")
	overrideString(&cfg.Engine.ModelPath, "SCRIBE_ENGINE_MODEL_PATH")
	overrideString(&cfg.Engine.Language, "SCRIBE_ENGINE_LANGUAGE")
	overrideBool(&cfg.Engine.PublishInterim, "SCRIBE_ENGINE_PUBLISH_INTERIM")
	overrideInt(&cfg.Engine.PartialEveryMS, "SCRIBE_ENGINE_PARTIAL_EVERY_MS")
	overrideInt(&cfg.Engine.MaxInflight, "SCRIBE_ENGINE_MAX_INFLIGHT")
	overrideString(&cfg.Permission.Mode, "SCRIBE_PERMISSION_MODE")
	overrideString(&cfg.Store.Path, "SCRIBE_STORE_PATH")
	overrideString(&cfg.Store.RetentionMode, "SCRIBE_STORE_RETENTION_MODE")
	overrideInt(&cfg.Store.RetentionDays, "SCRIBE_STORE_RETENTION_DAYS")
	overrideInt(&cfg.Store.MaxSessions, "SCRIBE_STORE_MAX_SESSIONS")
	overrideBool(&cfg.Store.VacuumOnStart, "SCRIBE_STORE_VACUUM_ON_START")
	overrideBool(&cfg.Archive.Enabled, "SCRIBE_ARCHIVE_ENABLED")
	overrideString(&cfg.Archive.Directory, "SCRIBE_ARCHIVE_DIRECTORY")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels <= 0 {
		return errors.New("audio.channels must be positive")
	}
	if cfg.Audio.FrameDurationMS <= 0 {
		return errors.New("audio.frame_duration_ms must be positive")
	}
	if cfg.Audio.BufferCapacityFrames <= 0 {
		return errors.New("audio.buffer_capacity_frames must be positive")
	}
	if cfg.Encoder.ChunkWindowMS <= 0 {
		return errors.New("encoder.chunk_window_ms must be positive")
	}
	if cfg.Encoder.OverlapRatio < 0 || cfg.Encoder.OverlapRatio >= 1 {
		return errors.New("encoder.overlap_ratio must be in [0, 1)")
	}
	if cfg.Encoder.TargetSampleRate <= 0 {
		return errors.New("encoder.target_sample_rate must be positive")
	}
	if cfg.Session.FlushTimeoutMS <= 0 {
		return errors.New("session.flush_timeout_ms must be positive")
	}
	switch cfg.Engine.Mode {
	case "mock", "exec":
	default:
		return errors.New("engine.mode must be one of mock|exec")
	}
	if cfg.Engine.Mode == "exec" && cfg.Engine.Command == "" {
		return errors.New("engine.command must be set when mode=exec")
	}
	if cfg.Engine.MaxInflight <= 0 {
		return errors.New("engine.max_inflight must be >= 1")
	}
	switch cfg.Permission.Mode {
	case "granted", "denied", "prompt":
	default:
		return errors.New("permission.mode must be one of granted|denied|prompt")
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	switch cfg.Store.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Store.RetentionDays < 0 {
		return errors.New("store.retention_days must be >= 0")
	}
	if cfg.Archive.Enabled && cfg.Archive.Directory == "" {
		return errors.New("archive.directory must not be empty when archiving is enabled")
	}
	return nil
}
