package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RequiredSampleRate is the only mixing rate the engine supports
const RequiredSampleRate = 44100

// Config holds all configuration for the editor engine
type Config struct {
	Engine   EngineConfig
	Logging  LoggingConfig
	FFmpeg   FFmpegConfig
	Probe    ProbeConfig
	Playback PlaybackConfig
	Shutdown ShutdownConfig
	Analysis AnalysisConfig
	Export   ExportConfig
	Cache    CacheConfig
	Storage  StorageConfig
	Database DatabaseConfig
	Metrics  MetricsConfig
	Tracing  TracingConfig
}

// EngineConfig holds the project defaults used by the compositor and mixer
type EngineConfig struct {
	ProjectFPS float64
	SampleRate int
	Width      int
	Height     int
	MasterGain float64
	ProxyMode  bool
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level    string
	Format   string
	Output   string
	FilePath string
}

// FFmpegConfig locates the external tools
type FFmpegConfig struct {
	FFmpegPath  string
	FFprobePath string
	TempDir     string
}

// ProbeConfig holds the fast prober options
type ProbeConfig struct {
	Timeout   time.Duration
	ProbeSize int64
}

// PlaybackConfig holds scheduler tuning
type PlaybackConfig struct {
	TickRate       int
	LowWater       time.Duration
	Capacity       time.Duration
	AudioSleep     time.Duration
	FrameCacheSize int
}

// ShutdownConfig holds the join budgets
type ShutdownConfig struct {
	Audio  time.Duration
	Worker time.Duration
	Export time.Duration
}

// AnalysisConfig holds background worker configuration
type AnalysisConfig struct {
	MaxConcurrent   int
	ProxyDir        string
	AutoProxy       bool
	ProxyHeight     int
	WaveformBuckets int
}

// ExportConfig holds render defaults
type ExportConfig struct {
	ProgressEvery int
	Preset        string
	CRF           int
	AudioKbps     int
}

// CacheConfig holds the optional Redis analysis cache
type CacheConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration
}

// StorageConfig holds the optional object storage used to publish exports
type StorageConfig struct {
	Enabled         bool
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
}

// DatabaseConfig holds the optional export history database
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// MetricsConfig holds the metrics endpoint configuration. Port 0 disables it.
type MetricsConfig struct {
	Port int
}

// TracingConfig holds tracer configuration. An empty endpoint disables reporting.
type TracingConfig struct {
	ServiceName string
	Endpoint    string
	SampleRate  float64
}

// Load reads configuration from an optional file and environment variables.
// An empty path loads defaults and environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	if c.Engine.SampleRate != RequiredSampleRate {
		return fmt.Errorf("invalid sample rate %d: only %d is supported", c.Engine.SampleRate, RequiredSampleRate)
	}
	if c.Engine.ProjectFPS <= 0 {
		return fmt.Errorf("invalid project fps %v", c.Engine.ProjectFPS)
	}
	if c.Engine.Width <= 0 || c.Engine.Height <= 0 {
		return fmt.Errorf("invalid project resolution %dx%d", c.Engine.Width, c.Engine.Height)
	}
	if c.Playback.TickRate <= 0 {
		return fmt.Errorf("invalid tick rate %d", c.Playback.TickRate)
	}
	if c.Playback.LowWater > c.Playback.Capacity {
		return fmt.Errorf("audio low-water %v exceeds capacity %v", c.Playback.LowWater, c.Playback.Capacity)
	}
	if c.Analysis.MaxConcurrent < 1 {
		return fmt.Errorf("analysis.maxConcurrent must be at least 1")
	}
	if c.Export.ProgressEvery < 1 {
		return fmt.Errorf("export.progressEvery must be at least 1")
	}
	return nil
}

func bindEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"engine.projectFPS": "PROJECT_FPS",
		"engine.sampleRate": "AUDIO_SAMPLE_RATE",
		"logging.level":     "ENGINE_LOG_LEVEL",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Engine defaults
	v.SetDefault("engine.projectFPS", 30)
	v.SetDefault("engine.sampleRate", RequiredSampleRate)
	v.SetDefault("engine.width", 1920)
	v.SetDefault("engine.height", 1080)
	v.SetDefault("engine.masterGain", 1.0)
	v.SetDefault("engine.proxyMode", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.filePath", "")

	// FFmpeg defaults
	v.SetDefault("ffmpeg.ffmpegPath", "ffmpeg")
	v.SetDefault("ffmpeg.ffprobePath", "ffprobe")
	v.SetDefault("ffmpeg.tempDir", "")

	// Probe defaults
	v.SetDefault("probe.timeout", "4s")
	v.SetDefault("probe.probeSize", 20*1000*1000) // 20MB

	// Playback defaults
	v.SetDefault("playback.tickRate", 60)
	v.SetDefault("playback.lowWater", "250ms")
	v.SetDefault("playback.capacity", "1s")
	v.SetDefault("playback.audioSleep", "20ms")
	v.SetDefault("playback.frameCacheSize", 8)

	// Shutdown budgets
	v.SetDefault("shutdown.audio", "2s")
	v.SetDefault("shutdown.worker", "500ms")
	v.SetDefault("shutdown.export", "1s")

	// Analysis defaults
	v.SetDefault("analysis.maxConcurrent", 2)
	v.SetDefault("analysis.proxyDir", "")
	v.SetDefault("analysis.autoProxy", true)
	v.SetDefault("analysis.proxyHeight", 540)
	v.SetDefault("analysis.waveformBuckets", 1200)

	// Export defaults
	v.SetDefault("export.progressEvery", 5)
	v.SetDefault("export.preset", "medium")
	v.SetDefault("export.crf", 23)
	v.SetDefault("export.audioKbps", 192)

	// Cache defaults
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.host", "localhost")
	v.SetDefault("cache.port", 6379)
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", "168h")

	// Storage defaults
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.accessKeyID", "minioadmin")
	v.SetDefault("storage.secretAccessKey", "minioadmin")
	v.SetDefault("storage.bucketName", "exports")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.useSSL", false)

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "montage")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxConns", 5)
	v.SetDefault("database.minConns", 1)

	// Metrics and tracing defaults
	v.SetDefault("metrics.port", 0)
	v.SetDefault("tracing.serviceName", "montage")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sampleRate", 1.0)
}
