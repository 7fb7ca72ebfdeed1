package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/types"
	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" json:"server"`
	Database    DatabaseConfig    `yaml:"database" json:"database"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
	Transcoding TranscodingConfig `yaml:"transcoding" json:"transcoding"`
	Watch       WatchConfig       `yaml:"watch" json:"watch"`
	Cleanup     CleanupConfig     `yaml:"cleanup" json:"cleanup"`
}

// ServerConfig holds HTTP API configuration
type ServerConfig struct {
	Host         string        `yaml:"host" json:"host" env:"VODPACK_HOST"`
	Port         int           `yaml:"port" json:"port" env:"VODPACK_PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" env:"VODPACK_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" env:"VODPACK_WRITE_TIMEOUT"`
}

// DatabaseConfig holds job store configuration
type DatabaseConfig struct {
	Type         string `yaml:"type" json:"type" env:"VODPACK_DATABASE_TYPE"`
	DataDir      string `yaml:"data_dir" json:"data_dir" env:"VODPACK_DATA_DIR"`
	DatabasePath string `yaml:"database_path" json:"database_path" env:"VODPACK_DATABASE_PATH"`
	URL          string `yaml:"url" json:"url" env:"VODPACK_DATABASE_URL"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" env:"VODPACK_LOG_LEVEL"`
	Format string `yaml:"format" json:"format" env:"VODPACK_LOG_FORMAT"`
}

// TranscodingConfig holds pipeline configuration
type TranscodingConfig struct {
	FFmpegPath   string `yaml:"ffmpeg_path" json:"ffmpeg_path" env:"VODPACK_FFMPEG_PATH"`
	FFprobePath  string `yaml:"ffprobe_path" json:"ffprobe_path" env:"VODPACK_FFPROBE_PATH"`
	PackagerPath string `yaml:"packager_path" json:"packager_path" env:"VODPACK_PACKAGER_PATH"`

	WorkDir   string `yaml:"work_dir" json:"work_dir" env:"VODPACK_WORK_DIR"`
	OutputDir string `yaml:"output_dir" json:"output_dir" env:"VODPACK_OUTPUT_DIR"`

	// Ladder restricts the resolution ladder to the named rungs. Empty keeps all.
	Ladder                 []string      `yaml:"ladder" json:"ladder" env:"VODPACK_LADDER"`
	SegmentDurationSeconds int           `yaml:"segment_duration_seconds" json:"segment_duration_seconds" env:"VODPACK_SEGMENT_DURATION"`
	EncryptionEnabled      bool          `yaml:"encryption_enabled" json:"encryption_enabled" env:"VODPACK_ENCRYPTION_ENABLED"`
	MaxConcurrentEncodes   int           `yaml:"max_concurrent_encodes" json:"max_concurrent_encodes" env:"VODPACK_MAX_CONCURRENT_ENCODES"`
	MaxConcurrentJobs      int           `yaml:"max_concurrent_jobs" json:"max_concurrent_jobs" env:"VODPACK_MAX_CONCURRENT_JOBS"`
	SubprocessTimeout      time.Duration `yaml:"subprocess_timeout" json:"subprocess_timeout" env:"VODPACK_SUBPROCESS_TIMEOUT"`
	KillGracePeriod        time.Duration `yaml:"kill_grace_period" json:"kill_grace_period" env:"VODPACK_KILL_GRACE_PERIOD"`
	Resume                 bool          `yaml:"resume" json:"resume" env:"VODPACK_RESUME"`
	Poster                 bool          `yaml:"poster" json:"poster" env:"VODPACK_POSTER"`
	PosterQuality          float64       `yaml:"poster_quality" json:"poster_quality" env:"VODPACK_POSTER_QUALITY"`
}

// WatchConfig holds watch-folder ingest configuration
type WatchConfig struct {
	Enabled    bool          `yaml:"enabled" json:"enabled" env:"VODPACK_WATCH_ENABLED"`
	Dir        string        `yaml:"dir" json:"dir" env:"VODPACK_WATCH_DIR"`
	Extensions []string      `yaml:"extensions" json:"extensions" env:"VODPACK_WATCH_EXTENSIONS"`
	Debounce   time.Duration `yaml:"debounce" json:"debounce" env:"VODPACK_WATCH_DEBOUNCE"`
	Encrypt    bool          `yaml:"encrypt" json:"encrypt" env:"VODPACK_WATCH_ENCRYPT"`
}

// CleanupConfig holds intermediate-file retention settings
type CleanupConfig struct {
	Retention time.Duration `yaml:"retention" json:"retention" env:"VODPACK_CLEANUP_RETENTION"`
	Interval  time.Duration `yaml:"interval" json:"interval" env:"VODPACK_CLEANUP_INTERVAL"`
}

// ConfigManager holds the active configuration
type ConfigManager struct {
	config     *Config
	configPath string
	mu         sync.RWMutex
}

var (
	globalConfigManager *ConfigManager
	configOnce          sync.Once
)

// GetConfigManager returns the global configuration manager instance
func GetConfigManager() *ConfigManager {
	configOnce.Do(func() {
		globalConfigManager = NewConfigManager()
	})
	return globalConfigManager
}

// NewConfigManager creates a new configuration manager
func NewConfigManager() *ConfigManager {
	return &ConfigManager{config: DefaultConfig()}
}

// DefaultConfig returns the default application configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: "./vodpack-data",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Transcoding: TranscodingConfig{
			FFmpegPath:             "ffmpeg",
			FFprobePath:            "ffprobe",
			PackagerPath:           "packager",
			WorkDir:                "./vodpack-data/work",
			OutputDir:              "./vodpack-data/output",
			SegmentDurationSeconds: 6,
			MaxConcurrentEncodes:   0, // derived from host resources
			MaxConcurrentJobs:      1,
			SubprocessTimeout:      2 * time.Hour,
			KillGracePeriod:        5 * time.Second,
			PosterQuality:          80,
		},
		Watch: WatchConfig{
			Extensions: []string{".mp4", ".mkv", ".mov", ".avi", ".webm", ".m4v", ".ts"},
			Debounce:   2 * time.Second,
		},
		Cleanup: CleanupConfig{
			Retention: 0,
			Interval:  time.Hour,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func (cm *ConfigManager) LoadConfig(configPath string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.configPath = configPath
	newConfig := DefaultConfig()

	if configPath != "" && fileExists(configPath) {
		if err := loadFromFile(configPath, newConfig); err != nil {
			return fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := loadStructFromEnv(reflect.ValueOf(newConfig).Elem()); err != nil {
		return fmt.Errorf("failed to load config from environment: %w", err)
	}

	applyDerivedConfig(newConfig)

	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	cm.config = newConfig
	return nil
}

// GetConfig returns a copy of the current configuration
func (cm *ConfigManager) GetConfig() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	configCopy := *cm.config
	return &configCopy
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Type != "sqlite" && c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	if c.Database.Type == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("postgres database requires a url")
	}

	t := c.Transcoding
	if t.SegmentDurationSeconds <= 0 {
		return fmt.Errorf("invalid segment duration: %d", t.SegmentDurationSeconds)
	}
	if t.MaxConcurrentEncodes < 0 {
		return fmt.Errorf("invalid max concurrent encodes: %d", t.MaxConcurrentEncodes)
	}
	if t.MaxConcurrentJobs < 1 {
		return fmt.Errorf("invalid max concurrent jobs: %d", t.MaxConcurrentJobs)
	}
	if t.SubprocessTimeout < 0 {
		return fmt.Errorf("invalid subprocess timeout: %s", t.SubprocessTimeout)
	}
	if t.WorkDir == "" || t.OutputDir == "" {
		return fmt.Errorf("work_dir and output_dir are required")
	}
	if _, err := types.LadderByName(t.Ladder); err != nil {
		return err
	}

	if c.Watch.Enabled && c.Watch.Dir == "" {
		return fmt.Errorf("watch is enabled but no directory is set")
	}
	if c.Cleanup.Retention < 0 {
		return fmt.Errorf("invalid cleanup retention: %s", c.Cleanup.Retention)
	}

	return nil
}

// Pipeline builds the typed pipeline options from the transcoding section.
// Validate must have passed.
func (c *Config) Pipeline() types.PipelineConfig {
	t := c.Transcoding
	ladder, _ := types.LadderByName(t.Ladder)

	return types.PipelineConfig{
		ResolutionLadder:       ladder,
		SegmentDurationSeconds: t.SegmentDurationSeconds,
		EncryptionEnabled:      t.EncryptionEnabled,
		MaxConcurrentEncodes:   t.MaxConcurrentEncodes,
		MaxConcurrentJobs:      t.MaxConcurrentJobs,
		SubprocessTimeout:      t.SubprocessTimeout,
		KillGracePeriod:        t.KillGracePeriod,
		FFmpegPath:             t.FFmpegPath,
		FFprobePath:            t.FFprobePath,
		PackagerPath:           t.PackagerPath,
		WorkDir:                t.WorkDir,
		OutputDir:              t.OutputDir,
		Resume:                 t.Resume,
		Poster:                 t.Poster,
		PosterQuality:          float32(t.PosterQuality),
	}
}

func loadFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	case ".json":
		return json.Unmarshal(data, config)
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
}

func loadStructFromEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue, ok := os.LookupEnv(envTag)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from %s: %w", fieldType.Name, envTag, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(intVal)
		}
	case reflect.Float32, reflect.Float64:
		floatVal, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatVal)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolVal)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %v", field.Type())
		}
		values := strings.Split(value, ",")
		for i, v := range values {
			values[i] = strings.TrimSpace(v)
		}
		field.Set(reflect.ValueOf(values))
	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}

	return nil
}

func applyDerivedConfig(config *Config) {
	if config.Database.DatabasePath == "" && config.Database.Type == "sqlite" {
		config.Database.DatabasePath = filepath.Join(config.Database.DataDir, "vodpack.db")
	}
	if config.Watch.Debounce <= 0 {
		config.Watch.Debounce = 2 * time.Second
	}
	if config.Cleanup.Interval <= 0 {
		config.Cleanup.Interval = time.Hour
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Get returns the current global configuration
func Get() *Config {
	return GetConfigManager().GetConfig()
}

// Load loads configuration from the specified path into the global manager
func Load(configPath string) error {
	return GetConfigManager().LoadConfig(configPath)
}
