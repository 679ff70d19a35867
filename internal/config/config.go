package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	NATS        NATSConfig        `yaml:"nats"`
	MinIO       MinIOConfig       `yaml:"minio"`
	Redis       RedisConfig       `yaml:"redis"`
	Vision      VisionConfig      `yaml:"vision"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Presence    PresenceConfig    `yaml:"presence"`
	Report      ReportConfig      `yaml:"report"`
	Cameras     []CameraConfig    `yaml:"cameras"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Port        int     `yaml:"port"`
	APIKey      string  `yaml:"api_key"`
	ReportRPS   float64 `yaml:"report_rps"`
	ReportBurst int     `yaml:"report_burst"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
	// URL takes precedence over the individual fields when set.
	URL string `yaml:"url"`
}

func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	WorkerCount        int     `yaml:"worker_count"`
	FrameWidth         int     `yaml:"frame_width"`
}

type RecognitionConfig struct {
	// Tolerance is the maximum Euclidean distance accepted as a match.
	Tolerance         float64 `yaml:"tolerance"`
	EmbeddingDim      int     `yaml:"embedding_dim"`
	MinFaceConfidence float64 `yaml:"min_face_confidence"`
}

type PresenceConfig struct {
	DebounceWindow time.Duration `yaml:"debounce_window"`
	PersistTimeout time.Duration `yaml:"persist_timeout"`
	// MaxClockSkew bounds how far ahead of server time a client supplied
	// observation timestamp may be.
	MaxClockSkew   time.Duration `yaml:"max_clock_skew"`
}

type ReportConfig struct {
	Timezone       string        `yaml:"timezone"`
	MidnightPolicy string        `yaml:"midnight_policy"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	MaxRangeDays   int           `yaml:"max_range_days"`
}

// Location resolves Timezone, falling back to UTC.
func (r ReportConfig) Location() (*time.Location, error) {
	if r.Timezone == "" || r.Timezone == "UTC" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", r.Timezone, err)
	}
	return loc, nil
}

type CameraConfig struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
	FPS int    `yaml:"fps"`
}

type StorageConfig struct {
	// FrameRetention is the number of raw frames kept per camera (0 disables cleanup).
	FrameRetention int `yaml:"frame_retention"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FromEnv builds a config from defaults and environment variables only.
// Used by the admin CLI when no config file is present.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	setDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReportRPS == 0 {
		cfg.Server.ReportRPS = 10
	}
	if cfg.Server.ReportBurst == 0 {
		cfg.Server.ReportBurst = 20
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Vision.WorkerCount == 0 {
		cfg.Vision.WorkerCount = 4
	}
	if cfg.Vision.FrameWidth == 0 {
		cfg.Vision.FrameWidth = 1280
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Recognition.Tolerance == 0 {
		cfg.Recognition.Tolerance = 0.6
	}
	if cfg.Recognition.EmbeddingDim == 0 {
		cfg.Recognition.EmbeddingDim = 512
	}
	if cfg.Presence.DebounceWindow == 0 {
		cfg.Presence.DebounceWindow = 30 * time.Second
	}
	if cfg.Presence.PersistTimeout == 0 {
		cfg.Presence.PersistTimeout = 2 * time.Second
	}
	if cfg.Presence.MaxClockSkew == 0 {
		cfg.Presence.MaxClockSkew = 10 * time.Second
	}
	if cfg.Report.Timezone == "" {
		cfg.Report.Timezone = "UTC"
	}
	if cfg.Report.MidnightPolicy == "" {
		cfg.Report.MidnightPolicy = "split"
	}
	if cfg.Report.CacheTTL == 0 {
		cfg.Report.CacheTTL = 24 * time.Hour
	}
	if cfg.Report.MaxRangeDays == 0 {
		cfg.Report.MaxRangeDays = 62
	}
	for i := range cfg.Cameras {
		if cfg.Cameras[i].FPS == 0 {
			cfg.Cameras[i].FPS = 5
		}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validate(cfg *Config) error {
	if cfg.Recognition.Tolerance < 0 {
		return fmt.Errorf("recognition.tolerance must not be negative")
	}
	if cfg.Presence.DebounceWindow < 0 {
		return fmt.Errorf("presence.debounce_window must not be negative")
	}
	if cfg.Presence.MaxClockSkew < 0 {
		return fmt.Errorf("presence.max_clock_skew must not be negative")
	}
	switch cfg.Report.MidnightPolicy {
	case "split", "drop":
	default:
		return fmt.Errorf("report.midnight_policy must be split or drop, got %q", cfg.Report.MidnightPolicy)
	}
	if _, err := cfg.Report.Location(); err != nil {
		return err
	}
	seen := make(map[string]bool, len(cfg.Cameras))
	for _, cam := range cfg.Cameras {
		if cam.ID == "" || cam.URL == "" {
			return fmt.Errorf("camera entries need both id and url")
		}
		if seen[cam.ID] {
			return fmt.Errorf("duplicate camera id %q", cam.ID)
		}
		seen[cam.ID] = true
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PRESENCE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PRESENCE_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("PRESENCE_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("PRESENCE_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("PRESENCE_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("PRESENCE_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("PRESENCE_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("PRESENCE_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("PRESENCE_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("PRESENCE_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("PRESENCE_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("PRESENCE_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("PRESENCE_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("PRESENCE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PRESENCE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PRESENCE_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("PRESENCE_VISION_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vision.WorkerCount = n
		}
	}
	if v := os.Getenv("PRESENCE_TOLERANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Recognition.Tolerance = f
		}
	}
	if v := os.Getenv("PRESENCE_DEBOUNCE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Presence.DebounceWindow = d
		}
	}
	if v := os.Getenv("PRESENCE_MAX_CLOCK_SKEW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Presence.MaxClockSkew = d
		}
	}
	if v := os.Getenv("PRESENCE_REPORT_TIMEZONE"); v != "" {
		cfg.Report.Timezone = v
	}
	if v := os.Getenv("PRESENCE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
