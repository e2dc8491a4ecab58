package common

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Sink names accepted in Config.Sinks.Order.
const (
	SinkPostgres = "postgres"
	SinkSQLite   = "sqlite"
	SinkXLSX     = "xlsx"
	SinkAMQP     = "amqp"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Album      AlbumConfig      `toml:"album"`
	Photo      PhotoConfig      `toml:"photo"`
	LLM        LLMConfig        `toml:"llm"`
	Taxonomy   TaxonomyConfig   `toml:"taxonomy"`
	Validation ValidationConfig `toml:"validation"`
	Worker     WorkerConfig     `toml:"worker"`
	Sinks      SinksConfig      `toml:"sinks"`
	Archive    ArchiveConfig    `toml:"archive"`
	Watch      WatchConfig      `toml:"watch"`
	Log        LogConfig        `toml:"log"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr string `toml:"http_addr" validate:"required"`
	GRPCAddr string `toml:"grpc_addr"`
}

// AlbumConfig controls how photos are grouped into submissions.
type AlbumConfig struct {
	Quiescence Duration `toml:"quiescence" validate:"gt=0"`
	MaxAge     Duration `toml:"max_age" validate:"gt=0"`
	MaxPhotos  int      `toml:"max_photos" validate:"gte=1"`
}

// PhotoConfig bounds a single uploaded photo.
type PhotoConfig struct {
	MaxBytes     int64 `toml:"max_bytes" validate:"gt=0"`
	MaxDimension int   `toml:"max_dimension" validate:"gte=0"`
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	Model       string   `toml:"model" validate:"required"`
	APIKey      string   `toml:"api_key"`
	BaseURL     string   `toml:"base_url" validate:"omitempty,url"`
	Temperature float32  `toml:"temperature" validate:"gte=0,lte=2"`
	Timeout     Duration `toml:"timeout" validate:"gt=0"`
	MaxTokens   int      `toml:"max_tokens" validate:"gt=0"`
	ImageDetail string   `toml:"image_detail" validate:"oneof=low high auto"`
	TranslateTo string   `toml:"translate_to"`
}

// TaxonomyConfig points at the category reference file.
type TaxonomyConfig struct {
	Path string `toml:"path" validate:"required"`
}

// ValidationConfig holds record normalization settings.
type ValidationConfig struct {
	DefaultCurrency string  `toml:"default_currency" validate:"len=3"`
	ToleranceAbs    float64 `toml:"tolerance_abs" validate:"gte=0"`
	TolerancePct    float64 `toml:"tolerance_pct" validate:"gte=0"`
	MaxQuantity     int     `toml:"max_item_quantity" validate:"gte=1"`
}

// WorkerConfig sizes the extraction worker pool.
type WorkerConfig struct {
	Workers        int      `toml:"workers" validate:"gte=1"`
	QueueSize      int      `toml:"queue_size" validate:"gte=1"`
	ProcessTimeout Duration `toml:"process_timeout" validate:"gt=0"`
}

// SinksConfig lists the persistence targets in invocation order.
type SinksConfig struct {
	Order    []string       `toml:"order"`
	Postgres DatabaseConfig `toml:"postgres"`
	SQLite   SQLiteConfig   `toml:"sqlite"`
	XLSX     XLSXConfig     `toml:"xlsx"`
	AMQP     AMQPConfig     `toml:"amqp"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string   `toml:"dsn"`
	MaxConns         int32    `toml:"max_conns"`
	MinConns         int32    `toml:"min_conns"`
	MaxConnLifetime  Duration `toml:"max_conn_lifetime"`
	MaxConnIdleTime  Duration `toml:"max_conn_idle_time"`
	DialTimeout      Duration `toml:"dial_timeout"`
	StatementTimeout Duration `toml:"statement_timeout"`
}

type SQLiteConfig struct {
	Path string `toml:"path"`
}

type XLSXConfig struct {
	Path string `toml:"path"`
}

type AMQPConfig struct {
	URL        string `toml:"url"`
	Exchange   string `toml:"exchange"`
	RoutingKey string `toml:"routing_key"`
}

// ArchiveConfig controls raw model response archiving.
type ArchiveConfig struct {
	RawDir string `toml:"raw_dir"`
}

// WatchConfig enables the folder transport when Roots is non-empty.
type WatchConfig struct {
	Roots    []string `toml:"roots"`
	Debounce Duration `toml:"debounce"`
}

type LogConfig struct {
	Level  string `toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `toml:"format" validate:"omitempty,oneof=text json"`
}

// Duration is a time.Duration that decodes from strings such as "2s" in TOML.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr: ":8081",
			GRPCAddr: ":8080",
		},
		Album: AlbumConfig{
			Quiescence: Duration(2 * time.Second),
			MaxAge:     Duration(30 * time.Second),
			MaxPhotos:  10,
		},
		Photo: PhotoConfig{
			MaxBytes:     20 << 20,
			MaxDimension: 2048,
		},
		LLM: LLMConfig{
			Model:       "gpt-4o",
			BaseURL:     "https://api.openai.com/v1",
			Timeout:     Duration(90 * time.Second),
			MaxTokens:   4000,
			ImageDetail: "high",
			TranslateTo: "Russian",
		},
		Taxonomy: TaxonomyConfig{
			Path: "data/receipt_categories.csv",
		},
		Validation: ValidationConfig{
			DefaultCurrency: "EUR",
			ToleranceAbs:    0.05,
			TolerancePct:    1.0,
			MaxQuantity:     1000,
		},
		Worker: WorkerConfig{
			Workers:        4,
			QueueSize:      256,
			ProcessTimeout: Duration(3 * time.Minute),
		},
		Sinks: SinksConfig{
			Postgres: DatabaseConfig{
				MaxConns:        20,
				MinConns:        2,
				MaxConnLifetime: Duration(30 * time.Minute),
				MaxConnIdleTime: Duration(5 * time.Minute),
				DialTimeout:     Duration(3 * time.Second),
			},
			SQLite: SQLiteConfig{Path: "receipts.db"},
			XLSX:   XLSXConfig{Path: "receipts.xlsx"},
			AMQP: AMQPConfig{
				Exchange:   "receipts",
				RoutingKey: "receipt.line_items",
			},
		},
		Watch: WatchConfig{
			Debounce: Duration(500 * time.Millisecond),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig builds configuration from defaults, an optional TOML file and
// environment variables, in that order of precedence (env wins).
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, NewAppError("CONFIG_ERROR", "load .env", err)
	}

	cfg := DefaultConfig()
	if path == "" {
		path = os.Getenv("RECEIPTS_CONFIG")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, NewAppError("CONFIG_ERROR", "read config file", err)
		}
		if err := toml.Unmarshal(raw, cfg); err != nil {
			return nil, NewAppError("CONFIG_ERROR", "decode config file "+path, err)
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(c *Config) {
	c.Server.HTTPAddr = getEnv("HTTP_ADDR", c.Server.HTTPAddr)
	c.Server.GRPCAddr = getEnv("GRPC_ADDR", c.Server.GRPCAddr)

	c.Album.Quiescence = getEnvAsDuration("ALBUM_QUIESCENCE", c.Album.Quiescence)
	c.Album.MaxAge = getEnvAsDuration("ALBUM_MAX_AGE", c.Album.MaxAge)
	c.Album.MaxPhotos = getEnvAsInt("ALBUM_MAX_PHOTOS", c.Album.MaxPhotos)

	c.Photo.MaxBytes = getEnvAsInt64("PHOTO_MAX_BYTES", c.Photo.MaxBytes)
	c.Photo.MaxDimension = getEnvAsInt("PHOTO_MAX_DIMENSION", c.Photo.MaxDimension)

	c.LLM.Model = getEnv("OPENAI_MODEL", c.LLM.Model)
	c.LLM.APIKey = getEnv("OPENAI_API_KEY", c.LLM.APIKey)
	c.LLM.BaseURL = getEnv("OPENAI_BASE_URL", c.LLM.BaseURL)
	c.LLM.Temperature = getEnvAsFloat32("OPENAI_TEMPERATURE", c.LLM.Temperature)
	c.LLM.Timeout = getEnvAsDuration("OPENAI_TIMEOUT", c.LLM.Timeout)
	c.LLM.MaxTokens = getEnvAsInt("OPENAI_MAX_TOKENS", c.LLM.MaxTokens)
	c.LLM.ImageDetail = getEnv("OPENAI_IMAGE_DETAIL", c.LLM.ImageDetail)
	c.LLM.TranslateTo = getEnv("TRANSLATE_TO", c.LLM.TranslateTo)

	c.Taxonomy.Path = getEnv("TAXONOMY_PATH", c.Taxonomy.Path)

	c.Validation.DefaultCurrency = strings.ToUpper(getEnv("DEFAULT_CURRENCY", c.Validation.DefaultCurrency))
	c.Validation.ToleranceAbs = getEnvAsFloat64("RECONCILE_TOLERANCE_ABS", c.Validation.ToleranceAbs)
	c.Validation.TolerancePct = getEnvAsFloat64("RECONCILE_TOLERANCE_PCT", c.Validation.TolerancePct)
	c.Validation.MaxQuantity = getEnvAsInt("MAX_ITEM_QUANTITY", c.Validation.MaxQuantity)

	c.Worker.Workers = getEnvAsInt("WORKERS", c.Worker.Workers)
	c.Worker.QueueSize = getEnvAsInt("QUEUE_SIZE", c.Worker.QueueSize)
	c.Worker.ProcessTimeout = getEnvAsDuration("PROCESS_TIMEOUT", c.Worker.ProcessTimeout)

	c.Sinks.Order = getEnvAsList("SINKS", c.Sinks.Order)
	pg := &c.Sinks.Postgres
	pg.DSN = getEnv("DB_URL", pg.DSN)
	pg.MaxConns = getEnvAsInt32("DB_MAX_CONNS", pg.MaxConns)
	pg.MinConns = getEnvAsInt32("DB_MIN_CONNS", pg.MinConns)
	pg.MaxConnLifetime = getEnvAsDuration("DB_MAX_CONN_LIFETIME", pg.MaxConnLifetime)
	pg.MaxConnIdleTime = getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", pg.MaxConnIdleTime)
	pg.DialTimeout = getEnvAsDuration("DB_DIAL_TIMEOUT", pg.DialTimeout)
	pg.StatementTimeout = getEnvAsDuration("DB_STATEMENT_TIMEOUT", pg.StatementTimeout)
	c.Sinks.SQLite.Path = getEnv("SQLITE_PATH", c.Sinks.SQLite.Path)
	c.Sinks.XLSX.Path = getEnv("XLSX_PATH", c.Sinks.XLSX.Path)
	c.Sinks.AMQP.URL = getEnv("AMQP_URL", c.Sinks.AMQP.URL)
	c.Sinks.AMQP.Exchange = getEnv("AMQP_EXCHANGE", c.Sinks.AMQP.Exchange)
	c.Sinks.AMQP.RoutingKey = getEnv("AMQP_ROUTING_KEY", c.Sinks.AMQP.RoutingKey)

	c.Archive.RawDir = getEnv("RAW_ARCHIVE_DIR", c.Archive.RawDir)
	c.Watch.Roots = getEnvAsList("WATCH_ROOTS", c.Watch.Roots)
	c.Watch.Debounce = getEnvAsDuration("WATCH_DEBOUNCE", c.Watch.Debounce)

	c.Log.Level = strings.ToLower(getEnv("LOG_LEVEL", c.Log.Level))
	c.Log.Format = strings.ToLower(getEnv("LOG_FORMAT", c.Log.Format))
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue Duration) Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return Duration(duration)
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var structValidator = validator.New()

// Validate validates the loaded configuration. A configuration without
// sinks is rejected here so the daemon never starts accepting photos it
// cannot persist.
func (c *Config) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		return NewAppError("CONFIG_ERROR", "invalid configuration", fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}
	if c.LLM.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required", ErrInvalidInput)
	}
	if c.Album.Quiescence > c.Album.MaxAge {
		return NewAppError("CONFIG_ERROR", "ALBUM_QUIESCENCE must not exceed ALBUM_MAX_AGE", ErrInvalidInput)
	}
	return c.ValidateSinks()
}

// ValidateSinks checks the sink list on its own; the extract command uses
// it without requiring the daemon settings.
func (c *Config) ValidateSinks() error {
	if len(c.Sinks.Order) == 0 {
		return NewAppError("CONFIG_ERROR", "at least one sink must be configured (SINKS)", ErrNoSinks)
	}
	seen := make(map[string]struct{}, len(c.Sinks.Order))
	for _, name := range c.Sinks.Order {
		if _, dup := seen[name]; dup {
			return NewAppError("CONFIG_ERROR", "sink listed twice: "+name, ErrInvalidInput)
		}
		seen[name] = struct{}{}

		switch name {
		case SinkPostgres:
			if c.Sinks.Postgres.DSN == "" {
				return NewAppError("CONFIG_ERROR", "DB_URL is required for the postgres sink", ErrInvalidInput)
			}
		case SinkSQLite:
			if c.Sinks.SQLite.Path == "" {
				return NewAppError("CONFIG_ERROR", "SQLITE_PATH is required for the sqlite sink", ErrInvalidInput)
			}
		case SinkXLSX:
			if c.Sinks.XLSX.Path == "" {
				return NewAppError("CONFIG_ERROR", "XLSX_PATH is required for the xlsx sink", ErrInvalidInput)
			}
		case SinkAMQP:
			if c.Sinks.AMQP.URL == "" || c.Sinks.AMQP.Exchange == "" {
				return NewAppError("CONFIG_ERROR", "AMQP_URL and AMQP_EXCHANGE are required for the amqp sink", ErrInvalidInput)
			}
		default:
			return NewAppError("CONFIG_ERROR", "unknown sink: "+name, ErrInvalidInput)
		}
	}
	return nil
}
