package infra

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации control plane.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Session     SessionConfig     `mapstructure:"session"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logger      LoggerConfig      `mapstructure:"logger"`

	// Внешне видимый базовый URL. Используется только для информационных
	// ссылок (verification_uri, OC_API_URL), не для security-решений.
	BaseURL string `mapstructure:"base_url"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// AuthConfig задаёт TTL креденшлов и режим подтверждения device-flow.
type AuthConfig struct {
	DeviceCodeTTL   time.Duration `mapstructure:"device_code_ttl"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	SessionTokenTTL time.Duration `mapstructure:"session_token_ttl"`
	// Референсное поведение — мгновенный аппрув device code при выдаче.
	// false переводит flow в честную двухшаговую модель: показать код →
	// дождаться POST /v1/auth/device/approve → обменять.
	AutoApproveDevice bool `mapstructure:"auto_approve_device"`
}

// SessionConfig — лимиты и срок жизни сессий.
type SessionConfig struct {
	// LifetimeSeconds читается и из ENV (SESSION_LIFETIME). Невалидные или
	// неположительные значения молча заменяются дефолтом в 4 часа.
	LifetimeSeconds             int64 `mapstructure:"lifetime"`
	DefaultCostLimitCents       int64 `mapstructure:"default_cost_limit_cents"`
	DefaultDurationLimitSeconds int64 `mapstructure:"default_duration_limit_seconds"`
	DefaultActionLimit          int64 `mapstructure:"default_action_limit"`
}

// Lifetime — срок жизни сессии как Duration.
func (c SessionConfig) Lifetime() time.Duration {
	return time.Duration(c.LifetimeSeconds) * time.Second
}

// MaintenanceConfig управляет фоновым свипом. Ноль выключает его:
// ленивый inline-свип на каждом запросе остаётся в любом случае.
type MaintenanceConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// MetricsConfig — адрес отдельного listener'а для /metrics.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

const defaultSessionLifetimeSeconds = 4 * 60 * 60

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// 2. ENV перекрывает файл: SESSION_LIFETIME=7200 перекроет session.lifetime
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Дефолты
	setDefaults(v)

	// 4. Чтение файла; отсутствие файла — штатный режим (ENV + дефолты)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Контракт по session.lifetime: нечисловое значение из ENV не валит
	// процесс, а заменяется дефолтом ещё до анмаршала.
	if _, err := strconv.ParseInt(v.GetString("session.lifetime"), 10, 64); err != nil {
		v.Set("session.lifetime", defaultSessionLifetimeSeconds)
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	normalize(&cfg)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)

	v.SetDefault("auth.device_code_ttl", 600*time.Second)
	v.SetDefault("auth.access_token_ttl", time.Hour)
	v.SetDefault("auth.session_token_ttl", 15*time.Minute)
	v.SetDefault("auth.auto_approve_device", true)

	v.SetDefault("session.lifetime", defaultSessionLifetimeSeconds)
	v.SetDefault("session.default_cost_limit_cents", 500)
	v.SetDefault("session.default_duration_limit_seconds", 300)
	v.SetDefault("session.default_action_limit", 100)

	v.SetDefault("maintenance.sweep_interval", time.Minute)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("base_url", "http://localhost:8080")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// normalize чинит значения, с которыми ядро не может работать.
// Контракт по session lifetime: не распарсилось в положительное число —
// работаем на дефолте, процесс не валим.
func normalize(cfg *Config) {
	if cfg.Session.LifetimeSeconds <= 0 {
		cfg.Session.LifetimeSeconds = defaultSessionLifetimeSeconds
	}
	if cfg.Session.DefaultCostLimitCents <= 0 {
		cfg.Session.DefaultCostLimitCents = 500
	}
	if cfg.Session.DefaultDurationLimitSeconds <= 0 {
		cfg.Session.DefaultDurationLimitSeconds = 300
	}
	if cfg.Session.DefaultActionLimit <= 0 {
		cfg.Session.DefaultActionLimit = 100
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Maintenance.SweepInterval < 0 {
		cfg.Maintenance.SweepInterval = 0
	}
}
