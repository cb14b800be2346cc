package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"

	"fleet-api/internal/validate"
)

type HTTP struct {
	Host            string
	Port            int
	ReadTimeoutSec  int
	WriteTimeoutSec int
	IdleTimeoutSec  int
}
type AdminHTTP struct {
	Host string
	Port int
}

type App struct {
	Name  string
	Env   string
	HTTP  HTTP
	Admin AdminHTTP

	// CORSOrigins 为空表示允许任意来源
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type Log struct {
	Level string
	JSON  bool

	// File 非空时写文件并按 lumberjack 切割
	File       string
	MaxSizeMB  int `mapstructure:"max_size_mb"`
	MaxBackups int `mapstructure:"max_backups"`
	MaxAgeDays int `mapstructure:"max_age_days"`
}

type JWT struct {
	Secret            string
	Issuer            string
	AccessTokenTTLMin int
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type DB struct {
	Driver             string
	DSN                string
	Username           string
	Password           string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeMin int
	AutoMigrate        bool
	LogLevel           string
	PrepareStmt        bool
}

type Storage struct {
	Dir           string `mapstructure:"dir"`
	MaxImageBytes int64  `mapstructure:"max_image_bytes"`
}

// Notify driver: local | redis | amqp
type Notify struct {
	Driver   string `mapstructure:"driver"`
	AMQPURL  string `mapstructure:"amqp_url"`
	Exchange string `mapstructure:"exchange"`
	Prefix   string `mapstructure:"prefix"`
}

type Cache struct {
	Enabled     bool `mapstructure:"enabled"`
	StatsTTLSec int  `mapstructure:"stats_ttl_sec"`
}

type Config struct {
	App        App
	Log        Log
	JWT        JWT
	DB         DB
	Redis      Redis                   `mapstructure:"redis"`
	Storage    Storage                 `mapstructure:"storage"`
	Password   validate.PasswordPolicy `mapstructure:"password"`
	Pagination validate.PageDefaults   `mapstructure:"pagination"`
	Notify     Notify                  `mapstructure:"notify"`
	Cache      Cache                   `mapstructure:"cache"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "fleet-api")
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.http.port", 8080)
	v.SetDefault("app.http.readtimeoutsec", 10)
	v.SetDefault("app.http.writetimeoutsec", 15)
	v.SetDefault("app.http.idletimeoutsec", 60)
	v.SetDefault("app.admin.port", 8081)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "fleet-api")
	v.SetDefault("jwt.accesstokenttlmin", 120)

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "file:fleet.db?_foreign_keys=on")
	v.SetDefault("db.maxopenconns", 20)
	v.SetDefault("db.maxidleconns", 10)
	v.SetDefault("db.connmaxlifetimemin", 30)
	v.SetDefault("db.username", "")
	v.SetDefault("db.password", "")
	v.SetDefault("db.loglevel", "warn")
	v.SetDefault("db.automigrate", true)
	v.SetDefault("db.preparestmt", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("storage.dir", "./uploads")
	v.SetDefault("storage.max_image_bytes", 10<<20)

	v.SetDefault("password.min_length", validate.DefaultPasswordPolicy.MinLength)
	v.SetDefault("password.require_uppercase", validate.DefaultPasswordPolicy.RequireUppercase)
	v.SetDefault("password.require_lowercase", validate.DefaultPasswordPolicy.RequireLowercase)
	v.SetDefault("password.require_numbers", validate.DefaultPasswordPolicy.RequireNumbers)
	v.SetDefault("password.require_special", validate.DefaultPasswordPolicy.RequireSpecial)

	v.SetDefault("pagination.default_page", validate.DefaultPaging.Page)
	v.SetDefault("pagination.default_limit", validate.DefaultPaging.Limit)
	v.SetDefault("pagination.max_limit", validate.DefaultPaging.MaxLimit)

	v.SetDefault("notify.driver", "local")
	v.SetDefault("notify.amqp_url", "")
	v.SetDefault("notify.exchange", "fleet.events")
	v.SetDefault("notify.prefix", "fleet:events:")

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.stats_ttl_sec", 30)
}

// Read 读取配置；文件不存在时只用默认值 + 环境变量
func Read(path string) (*Config, error) {
	v := viper.New()
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
		if path == "" {
			path = "./configs/config.local.yaml"
		}
	}
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, err
		}
		log.Printf("config %s not found, using defaults", path)
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

func Load(path string) *Config {
	c, err := Read(path)
	if err != nil {
		log.Fatalf("read config: %v", err)
	}
	return c
}
