// Package config предоставялет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string        `yaml:"env" env-default:"local"`
	StorageConnectionString string        `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING"`
	MigrationsPath          string        `yaml:"migrations_path" env-default:"./migrations"`
	OperationTimeout        time.Duration `yaml:"operation_timeout" env-default:"10s"`
	RedisConnection         `yaml:"redis_connection"`
	HTTPServer              `yaml:"http_server"`
	JWTToken                `yaml:"jwttoken"`
	Gateway                 `yaml:"gateway"`
	Access                  `yaml:"access"`
	Admin                   `yaml:"admin"`
	Sweeper                 `yaml:"sweeper"`
	RateLimit               `yaml:"rate_limit"`
	RabbitMQ                `yaml:"rabbitmq"`
	SMTP                    `yaml:"smtp"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries" env-default:"3"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env-default:"5s"`
	TimeoutRedis time.Duration `yaml:"timeoutredis" env-default:"3s"`
	CacheTTL     time.Duration `yaml:"cache_ttl" env-default:"5m"`
}

// JWTToken структура для работы с jwt-токеном
type JWTToken struct {
	JWTSecretKey string        `yaml:"jwt_secret_key" env:"JWT_SECRET_KEY"`
	TokenTTL     time.Duration `yaml:"token_ttl" env-default:"24h"`
}

// Gateway настройки платёжного шлюза.
type Gateway struct {
	MerchantID     string        `yaml:"merchant_id" env:"GATEWAY_MERCHANT_ID"`
	MerchantKey    string        `yaml:"merchant_key" env:"GATEWAY_MERCHANT_KEY"`
	MerchantSalt   string        `yaml:"merchant_salt" env:"GATEWAY_MERCHANT_SALT"`
	APIURL         string        `yaml:"api_url" env-default:"https://www.paytr.com"`
	CallbackURL    string        `yaml:"callback_url"`
	Currency       string        `yaml:"currency" env-default:"TL"`
	RequestTimeout time.Duration `yaml:"request_timeout" env-default:"10s"`
	RequestsPerSec float64       `yaml:"requests_per_sec" env-default:"5"`
	TestMode       bool          `yaml:"test_mode"`
}

// Access настройки проверки доступа к инструментам.
type Access struct {
	TrialDays  int      `yaml:"trial_days" env-default:"7"`
	TrialTools []string `yaml:"trial_tools"`
}

// Admin учётная запись администратора, которая заводится при старте API.
// Пароль задаётся только bcrypt-хешем через окружение.
type Admin struct {
	AdminEmail        string `yaml:"admin_email" env:"ADMIN_EMAIL"`
	AdminPasswordHash string `yaml:"-" env:"ADMIN_PASSWORD_HASH"`
}

// Sweeper настройки фоновой проверки истёкших подписок.
type Sweeper struct {
	Interval  time.Duration `yaml:"interval" env-default:"1h"`
	BatchSize int           `yaml:"batch_size" env-default:"500"`
}

// RateLimit настройки ограничения частоты запросов.
type RateLimit struct {
	RequestsPerWindow int           `yaml:"requests_per_window" env-default:"60"`
	Window            time.Duration `yaml:"window" env-default:"1m"`
}

// RabbitMQ настройки подключения к брокеру сообщений.
type RabbitMQ struct {
	RabbitMQURL        string        `yaml:"rabbitmq_url" env:"RABBITMQ_URL"`
	RabbitMQMaxRetries int           `yaml:"rabbitmq_max_retries" env-default:"5"`
	RabbitMQRetryDelay time.Duration `yaml:"rabbitmq_retry_delay" env-default:"2s"`
	Exchange           string        `yaml:"exchange" env-default:"billing"`
}

// SMTP настройки почтового сервера для уведомлений.
type SMTP struct {
	SMTPHost string `yaml:"smtp_host"`
	SMTPPort string `yaml:"smtp_port" env-default:"587"`
	SMTPUser string `yaml:"smtp_user" env:"SMTP_USER"`
	SMTPPass string `yaml:"smtp_pass" env:"SMTP_PASS"`
}

// MustLoad функция для загрузки конфига, возвращает конфиг, прочитанный из файла CONFIG_PATH
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatal(err)
	}
	return cfg
}

// Load читает конфиг по указанному пути.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("file: %s - does not exist", configPath)
	}
	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"  DB: %d\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"Gateway:\n"+
			"  MerchantID: %s\n"+
			"  APIURL: %s\n"+
			"Sweeper:\n"+
			"  Interval: %s\n",
		c.Env,
		c.AddressRedis,
		c.DB,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.MerchantID,
		c.APIURL,
		c.Interval,
	)
}
