package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig — всё, что не относится к подключению к БД.
type AppConfig struct {
	Env       string
	LogLevel  string
	LogFormat string

	HTTPAddr    string
	GRPCAddr    string
	// Пустой список — кросс-доменные запросы к API запрещены.
	CORSOrigins []string

	JWTSecret string
	JWTTTL    time.Duration

	TelegramToken       string
	TelegramBotUsername string
	TelegramSalonID     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AIAPIKey  string
	AIBaseURL string
	AIModel   string
	AIRPS     float64

	SMTP SMTPConfig

	MetaVerifyToken   string
	MetaAppSecret     string
	MetaAccessToken   string
	MetaPhoneNumberID string
	MetaSalonID       string

	ReminderInterval time.Duration
	ReminderLead     time.Duration
	ReminderWorkers  int
}

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// Enabled — SMTP настроен, если задан хост и отправитель.
func (s SMTPConfig) Enabled() bool {
	return s.Host != "" && s.From != ""
}

// LoadEnvFile подгружает .env, если он есть. Отсутствие файла не ошибка.
func LoadEnvFile(paths ...string) {
	_ = godotenv.Load(paths...)
}

func LoadAppConfig() (*AppConfig, error) {
	cfg := &AppConfig{
		Env:       getEnv("APP_ENV", "development"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		GRPCAddr:    getEnv("GRPC_ADDR", ":50051"),
		CORSOrigins: getEnvList("CORS_ORIGINS", nil),

		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTTTL:    getEnvDuration("JWT_TTL", 12*time.Hour),

		TelegramToken:       getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramBotUsername: getEnv("TELEGRAM_BOT_USERNAME", ""),
		TelegramSalonID:     getEnv("TELEGRAM_SALON_ID", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		AIAPIKey:  getEnv("AI_API_KEY", ""),
		AIBaseURL: getEnv("AI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai/"),
		AIModel:   getEnv("AI_MODEL", "gemini-2.0-flash"),
		AIRPS:     getEnvFloat("AI_RPS", 2),

		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvInt("SMTP_PORT", 587),
			User:     getEnv("SMTP_USER", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", ""),
		},

		MetaVerifyToken:   getEnv("META_VERIFY_TOKEN", ""),
		MetaAppSecret:     getEnv("META_APP_SECRET", ""),
		MetaAccessToken:   getEnv("META_ACCESS_TOKEN", ""),
		MetaPhoneNumberID: getEnv("META_PHONE_NUMBER_ID", ""),
		MetaSalonID:       getEnv("META_SALON_ID", ""),

		ReminderInterval: getEnvDuration("REMINDER_INTERVAL", 5*time.Minute),
		ReminderLead:     getEnvDuration("REMINDER_LEAD", 24*time.Hour),
		ReminderWorkers:  getEnvInt("REMINDER_WORKERS", 4),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) Validate() error {
	if c.IsProduction() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	if c.JWTSecret == "" {
		// для локальной разработки
		c.JWTSecret = "dev-secret"
	}
	if c.ReminderWorkers <= 0 {
		c.ReminderWorkers = 1
	}
	if c.AIRPS <= 0 {
		c.AIRPS = 1
	}
	return nil
}

func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getEnvList(key string, def []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
