package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Режимы доставки событий потока уведомлений
const (
	BroadcastPostgres = "postgres"
	BroadcastLocal    = "local"
)

// Config структура конфигурации
type Config struct {
	Port             string
	TelegramBotToken string
	JWTSecret        string
	DatabaseURL      string
	DatabaseConfig   DatabaseConfig
	QR               QRConfig
	Stream           StreamConfig
	FrontendOrigin   string
	AppEnv           string
}

// DatabaseConfig содержит конфигурацию базы данных
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// QRConfig настройки разбора QR-кодов
type QRConfig struct {
	Secret string // пустой секрет отключает проверку подписи
	Debug  bool
}

// StreamConfig настройки потока уведомлений
type StreamConfig struct {
	Channel   string
	Mode      string
	Heartbeat time.Duration
}

// LoadConfig загружает переменные из .env
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ .env файл не найден, используем переменные окружения")
	}

	cfg, err := FromEnv()
	if err != nil {
		log.Fatalf("❌ Ошибка конфигурации: %v", err)
	}
	return cfg
}

// FromEnv собирает конфигурацию из окружения процесса
func FromEnv() (*Config, error) {
	dbConfig := DatabaseConfig{
		Host:     getEnv("PGHOST", "localhost"),
		Port:     getEnv("PGPORT", "5432"),
		User:     getEnv("PGUSER", "reborn_user"),
		Password: getEnv("PGPASSWORD", "reborn_pass"),
		Name:     getEnv("PGDATABASE", "reborn"),
		SSLMode:  getEnv("PGSSLMODE", "disable"),
	}

	// DATABASE_URL имеет приоритет над PG* переменными
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL == "" {
		dbURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			dbConfig.User, dbConfig.Password, dbConfig.Host, dbConfig.Port, dbConfig.Name, dbConfig.SSLMode)
	}

	heartbeat, err := time.ParseDuration(getEnv("STREAM_HEARTBEAT", "25s"))
	if err != nil || heartbeat <= 0 {
		return nil, fmt.Errorf("STREAM_HEARTBEAT: invalid duration")
	}

	mode := getEnv("BROADCAST_MODE", BroadcastPostgres)
	if mode != BroadcastPostgres && mode != BroadcastLocal {
		return nil, fmt.Errorf("BROADCAST_MODE: unknown mode %q", mode)
	}

	appEnv := getEnv("APP_ENV", "production")

	// в development отладка QR включена, пока QR_DEBUG не задан явно
	qrDebug, err := getBool("QR_DEBUG", appEnv == "development")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		DatabaseURL:      dbURL,
		DatabaseConfig:   dbConfig,
		QR: QRConfig{
			Secret: getEnv("QR_SECRET", ""),
			Debug:  qrDebug,
		},
		Stream: StreamConfig{
			Channel:   getEnv("BROADCAST_CHANNEL", "noti"),
			Mode:      mode,
			Heartbeat: heartbeat,
		},
		FrontendOrigin: getEnv("FE_ORIGIN", "http://localhost:5173"),
		AppEnv:         appEnv,
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

// getEnv получает переменную окружения или использует дефолтное значение
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getBool читает булеву переменную: 1/0, true/false и т.п.
func getBool(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q", key, raw)
	}
	return v, nil
}
