package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
	EnvTest        = "test"
)

type Config struct {
	Env           string
	DBLocation    string
	HTTPPort      string
	LogLevel      string
	JWTSecret     string
	CORSOrigin    string
	StaticDir     string
	TxLockTimeout time.Duration
}

var AppConfig Config

// LoadConfig reads the .env file if present, then the environment, into AppConfig
func LoadConfig() error {
	// a missing .env is fine, the environment is used as is
	envFileErr := godotenv.Load()

	env := getEnv("APP_ENV", EnvDevelopment)
	AppConfig = Config{
		Env:           env,
		DBLocation:    getEnv("DB_LOCATION", defaultDBLocation(env)),
		HTTPPort:      getEnv("HTTP_PORT", "8080"),
		LogLevel:      getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:     getEnv("JWT_SECRET", ""),
		CORSOrigin:    getEnv("CORS_ORIGIN", "*"),
		StaticDir:     getEnv("STATIC_DIR", "./public"),
		TxLockTimeout: time.Duration(getEnvAsInt("TX_LOCK_TIMEOUT_SECONDS", 30)) * time.Second,
	}

	if AppConfig.TxLockTimeout < 0 {
		return errors.New("TX_LOCK_TIMEOUT_SECONDS must not be negative")
	}
	if AppConfig.JWTSecret == "" && env != EnvTest {
		return errors.New("JWT_SECRET environment variable is required")
	}

	if envFileErr != nil && !errors.Is(envFileErr, os.ErrNotExist) {
		return envFileErr
	}
	return nil
}

func defaultDBLocation(env string) string {
	if env == EnvTest {
		return "./data/test/housebnb.db"
	}
	return "./data/housebnb.db"
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}
