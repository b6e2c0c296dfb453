package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const DefaultAPIToken = "pawcare-dev-token"

// Config holds the process configuration read from the environment.
type Config struct {
	Port        string
	DBPath      string
	NATSPort    int
	NATSDataDir string
	APIToken    string
	LogLevel    string

	// EnvFileLoaded reports whether a .env file was found.
	EnvFileLoaded bool
}

// Load reads a .env file if one exists and then the environment.
func Load(files ...string) *Config {
	loaded := godotenv.Load(files...) == nil

	return &Config{
		Port:          GetEnvDefault("PORT", "8080"),
		DBPath:        GetEnvDefault("DB_PATH", "./db/pawcare.db"),
		NATSPort:      getEnvInt("NATS_PORT", 4222),
		NATSDataDir:   GetEnvDefault("NATS_DATA_DIR", "./data/nats"),
		APIToken:      GetEnvDefault("API_BEARER_TOKEN", DefaultAPIToken),
		LogLevel:      GetEnvDefault("LOG_LEVEL", "info"),
		EnvFileLoaded: loaded,
	}
}

// GetEnvDefault is a convenience function for handling env vars
func GetEnvDefault(key, defVal string) string {
	val, ex := os.LookupEnv(key)
	if !ex || val == "" {
		return defVal
	}
	return val
}

func getEnvInt(key string, defVal int) int {
	n, err := strconv.Atoi(GetEnvDefault(key, ""))
	if err != nil {
		return defVal
	}
	return n
}
