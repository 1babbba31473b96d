package envutil

import (
	"os"
	"strconv"
	"strings"

	"github.com/semlink/semlink/internal/platform/logger"
)

func GetEnv(key, def string, log *logger.Logger) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		if log != nil && def != "" {
			log.Debug("env var not set, using default", "key", key)
		}
		return def
	}
	return v
}

func GetEnvAsInt(key string, def int, log *logger.Logger) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		if log != nil {
			log.Warn("env var is not an int, using default", "key", key, "value", v)
		}
		return def
	}
	return i
}

func GetEnvAsFloat(key string, def float64, log *logger.Logger) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		if log != nil {
			log.Warn("env var is not a float, using default", "key", key, "value", v)
		}
		return def
	}
	return f
}

func GetEnvAsBool(key string, def bool, log *logger.Logger) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "":
		return def
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		if log != nil {
			log.Warn("env var is not a bool, using default", "key", key, "value", v)
		}
		return def
	}
}
