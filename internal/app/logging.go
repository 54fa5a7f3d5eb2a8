package app

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/throttlegate/internal/config"
)

// ConfigureLogging applies the level and formatter from cfg to the standard logger.
func ConfigureLogging(cfg config.LogConfig) error {
	level := log.InfoLevel
	if raw := strings.TrimSpace(cfg.Level); raw != "" {
		parsed, errParse := log.ParseLevel(raw)
		if errParse != nil {
			return fmt.Errorf("log.level: %w", errParse)
		}
		level = parsed
	}
	log.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("log.format: unknown value %q", cfg.Format)
	}
	return nil
}
