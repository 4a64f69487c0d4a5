package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"trade-core/src/config"
)

var Logger zerolog.Logger
var logFile *os.File

func InitLogger(cfg config.Log) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.File == "" || cfg.File == "none" || cfg.File == "disabled" {
		logFile = nil
	} else {
		logFile, err = os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			log.Error().Err(err).Msg("Failed to open log file, using stdout only")
			logFile = nil
		}
	}

	var writers []io.Writer
	if cfg.Format == "pretty" {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		writers = append(writers, os.Stdout)
	}
	if logFile != nil {
		writers = append(writers, logFile)
	}

	Logger = zerolog.New(io.MultiWriter(writers...)).With().
		Timestamp().
		Str("service", "trade-core").
		Logger()

	log.Logger = Logger

	if logFile != nil {
		Logger.Info().
			Str("log_file", cfg.File).
			Str("log_level", level.String()).
			Msg("Logger initialized - writing to console and file")
	} else {
		Logger.Info().
			Str("log_level", level.String()).
			Msg("Logger initialized - writing to console only")
	}
}

func CloseLogger() {
	if logFile != nil {
		_ = logFile.Sync()
		_ = logFile.Close()
		logFile = nil
	}
}

func GetLogger() zerolog.Logger {
	return Logger
}

// Component returns the process logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}
