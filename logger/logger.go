// Package logger provides a small leveled wrapper around the standard
// library logger used by every other package in this module.
package logger

import (
	"log"
	"os"
	"strings"
)

type Level int

const (
	LevelError Level = iota
	LevelInfo
	LevelDebug
)

var current = LevelInfo

// Init sets the active log level from the LOG_LEVEL environment variable
// ("debug", "info", or "error"). Unset or unrecognized values default to info.
func Init() {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		current = LevelDebug
	case "error":
		current = LevelError
	default:
		current = LevelInfo
	}
}

func Debug(format string, args ...any) {
	if current >= LevelDebug {
		log.Printf("[DEBUG] "+format, args...)
	}
}

func Info(format string, args ...any) {
	if current >= LevelInfo {
		log.Printf("[INFO] "+format, args...)
	}
}

func Error(format string, args ...any) {
	log.Printf("[ERROR] "+format, args...)
}
