package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Level is the minimum severity that gets written.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a config string to a Level. Unknown values default
// to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Config controls the log sink.
type Config struct {
	LogPath     string // file sink; empty means stderr only
	LogLevel    string
	MaxLogFiles int // rotated files to keep
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() Config {
	return Config{
		LogPath:     filepath.Join(os.TempDir(), "lsp-gateway.log"),
		LogLevel:    "info",
		MaxLogFiles: 5,
	}
}

var (
	mu      sync.Mutex
	level   Level
	logFile *os.File

	debugLogger = log.New(os.Stderr, "DEBUG: ", log.Ldate|log.Ltime|log.Lshortfile)
	infoLogger  = log.New(os.Stderr, "INFO: ", log.Ldate|log.Ltime|log.Lshortfile)
	warnLogger  = log.New(os.Stderr, "WARN: ", log.Ldate|log.Ltime|log.Lshortfile)
	errorLogger = log.New(os.Stderr, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)
)

// Init sets up the log sink. The gateway runs in containers, so output
// always goes to stderr; a file sink is added when LogPath is set.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	level = ParseLevel(cfg.LogLevel)

	sink := io.Writer(os.Stderr)

	if cfg.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0o700); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}

		rotate(cfg)

		file, err := os.OpenFile(cfg.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}

		logFile = file
		sink = io.MultiWriter(os.Stderr, file)
	}

	debugLogger.SetOutput(sink)
	infoLogger.SetOutput(sink)
	warnLogger.SetOutput(sink)
	errorLogger.SetOutput(sink)

	return nil
}

// rotate removes the oldest rotated log files beyond MaxLogFiles.
func rotate(cfg Config) {
	if cfg.MaxLogFiles <= 0 {
		return
	}

	files, _ := filepath.Glob(cfg.LogPath + ".*")
	if len(files) < cfg.MaxLogFiles {
		return
	}

	sort.Slice(files, func(i, j int) bool {
		a, _ := os.Stat(files[i])
		b, _ := os.Stat(files[j])
		if a == nil || b == nil {
			return false
		}
		return a.ModTime().Before(b.ModTime())
	})

	for _, old := range files[:len(files)-cfg.MaxLogFiles+1] {
		if err := os.Remove(old); err != nil {
			errorLogger.Printf("failed to remove old log file %s: %v", old, err)
		}
	}
}

// Debug logs at debug level.
func Debug(v ...any) {
	if level <= LevelDebug {
		_ = debugLogger.Output(2, fmt.Sprintln(v...))
	}
}

// Info logs at info level.
func Info(v ...any) {
	if level <= LevelInfo {
		_ = infoLogger.Output(2, fmt.Sprintln(v...))
	}
}

// Warn logs at warning level.
func Warn(v ...any) {
	if level <= LevelWarn {
		_ = warnLogger.Output(2, fmt.Sprintln(v...))
	}
}

// Error logs at error level.
func Error(v ...any) {
	_ = errorLogger.Output(2, fmt.Sprintln(v...))
}

// Close closes the file sink if one was opened.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		if err := logFile.Close(); err != nil {
			log.Printf("failed to close log file: %v", err)
		}
		logFile = nil
	}
}
