// pkg/logging/logging.go - audit logging for installwatch
//
// This package writes the line-oriented install_audit.log that operators read,
// mirrors every line to the console when asked to, and records structured
// events (events.jsonl) that external tooling can ingest. A colourised console
// printer is provided for banners and final user feedback.

package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LogLevel represents the severity of the log message.
type LogLevel int

const (
	LevelError LogLevel = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

// String returns the string representation of the LogLevel.
func (ll LogLevel) String() string {
	switch ll {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a configuration string onto a LogLevel. Unknown values fall
// back to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return LevelError
	case "WARN", "WARNING":
		return LevelWarn
	case "DEBUG":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// LoggerConfig holds configuration for the audit logger.
type LoggerConfig struct {
	LogPath       string   // install_audit.log location
	EventsPath    string   // events.jsonl location; empty disables structured events
	Level         LogLevel // lines above this level are dropped
	Component     string
	SessionID     string    // generated when empty
	EnableConsole bool      // mirror lines to Console
	Console       io.Writer // defaults to os.Stdout
}

// Logger encapsulates the audit log, the structured event stream and the
// optional console mirror.
type Logger struct {
	mu         sync.RWMutex
	logger     *log.Logger
	logLevel   LogLevel
	logFile    *os.File
	eventsFile *os.File
	config     LoggerConfig
	hostname   string
}

var (
	instanceMu sync.RWMutex
	instance   *Logger
)

// Init opens the log files described by cfg and installs the resulting logger
// as the package-level instance. A previously initialised logger is closed.
func Init(cfg LoggerConfig) error {
	l, err := newLoggerWithConfig(cfg)
	if err != nil {
		return err
	}

	instanceMu.Lock()
	old := instance
	instance = l
	instanceMu.Unlock()

	if old != nil {
		old.close()
	}
	return nil
}

// generateSessionID creates a unique session identifier
func generateSessionID() string {
	return fmt.Sprintf("installwatch-%s-%s", time.Now().Format("20060102-150405"), uuid.NewString()[:8])
}

// newLoggerWithConfig creates a new Logger instance with explicit configuration.
func newLoggerWithConfig(cfg LoggerConfig) (*Logger, error) {
	if cfg.LogPath == "" {
		return nil, fmt.Errorf("log path is required")
	}
	if cfg.Component == "" {
		cfg.Component = "installwatch"
	}
	if cfg.SessionID == "" {
		cfg.SessionID = generateSessionID()
	}
	if cfg.Console == nil {
		cfg.Console = os.Stdout
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	l := &Logger{
		logLevel: cfg.Level,
		config:   cfg,
		hostname: hostname,
	}

	if err := l.initializeLogFiles(); err != nil {
		l.close()
		return nil, err
	}

	if cfg.EnableConsole {
		l.logger = log.New(io.MultiWriter(cfg.Console, l.logFile), "", 0)
	} else {
		l.logger = log.New(l.logFile, "", 0)
	}
	return l, nil
}

// initializeLogFiles creates and opens all log files
func (l *Logger) initializeLogFiles() error {
	if err := os.MkdirAll(filepath.Dir(l.config.LogPath), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	var err error
	l.logFile, err = os.OpenFile(l.config.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}

	if l.config.EventsPath != "" {
		if err := os.MkdirAll(filepath.Dir(l.config.EventsPath), 0755); err != nil {
			return fmt.Errorf("failed to create events directory: %w", err)
		}
		l.eventsFile, err = os.OpenFile(l.config.EventsPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open events file: %w", err)
		}
	}
	return nil
}

func (l *Logger) close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile != nil {
		if err := l.logFile.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to close audit log file: %v\n", err)
		}
		l.logFile = nil
	}
	if l.eventsFile != nil {
		if err := l.eventsFile.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to close events file: %v\n", err)
		}
		l.eventsFile = nil
	}
	l.logger = nil
}

// CloseLogger closes all log files if they're open.
func CloseLogger() {
	instanceMu.Lock()
	l := instance
	instance = nil
	instanceMu.Unlock()

	if l != nil {
		l.close()
	}
}

func current() *Logger {
	instanceMu.RLock()
	defer instanceMu.RUnlock()
	return instance
}

// logMessage writes one line to every configured output.
func (l *Logger) logMessage(level LogLevel, message string, keyValues ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logger == nil || level > l.logLevel {
		return
	}

	l.writeMainLog(level, message, keyValues)
}

// writeMainLog writes the human-readable line.
func (l *Logger) writeMainLog(level LogLevel, message string, keyValues []interface{}) {
	ts := time.Now().Format("2006-01-02 15:04:05")
	line := fmt.Sprintf("[%s] %-5s %s", ts, level.String(), message)

	for i := 0; i+1 < len(keyValues); i += 2 {
		val := keyValues[i+1]
		if s, ok := val.(string); ok && s == "" {
			continue
		}
		line += fmt.Sprintf(" %v=%v", keyValues[i], val)
	}

	l.logger.Println(line)
}

func logAt(level LogLevel, message string, keyValues ...interface{}) {
	l := current()
	if l == nil {
		// Uninitialised: only surface problems.
		if level <= LevelWarn {
			fmt.Fprintf(os.Stderr, "%s %s %v\n", level.String(), message, keyValues)
		}
		return
	}
	l.logMessage(level, message, keyValues...)
}

// Info logs informational messages.
func Info(message string, keyValues ...interface{}) {
	logAt(LevelInfo, message, keyValues...)
}

// Debug logs debug messages.
func Debug(message string, keyValues ...interface{}) {
	logAt(LevelDebug, message, keyValues...)
}

// Warn logs warning messages.
func Warn(message string, keyValues ...interface{}) {
	logAt(LevelWarn, message, keyValues...)
}

// Error logs error messages.
func Error(message string, keyValues ...interface{}) {
	logAt(LevelError, message, keyValues...)
}

// LogStructured logs a message with explicit properties. Keys are written in
// sorted order so lines are stable.
func LogStructured(level LogLevel, message string, properties map[string]interface{}) {
	keys := make([]string, 0, len(properties))
	for k := range properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	keyValues := make([]interface{}, 0, len(properties)*2)
	for _, k := range keys {
		keyValues = append(keyValues, k, properties[k])
	}
	logAt(level, message, keyValues...)
}

// GetSessionID returns the current session ID.
func GetSessionID() string {
	l := current()
	if l == nil {
		return ""
	}
	return l.config.SessionID
}

// GetLogPath returns the audit log location of the current logger.
func GetLogPath() string {
	l := current()
	if l == nil {
		return ""
	}
	return l.config.LogPath
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGreen  = "\033[32m"
)

// Printer writes user-facing console output. It is separate from the audit
// log so banners never end up in install_audit.log.
type Printer struct {
	mu     sync.Mutex
	logger *log.Logger
}

// New creates a console printer. Verbose output goes to stdout, otherwise to
// stderr.
func New(verbose bool) *Printer {
	enableColors()

	output := os.Stdout
	if !verbose {
		output = os.Stderr
	}
	return &Printer{logger: log.New(output, "", 0)}
}

// NewWithWriter creates a console printer writing to w.
func NewWithWriter(w io.Writer) *Printer {
	return &Printer{logger: log.New(w, "", 0)}
}

// colorPrintf prints a colored message.
func (p *Printer) colorPrintf(color, format string, v ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logger.Printf("%s%s%s", color, fmt.Sprintf(format, v...), colorReset)
}

// Printf prints a regular message.
func (p *Printer) Printf(format string, v ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logger.Printf(format, v...)
}

// Success prints a success message in green.
func (p *Printer) Success(format string, v ...interface{}) {
	p.colorPrintf(colorGreen, format, v...)
}

// Error prints an error message in red.
func (p *Printer) Error(format string, v ...interface{}) {
	p.colorPrintf(colorRed, format, v...)
}

// Warning prints a warning message in yellow.
func (p *Printer) Warning(format string, v ...interface{}) {
	p.colorPrintf(colorYellow, format, v...)
}

// Debug prints a debug message in blue.
func (p *Printer) Debug(format string, v ...interface{}) {
	p.colorPrintf(colorBlue, format, v...)
}

// Rule prints a horizontal separator line.
func (p *Printer) Rule() {
	p.Printf("%s", strings.Repeat("=", 70))
}
