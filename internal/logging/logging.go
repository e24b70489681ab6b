// Package logging provides global logging functions for the conversation
// state core. Use dot import to access L_info, L_error, etc. directly.
package logging

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// Log levels
const (
	LevelFatal = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

var (
	logger *log.Logger
	once   sync.Once

	// currentLevel is used for trace filtering since charmbracelet has no trace level.
	currentLevel int32 = LevelInfo

	shuttingDown int32
)

// Config holds logging configuration.
type Config struct {
	Level      int
	TimeFormat string
	ShowCaller bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Level:      LevelInfo,
		TimeFormat: "15:04:05",
		ShowCaller: true,
	}
}

// Init initializes the global logger. Safe to call multiple times; only the
// first call has effect. All output goes to stderr: stdout is reserved for
// the JSON-RPC transport and must never carry a stray log line.
func Init(cfg *Config) {
	once.Do(func() {
		if cfg == nil {
			cfg = DefaultConfig()
		}

		logger = log.NewWithOptions(os.Stderr, log.Options{
			ReportTimestamp: true,
			TimeFormat:      cfg.TimeFormat,
			ReportCaller:    cfg.ShowCaller,
			CallerOffset:    2,
		})

		atomic.StoreInt32(&currentLevel, int32(cfg.Level))
		applyLevel(cfg.Level)
	})
}

func applyLevel(level int) {
	switch level {
	case LevelTrace, LevelDebug:
		logger.SetLevel(log.DebugLevel)
	case LevelInfo:
		logger.SetLevel(log.InfoLevel)
	case LevelWarn:
		logger.SetLevel(log.WarnLevel)
	case LevelError, LevelFatal:
		logger.SetLevel(log.ErrorLevel)
	}
}

func ensureInit() {
	if logger == nil {
		Init(nil)
	}
}

// ParseLevel maps an env-style level name to one of the Level constants.
// Unknown names fall back to LevelInfo.
func ParseLevel(name string) int {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "info", "":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

func hasFmtVerb(s string) bool {
	for i := 0; i < len(s)-1; i++ {
		if s[i] == '%' {
			next := s[i+1]
			if next != '%' && strings.ContainsRune("vsdtfgeopqxXbcUT+#", rune(next)) {
				return true
			}
		}
	}
	return false
}

func logMsgWithPrefix(prefix string, msg string, args ...interface{}) {
	ensureInit()

	var finalMsg string
	var keyvals []interface{}

	if len(args) == 0 {
		finalMsg = msg
	} else if hasFmtVerb(msg) {
		finalMsg = fmt.Sprintf(msg, args...)
	} else {
		finalMsg = msg
		keyvals = args
	}

	now := time.Now().Format("2006/01/02 15:04:05")

	_, file, line, ok := runtime.Caller(2)
	caller := ""
	if ok {
		if idx := strings.LastIndex(file, "/"); idx >= 0 {
			file = file[idx+1:]
		}
		caller = fmt.Sprintf("<%s:%d>", file, line)
	}

	var sb strings.Builder
	sb.WriteString(now)
	sb.WriteString(" ")
	sb.WriteString(prefix)
	sb.WriteString(" ")
	sb.WriteString(caller)
	sb.WriteString(" ")
	sb.WriteString(finalMsg)
	for i := 0; i+1 < len(keyvals); i += 2 {
		sb.WriteString(fmt.Sprintf(" %v=%v", keyvals[i], keyvals[i+1]))
	}
	sb.WriteString("\n")

	fmt.Fprint(os.Stderr, sb.String())
}

func logMsg(level log.Level, msg string, args ...interface{}) {
	ensureInit()

	var finalMsg string
	var keyvals []interface{}

	if len(args) == 0 {
		finalMsg = msg
	} else if hasFmtVerb(msg) {
		finalMsg = fmt.Sprintf(msg, args...)
	} else {
		finalMsg = msg
		keyvals = args
	}

	switch level {
	case log.DebugLevel:
		logger.Debug(finalMsg, keyvals...)
	case log.InfoLevel:
		logger.Info(finalMsg, keyvals...)
	case log.WarnLevel:
		logger.Warn(finalMsg, keyvals...)
	case log.ErrorLevel:
		logger.Error(finalMsg, keyvals...)
	case log.FatalLevel:
		logger.Fatal(finalMsg, keyvals...)
	}
}

// L_trace logs at trace level. Trace is filtered in-process since
// charmbracelet/log has no native trace level.
func L_trace(msg string, args ...interface{}) {
	if atomic.LoadInt32(&currentLevel) < int32(LevelTrace) {
		return
	}
	logMsgWithPrefix("TRAC", msg, args...)
}

// L_debug logs at debug level.
func L_debug(msg string, args ...interface{}) {
	logMsg(log.DebugLevel, msg, args...)
}

// L_info logs at info level.
func L_info(msg string, args ...interface{}) {
	logMsg(log.InfoLevel, msg, args...)
}

// L_warn logs at warn level.
func L_warn(msg string, args ...interface{}) {
	logMsg(log.WarnLevel, msg, args...)
}

// L_error logs at error level.
func L_error(msg string, args ...interface{}) {
	logMsg(log.ErrorLevel, msg, args...)
}

// L_fatal logs at fatal level and exits the process.
func L_fatal(msg string, args ...interface{}) {
	logMsg(log.FatalLevel, msg, args...)
}

// SetLevel changes the log level at runtime.
func SetLevel(level int) {
	ensureInit()
	atomic.StoreInt32(&currentLevel, int32(level))
	applyLevel(level)
}

// GetLevel returns the current log level.
func GetLevel() int {
	return int(atomic.LoadInt32(&currentLevel))
}

// SetShuttingDown marks the process as shutting down.
func SetShuttingDown() {
	atomic.StoreInt32(&shuttingDown, 1)
	L_info("shutting down")
}

// IsShuttingDown reports whether SetShuttingDown has been called.
func IsShuttingDown() bool {
	return atomic.LoadInt32(&shuttingDown) == 1
}

// L_elapsed logs msg with the elapsed time since start appended.
func L_elapsed(start time.Time, msg string, args ...interface{}) {
	ensureInit()
	args = append(args, "elapsed", time.Since(start).String())
	logMsg(log.InfoLevel, msg, args...)
}
