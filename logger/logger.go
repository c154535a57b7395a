package logger

import (
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const (
	FormatJSON    = "json"
	FormatPretty  = "pretty"
	FormatConsole = "console"
)

// Logger is a zerolog logger that takes structured fields as maps.
type Logger struct {
	zl zerolog.Logger
}

// New builds a logger writing to the configured output.
func New(cfg *Config, serviceName string) *Logger {
	return NewWithWriter(cfg, serviceName, cfg.writer())
}

// NewWithWriter builds a logger writing to w.
func NewWithWriter(cfg *Config, serviceName string, w io.Writer) *Logger {
	if cfg.pretty() {
		w = consoleWriter(w, serviceName, cfg.NoColor)
	}

	ctx := zerolog.New(w).Level(cfg.level()).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	if serviceName != "" {
		ctx = ctx.Str(FieldService, serviceName)
	}
	return &Logger{zl: ctx.Logger()}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// WithComponent tags every entry with the component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{zl: l.zl.With().Str(FieldComponent, name).Logger()}
}

// WithFields returns a child logger carrying fields on every entry.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{zl: l.zl.With().Fields(stringifyErrors(fields)).Logger()}
}

func (l *Logger) Debug(msg string, fields ...map[string]interface{}) { write(l.zl.Debug(), msg, fields) }
func (l *Logger) Info(msg string, fields ...map[string]interface{}) { write(l.zl.Info(), msg, fields) }
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) { write(l.zl.Warn(), msg, fields) }
func (l *Logger) Error(msg string, fields ...map[string]interface{}) { write(l.zl.Error(), msg, fields) }

// write is a no-op for disabled levels, zerolog hands out a nil event then.
func write(event *zerolog.Event, msg string, fields []map[string]interface{}) {
	if event == nil {
		return
	}
	for _, m := range fields {
		event.Fields(stringifyErrors(m))
	}
	event.Msg(msg)
}

// stringifyErrors keeps error values readable in JSON output.
func stringifyErrors(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		out[k] = v
	}
	return out
}

var global atomic.Pointer[Logger]

// SetGlobalLogger replaces the logger used by the package-level functions.
func SetGlobalLogger(l *Logger) {
	global.Store(l)
}

// GetGlobalLogger returns the global logger. Until one is set it is a
// console logger on stdout at info level.
func GetGlobalLogger() *Logger {
	if l := global.Load(); l != nil {
		return l
	}
	cfg := Config{}
	cfg.ApplyDefaults()
	global.CompareAndSwap(nil, New(&cfg, ""))
	return global.Load()
}

func Debug(msg string, fields ...map[string]interface{}) { GetGlobalLogger().Debug(msg, fields...) }
func Info(msg string, fields ...map[string]interface{}) { GetGlobalLogger().Info(msg, fields...) }
func Warn(msg string, fields ...map[string]interface{}) { GetGlobalLogger().Warn(msg, fields...) }
func Error(msg string, fields ...map[string]interface{}) { GetGlobalLogger().Error(msg, fields...) }

var levelStyle = map[string]struct{ short, color string }{
	"trace": {"TRC", "\033[90m"},
	"debug": {"DBG", "\033[36m"},
	"info":  {"INF", "\033[32m"},
	"warn":  {"WRN", "\033[33m"},
	"error": {"ERR", "\033[31m"},
	"fatal": {"FTL", "\033[35m"},
}

func consoleWriter(out io.Writer, serviceName string, noColor bool) zerolog.ConsoleWriter {
	paint := func(color, s string) string {
		if noColor {
			return s
		}
		return color + s + "\033[0m"
	}
	prefix := ""
	if len(serviceName) >= 3 {
		prefix = paint("\033[34m", "["+strings.ToUpper(serviceName[:3])+"]")
	}
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "15:04:05",
		NoColor:    noColor,
		FormatLevel: func(i interface{}) string {
			lvl := fmt.Sprint(i)
			style, ok := levelStyle[lvl]
			if !ok {
				return prefix + "[" + strings.ToUpper(lvl) + "]"
			}
			return prefix + paint(style.color, "["+style.short+"]")
		},
		FormatFieldName: func(i interface{}) string { return fmt.Sprint(i) + ":" },
		FormatFieldValue: func(i interface{}) string {
			if i == nil {
				return ""
			}
			return fmt.Sprint(i)
		},
	}
}
