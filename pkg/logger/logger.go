package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger - структурированный логгер с парами ключ/значение:
// log.Info("Server started", "port", 8080)
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Fatal(msg string, args ...any)
	With(args ...any) Logger
}

type zerologLogger struct {
	z zerolog.Logger
}

// New создает логгер, пишущий в stdout. pretty включает человекочитаемый вывод для разработки.
func New(level string, pretty bool) Logger {
	var w io.Writer = os.Stdout
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return NewWithWriter(w, level)
}

func NewWithWriter(w io.Writer, level string) Logger {
	z := zerolog.New(w).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Logger()
	return &zerologLogger{z: z}
}

// Nop возвращает логгер, который ничего не пишет (для тестов)
func Nop() Logger {
	return &zerologLogger{z: zerolog.Nop()}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *zerologLogger) Debug(msg string, args ...any) {
	l.write(l.z.Debug(), msg, args)
}

func (l *zerologLogger) Info(msg string, args ...any) {
	l.write(l.z.Info(), msg, args)
}

func (l *zerologLogger) Warn(msg string, args ...any) {
	l.write(l.z.Warn(), msg, args)
}

func (l *zerologLogger) Error(msg string, args ...any) {
	l.write(l.z.Error(), msg, args)
}

func (l *zerologLogger) Fatal(msg string, args ...any) {
	l.write(l.z.Fatal(), msg, args)
}

func (l *zerologLogger) With(args ...any) Logger {
	return &zerologLogger{z: l.z.With().Fields(normalize(args)).Logger()}
}

func (l *zerologLogger) write(e *zerolog.Event, msg string, args []any) {
	if e == nil {
		return
	}
	if len(args) > 0 {
		e = e.Fields(normalize(args))
	}
	e.Msg(msg)
}

// normalize приводит список аргументов к виду, который понимает zerolog:
// ключи - строки, у нечетного списка последнему значению дается ключ "!BADKEY".
func normalize(args []any) []any {
	out := make([]any, 0, len(args)+1)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			out = append(out, "!BADKEY", args[i])
			i--
			continue
		}
		if i+1 >= len(args) {
			out = append(out, "!BADKEY", key)
			break
		}
		out = append(out, key, args[i+1])
	}
	return out
}
