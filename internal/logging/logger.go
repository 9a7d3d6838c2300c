package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"watchflow/internal/event"
)

const DefaultBufferSize = 1000

// CategoryKey tags entries with the component that wrote them.
const CategoryKey = "watchflow.category"

type Options struct {
	Level      Level
	Format     Format
	Output     io.Writer
	BufferSize int
}

type Logger struct {
	buffer      *LogBuffer
	output      *log.Logger
	format      Format
	minLevel    Level
	baseContext map[string]string
	hub         *event.Bus[LogEntry]
}

func NewLogger(buffer *LogBuffer, minLevel Level) *Logger {
	return NewLoggerWithOutput(buffer, minLevel, os.Stdout)
}

func NewLoggerWithOutput(buffer *LogBuffer, minLevel Level, output io.Writer) *Logger {
	return New(Options{Level: minLevel, Output: output}, buffer)
}

// New builds a logger from options. A nil buffer is replaced by one of
// options.BufferSize entries; a nil output discards printed lines.
func New(options Options, buffer *LogBuffer) *Logger {
	if buffer == nil {
		size := options.BufferSize
		if size <= 0 {
			size = DefaultBufferSize
		}
		buffer = NewLogBuffer(size)
	}
	output := options.Output
	if output == nil {
		output = io.Discard
	}
	format := options.Format
	if format != FormatJSON {
		format = FormatText
	}
	flags := log.LstdFlags
	if format == FormatJSON {
		flags = 0
	}
	return &Logger{
		buffer:   buffer,
		output:   log.New(output, "", flags),
		format:   format,
		minLevel: normalizeLevel(options.Level),
		hub:      event.NewBus[LogEntry](context.Background(), event.BusOptions{Name: "logs"}),
	}
}

// OpenFile opens path for appending, creating parent directories as needed.
func OpenFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}

func (l *Logger) Buffer() *LogBuffer {
	if l == nil {
		return nil
	}
	return l.buffer
}

func (l *Logger) Subscribe() (<-chan LogEntry, func()) {
	if l == nil || l.hub == nil {
		return nil, func() {}
	}
	return l.hub.Subscribe()
}

func (l *Logger) With(fields map[string]string) *Logger {
	if l == nil {
		return l
	}
	return &Logger{
		buffer:      l.buffer,
		output:      l.output,
		format:      l.format,
		minLevel:    l.minLevel,
		baseContext: cloneFields(l.baseContext, fields),
		hub:         l.hub,
	}
}

// Component returns a logger tagged with the given category.
func (l *Logger) Component(category string) *Logger {
	return l.With(map[string]string{CategoryKey: category})
}

func (l *Logger) Debug(message string, fields map[string]string) {
	l.log(LevelDebug, message, fields)
}

func (l *Logger) Info(message string, fields map[string]string) {
	l.log(LevelInfo, message, fields)
}

func (l *Logger) Warn(message string, fields map[string]string) {
	l.log(LevelWarning, message, fields)
}

func (l *Logger) Error(message string, fields map[string]string) {
	l.log(LevelError, message, fields)
}

func (l *Logger) Enabled(level Level) bool {
	if l == nil {
		return false
	}
	return levelRank(level) >= levelRank(l.minLevel)
}

func (l *Logger) Close() {
	if l == nil || l.hub == nil {
		return
	}
	l.hub.Close()
}

func (l *Logger) log(level Level, message string, fields map[string]string) {
	if l == nil || !l.Enabled(level) {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Context:   cloneFields(l.baseContext, fields),
	}
	if l.buffer != nil {
		l.buffer.Add(entry)
	}
	if l.hub != nil {
		l.hub.Publish(entry)
	}
	if l.output != nil {
		if l.format == FormatJSON {
			l.output.Print(formatJSONEntry(entry))
		} else {
			l.output.Print(formatEntry(entry))
		}
	}
}

func normalizeLevel(level Level) Level {
	switch level {
	case LevelDebug, LevelInfo, LevelWarning, LevelError:
		return level
	default:
		return LevelInfo
	}
}

func levelRank(level Level) int {
	switch level {
	case LevelDebug:
		return 0
	case LevelInfo:
		return 1
	case LevelWarning:
		return 2
	case LevelError:
		return 3
	default:
		return 1
	}
}

func ParseLevel(value string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warning", "warn":
		return LevelWarning, true
	case "error":
		return LevelError, true
	default:
		return "", false
	}
}

func ParseFormat(value string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "text":
		return FormatText, true
	case "json":
		return FormatJSON, true
	default:
		return "", false
	}
}

func LevelAtLeast(level, minLevel Level) bool {
	if minLevel == "" {
		return true
	}
	return levelRank(level) >= levelRank(minLevel)
}

func cloneFields(base, extra map[string]string) map[string]string {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	combined := make(map[string]string, len(base)+len(extra))
	for key, value := range base {
		combined[key] = value
	}
	for key, value := range extra {
		combined[key] = value
	}
	return combined
}

func formatEntry(entry LogEntry) string {
	builder := strings.Builder{}
	builder.WriteString("level=")
	builder.WriteString(string(entry.Level))
	builder.WriteString(" msg=")
	builder.WriteString(strconv.Quote(entry.Message))

	if len(entry.Context) == 0 {
		return builder.String()
	}

	keys := make([]string, 0, len(entry.Context))
	for key := range entry.Context {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		builder.WriteString(" ")
		builder.WriteString(fmt.Sprintf("%s=%s", key, strconv.Quote(entry.Context[key])))
	}
	return builder.String()
}

func formatJSONEntry(entry LogEntry) string {
	payload, err := json.Marshal(entry)
	if err != nil {
		return formatEntry(entry)
	}
	return string(payload)
}
