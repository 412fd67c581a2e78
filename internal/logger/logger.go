// Package logger writes colored category-tagged lines to the terminal and
// JSON lines to a daily log file.
package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fatih/color"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (lv Level) String() string {
	switch lv {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "INFO"
	}
}

func (lv Level) color() *color.Color {
	switch lv {
	case LevelDebug:
		return color.New(color.FgCyan)
	case LevelWarn:
		return color.New(color.FgYellow)
	case LevelError, LevelFatal:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgGreen)
	}
}

type entry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Category  string `json:"category"`
	Message   string `json:"message"`
	Caller    string `json:"caller,omitempty"`
}

type Logger struct {
	file *os.File
}

// NewLogger opens (or creates) today's log file under logs/. Terminal
// output always goes to stdout regardless of file state.
func NewLogger() *Logger {
	if err := os.MkdirAll("logs", 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "logger: cannot create logs directory: %v\n", err)
		return &Logger{}
	}

	name := fmt.Sprintf("logs/ticket-core-%s.log", time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: cannot open %s: %v\n", name, err)
		return &Logger{}
	}

	l := &Logger{file: file}
	l.Info("LOGGER", "log file: "+name)
	return l
}

func (l *Logger) write(lv Level, category, message string) {
	caller := ""
	if _, file, line, ok := runtime.Caller(2); ok {
		caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}

	e := entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     lv.String(),
		Category:  strings.ToUpper(category),
		Message:   message,
		Caller:    caller,
	}

	c := lv.color()
	fmt.Printf("%s %s %s %s %s\n",
		color.New(color.FgBlue).Sprint(time.Now().Format("15:04:05")),
		c.Sprintf("%-5s", e.Level),
		c.Add(color.Bold).Sprintf("[%-11s]", e.Category),
		e.Message,
		color.New(color.FgMagenta).Sprintf("(%s)", e.Caller),
	)

	if l.file != nil {
		if line, err := json.Marshal(e); err == nil {
			_, _ = l.file.Write(append(line, '\n'))
		}
	}
}

func (l *Logger) Debug(category, message string) { l.write(LevelDebug, category, message) }
func (l *Logger) Info(category, message string)  { l.write(LevelInfo, category, message) }
func (l *Logger) Warn(category, message string)  { l.write(LevelWarn, category, message) }
func (l *Logger) Error(category, message string) { l.write(LevelError, category, message) }

func (l *Logger) Fatal(category, message string) {
	l.write(LevelFatal, category, message)
	os.Exit(1)
}

// Helpers for the lifecycle workflows.

func (l *Logger) LogReservation(action, reservationID, message string) {
	l.Info("RESERVATION", fmt.Sprintf("[%s] %s - %s", action, reservationID, message))
}

func (l *Logger) LogPayment(action, correlationID, message string) {
	l.Info("PAYMENT", fmt.Sprintf("[%s] %s - %s", action, correlationID, message))
}

func (l *Logger) LogScan(result, ticketID, message string) {
	l.Info("SCAN", fmt.Sprintf("[%s] %s - %s", result, ticketID, message))
}

func (l *Logger) LogReaper(message string) {
	l.Info("REAPER", message)
}

func (l *Logger) Close() {
	if l.file != nil {
		_ = l.file.Close()
	}
}
