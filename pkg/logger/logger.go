package logger

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

var Log *slog.Logger

type asyncWriter struct {
	ch chan []byte
}

func (a *asyncWriter) Write(p []byte) (n int, err error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	select {
	case a.ch <- cp:
		return len(p), nil
	default:
		// drop if queue full to avoid blocking a stream
		return len(p), nil
	}
}

var logCh chan []byte
var logStopCh chan struct{}
var logWG sync.WaitGroup
var syncOnce *sync.Once

// ParseLevel maps a level name to a slog level; unknown names are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newHandler(w io.Writer, level, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Init installs the global logger behind an async buffered writer, flushed
// every second and on Sync. An empty level falls back to CHATRELAY_LOG_LEVEL.
// sink is "" or "stdout" for stdout, "stderr", or "file:/path".
func Init(level, format, sink string) {
	if level == "" {
		level = os.Getenv("CHATRELAY_LOG_LEVEL")
	}

	logCh = make(chan []byte, 10000)
	logStopCh = make(chan struct{})
	syncOnce = &sync.Once{}
	Log = slog.New(newHandler(&asyncWriter{ch: logCh}, level, format))

	logWG.Add(1)
	go func(ch chan []byte, stop chan struct{}) {
		defer logWG.Done()
		out, closeOut := openSink(sink)
		buf := bufio.NewWriterSize(out, 8192)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case b := <-ch:
				buf.Write(b)
			case <-ticker.C:
				buf.Flush()
			case <-stop:
				// drain what is queued before the final flush
				for len(ch) > 0 {
					buf.Write(<-ch)
				}
				buf.Flush()
				closeOut()
				return
			}
		}
	}(logCh, logStopCh)
}

func openSink(sink string) (io.Writer, func()) {
	switch {
	case sink == "stderr":
		return os.Stderr, func() {}
	case strings.HasPrefix(sink, "file:"):
		path := strings.TrimPrefix(sink, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", path, err)
			return os.Stdout, func() {}
		}
		return f, func() { f.Close() }
	}
	return os.Stdout, func() {}
}

// InitWriter installs a synchronous global logger writing to w. Used by the
// CLI and by tests that inspect log output.
func InitWriter(w io.Writer, level, format string) {
	Log = slog.New(newHandler(w, level, format))
}

// Sync flushes any buffered logs.
func Sync() {
	if logStopCh == nil || syncOnce == nil {
		return
	}
	syncOnce.Do(func() {
		close(logStopCh)
		logWG.Wait()
	})
}

// Debug logs with slog-style key/value pairs.
func Debug(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Debug(msg, args...)
}

// Info logs with slog-style key/value pairs.
func Info(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Info(msg, args...)
}

// Warn logs with slog-style key/value pairs.
func Warn(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Warn(msg, args...)
}

// Error logs with slog-style key/value pairs.
func Error(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Error(msg, args...)
}

// LogConfigSummary prints a titled, hyphenated list to stdout, bypassing the
// structured logger so startup settings are easy to read in a terminal.
func LogConfigSummary(title string, items []string) {
	writeSummary(os.Stdout, title, items)
}

func writeSummary(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	header := "== " + strings.ReplaceAll(title, "_", " ") + " "
	const width = 60
	if len(header) < width {
		header = header + strings.Repeat("=", width-len(header))
	}
	fmt.Fprintln(w, header)
	for _, it := range items {
		fmt.Fprintln(w, "- "+it)
	}
	fmt.Fprintln(w)
}
