package astrolog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timeFormat = "2006-01-02 15:04:05.000"

// Config controls where and how the process logs.
type Config struct {
	LogLevel    string `env:"LOG_LEVEL,info"`
	LogToFile   bool   `env:"LOG_TO_FILE,false"`
	LogDir      string `env:"LOG_DIR,./logs"`
	LogFileName string `env:"LOG_FILE_NAME,astrosnap"`
	Formatted   bool   `env:"LOG_FORMATTED,true"`
	MaxFileSize int    `env:"LOG_MAX_FILE_SIZE,10"`
	MaxLogFiles int    `env:"LOG_MAX_FILES,7"`
	NoColor     bool   `env:"LOG_NO_COLOR,false"`

	// Console receives the human-readable stream; os.Stderr when nil.
	Console io.Writer
}

// InitLogger points the global zerolog logger at the console and, when
// enabled, a rotating log file. The returned closer releases the file.
func InitLogger(cfg Config) io.Closer {
	zerolog.TimeFieldFormat = timeFormat
	zerolog.TimestampFunc = func() time.Time {
		return time.Now().Local()
	}
	zerolog.CallerMarshalFunc = func(_ uintptr, file string, line int) string {
		return fmt.Sprintf("%s:%d", stripCallerPath(file), line)
	}

	writers := []io.Writer{newConsoleWriter(cfg)}

	var closer io.Closer = nopCloser{}
	if cfg.LogToFile {
		if fw := newFileWriter(cfg, time.Now()); fw != nil {
			writers = append(writers, fw)
			closer = fw.out
		}
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Caller().
		Logger()

	UpdateLogLevel(cfg.LogLevel)
	return closer
}

// UpdateLogLevel sets the global level from a name such as "debug" or
// "warn". Empty or unknown names mean info.
func UpdateLogLevel(level string) {
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// consoleWriter reports len(p) back to zerolog: ConsoleWriter rewrites the
// entry, and a different count is taken as a short write.
type consoleWriter struct {
	zerolog.ConsoleWriter
}

func (c consoleWriter) WriteLevel(_ zerolog.Level, p []byte) (int, error) {
	_, err := c.ConsoleWriter.Write(p)
	return len(p), err
}

func newConsoleWriter(cfg Config) consoleWriter {
	out := cfg.Console
	if out == nil {
		out = os.Stderr
	}
	return consoleWriter{zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    cfg.NoColor,
		TimeFormat: timeFormat,
		FormatCaller: func(i interface{}) string {
			caller, _ := i.(string)
			if cfg.NoColor {
				return caller
			}
			return "\033[34m" + caller + "\033[0m"
		},
	}}
}

// fileWriter writes either raw JSON lines or the pipe-separated form.
type fileWriter struct {
	out       *lumberjack.Logger
	formatted bool
}

func (f *fileWriter) Write(p []byte) (int, error) {
	return f.out.Write(p)
}

func (f *fileWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if !f.formatted {
		return f.out.Write(p)
	}
	line, err := formatLogEntry(level, p)
	if err != nil {
		return f.out.Write(p)
	}
	_, err = io.WriteString(f.out, line)
	return len(p), err
}

// newFileWriter opens <dir>/<name>_<dd-mm-yyyy>[_json].log, so every run of
// one day appends to the same file. It returns nil if the directory cannot
// be created.
func newFileWriter(cfg Config, now time.Time) *fileWriter {
	dir := cfg.LogDir
	if dir == "" {
		dir = "./logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Err(err).Str("dir", dir).Msg("Failed to create log directory")
		return nil
	}
	if err := deleteOldLogFiles(dir, cfg.MaxLogFiles); err != nil {
		log.Err(err).Str("dir", dir).Msg("Failed to clean old log files")
	}

	suffix := "_json"
	if cfg.Formatted {
		suffix = ""
	}
	name := fmt.Sprintf("%s_%s%s.log", cfg.LogFileName, now.Format("02-01-2006"), suffix)

	out := &lumberjack.Logger{
		Filename:   filepath.Join(dir, name),
		MaxSize:    cfg.MaxFileSize,
		MaxBackups: 3,
		MaxAge:     30,
	}
	writeRunSeparator(out, now)

	return &fileWriter{out: out, formatted: cfg.Formatted}
}

// formatLogEntry renders a zerolog JSON entry as
// "time | level | caller | message | k=v ...".
func formatLogEntry(level zerolog.Level, p []byte) (string, error) {
	var entry map[string]interface{}
	if err := json.Unmarshal(p, &entry); err != nil {
		return "", err
	}

	ts, _ := entry["time"].(string)
	message, _ := entry["message"].(string)
	caller, _ := entry["caller"].(string)

	if len(ts) >= len(timeFormat) {
		ts = strings.ReplaceAll(ts, "T", " ")[:len(timeFormat)]
	}

	return fmt.Sprintf("%s | %-5s | %-25s | %s | %s\n",
		ts, level.String(), caller, message, strings.Join(extraFields(entry), " "),
	), nil
}

// stripCallerPath turns "pkg/sub/file.go" into "file".
func stripCallerPath(file string) string {
	if file == "" {
		return file
	}
	return strings.TrimSuffix(filepath.Base(filepath.ToSlash(file)), ".go")
}

// extraFields returns the non-standard fields as sorted key=value pairs.
func extraFields(entry map[string]interface{}) []string {
	var extras []string
	for k, v := range entry {
		switch k {
		case zerolog.TimestampFieldName, zerolog.MessageFieldName, zerolog.LevelFieldName, zerolog.CallerFieldName:
			continue
		}
		extras = append(extras, fmt.Sprintf("%s=%v", k, v))
	}
	sort.Strings(extras)
	return extras
}

// writeRunSeparator marks a process start in the log file.
func writeRunSeparator(w io.Writer, now time.Time) {
	started := "  Started : " + now.Format("2006-01-02 15:04:05")
	width := 50
	if len(started)+4 > width {
		width = len(started) + 4
	}

	rule := strings.Repeat("─", width)
	_, _ = fmt.Fprintf(w, "\n┌%s┐\n│%-*s│\n├%s┤\n│%-*s│\n└%s┘\n\n",
		rule, width, "  ▶  ASTROSNAP STARTED", rule, width, started, rule)
}

// deleteOldLogFiles keeps the maxFiles most recently modified *.log files
// in dir.
func deleteOldLogFiles(dir string, maxFiles int) error {
	if maxFiles <= 0 {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	type logFile struct {
		name    string
		modTime time.Time
	}
	var files []logFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, logFile{e.Name(), info.ModTime()})
	}
	if len(files) <= maxFiles {
		return nil
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })

	for _, f := range files[:len(files)-maxFiles] {
		if err := os.Remove(filepath.Join(dir, f.name)); err != nil {
			log.Err(err).Str("file", f.name).Msg("Failed to delete old log file")
		}
	}
	return nil
}
