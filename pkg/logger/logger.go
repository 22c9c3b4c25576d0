package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Logger receives one call per file operation.
type Logger interface {
	Download(path, url string)
	Delete(path string)
	Clean(path string)
	Upload(localPath, target string)
	Error(operation, path string, err error)
	Debug(message string)
}

// SyncLogger prints operations in the familiar "action: path" form and
// mirrors them to slog at debug level. Errors always go to slog.
type SyncLogger struct {
	IsDryRun bool
	IsQuiet  bool
	Out      io.Writer
	Slog     *slog.Logger
}

func (l *SyncLogger) out() io.Writer {
	if l.Out != nil {
		return l.Out
	}
	return os.Stdout
}

func (l *SyncLogger) slogger() *slog.Logger {
	if l.Slog != nil {
		return l.Slog
	}
	return slog.Default()
}

func (l *SyncLogger) print(action, msg string) {
	l.slogger().Debug(action, "target", msg, "dryrun", l.IsDryRun)
	if l.IsQuiet {
		return
	}
	prefix := ""
	if l.IsDryRun {
		prefix = "(dryrun) "
	}
	fmt.Fprintf(l.out(), "%s%s: %s\n", prefix, action, msg)
}

func (l *SyncLogger) Download(path, url string) {
	l.print("download", fmt.Sprintf("%s to %s", url, path))
}

func (l *SyncLogger) Delete(path string) {
	l.print("delete", path)
}

func (l *SyncLogger) Clean(path string) {
	l.print("clean", path)
}

func (l *SyncLogger) Upload(localPath, target string) {
	l.print("upload", fmt.Sprintf("%s to %s", localPath, target))
}

func (l *SyncLogger) Error(operation, path string, err error) {
	l.slogger().Error(operation+" failed", "path", path, "error", err)
}

func (l *SyncLogger) Debug(message string) {
	l.slogger().Debug(message)
}

// NullLogger discards everything.
type NullLogger struct{}

func (NullLogger) Download(path, url string)               {}
func (NullLogger) Delete(path string)                      {}
func (NullLogger) Clean(path string)                       {}
func (NullLogger) Upload(localPath, target string)         {}
func (NullLogger) Error(operation, path string, err error) {}
func (NullLogger) Debug(message string)                    {}

var (
	_ Logger = (*SyncLogger)(nil)
	_ Logger = NullLogger{}
)
