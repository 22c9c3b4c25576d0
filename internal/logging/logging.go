package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

const timeFormat = "15:04:05.000"

// NewHandler returns a tint handler writing to w. Colours are only used
// when w is a terminal.
func NewHandler(w io.Writer, level slog.Leveler) slog.Handler {
	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: timeFormat,
		NoColor:    !isTerminal(w),
	})
}

// Setup installs a tint logger on stderr as the slog default.
func Setup(level slog.Level) *slog.Logger {
	logger := slog.New(NewHandler(os.Stderr, level))
	slog.SetDefault(logger)
	return logger
}

// ParseLevel accepts debug, info, warn or error (case-insensitive).
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(s)))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Summary is the end-of-run tally.
type Summary struct {
	Downloaded int
	Deleted    int
	Cleaned    int
	Uploaded   int
	Errors     int
	Bytes      int64
	Duration   time.Duration
}

// PrintSummary prints a summary of the run. In quiet mode it is only
// printed when something failed.
func PrintSummary(w io.Writer, quiet bool, s Summary) {
	if quiet && s.Errors == 0 {
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Summary ===")
	if s.Uploaded > 0 {
		fmt.Fprintf(w, "Uploaded: %d files (%s)\n", s.Uploaded, humanize.Bytes(uint64(s.Bytes)))
	} else {
		fmt.Fprintf(w, "Downloaded: %d files (%s)\n", s.Downloaded, humanize.Bytes(uint64(s.Bytes)))
	}
	fmt.Fprintf(w, "Deleted: %d files\n", s.Deleted)
	if s.Cleaned > 0 {
		fmt.Fprintf(w, "Cleaned: %d entries\n", s.Cleaned)
	}
	if s.Errors > 0 {
		fmt.Fprintf(w, "Errors: %d\n", s.Errors)
	}
	fmt.Fprintf(w, "Duration: %s\n", s.Duration.Round(time.Millisecond))
}
