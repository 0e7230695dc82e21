package export

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var ErrNoRows = errors.New("no rows to export")

type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSON, FormatXLSX:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

func (f Format) Write(w io.Writer, t Table) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, t)
	case FormatJSON:
		return WriteJSON(w, t)
	case FormatXLSX:
		return WriteXLSX(w, t)
	default:
		return fmt.Errorf("unsupported export format %q", string(f))
	}
}

func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/json"
	}
}

// Filename returns <prefix>_YYYYMMDD_HHMMSS.<ext>.
func Filename(prefix string, format Format, now time.Time) string {
	return fmt.Sprintf("%s_%s.%s", prefix, now.Format("20060102_150405"), format)
}

type Exporter struct {
	Dir     string
	Formats []Format
	Now     func() time.Time
	Logger  *slog.Logger
}

func NewExporter(dir string, formats []Format, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		Dir:     dir,
		Formats: formats,
		Now:     time.Now,
		Logger:  logger.With("component", "export"),
	}
}

// Export writes the table once per configured format and returns the paths
// written. An empty table writes nothing and returns ErrNoRows.
func (e *Exporter) Export(prefix string, t Table) ([]string, error) {
	if t.Len() == 0 {
		return nil, ErrNoRows
	}

	if e.Dir != "" {
		if err := os.MkdirAll(e.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output dir: %w", err)
		}
	}

	now := e.Now()
	paths := make([]string, 0, len(e.Formats))
	for _, format := range e.Formats {
		path := filepath.Join(e.Dir, Filename(prefix, format, now))
		if err := writeFile(path, format, t); err != nil {
			return paths, err
		}
		e.Logger.Info("exported", "path", path, "format", string(format), "rows", t.Len())
		paths = append(paths, path)
	}
	return paths, nil
}

func writeFile(path string, format Format, t Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	if err := format.Write(f, t); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
