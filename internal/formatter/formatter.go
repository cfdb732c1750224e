// package formatter writes exported entity lists and run reports to disk (CSV, JSON, Markdown)
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/desertthunder/ncx/internal/models"
	"github.com/desertthunder/ncx/internal/shared"
)

// Supported export formats
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// Writer persists a list of records as <outputDir>/<baseName>.<ext> and returns the record count.
type Writer interface {
	Extension() string
	Write(records []models.Record, outputDir, baseName string) (int, error)
}

// Path returns the file a [Writer] creates for baseName.
func Path(w Writer, outputDir, baseName string) string {
	return filepath.Join(outputDir, baseName+"."+w.Extension())
}

// ForFormats returns one writer per recognized format, in the order given. Duplicates are ignored.
func ForFormats(formats []string) ([]Writer, error) {
	seen := map[string]bool{}
	var writers []Writer
	for _, f := range formats {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		switch f {
		case FormatCSV:
			writers = append(writers, CSVWriter{})
		case FormatJSON:
			writers = append(writers, JSONWriter{Pretty: true})
		default:
			return nil, fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidArgument, f)
		}
	}
	return writers, nil
}

// CSVWriter writes a header row from the first record followed by one row per record.
type CSVWriter struct{}

func (CSVWriter) Extension() string { return FormatCSV }

func (w CSVWriter) Write(records []models.Record, outputDir, baseName string) (int, error) {
	data, err := ToCSV(records)
	if err != nil {
		return 0, err
	}
	if err := writeFile(Path(w, outputDir, baseName), data); err != nil {
		return 0, err
	}
	return len(records), nil
}

// ToCSV encodes records. An empty list encodes to nothing.
func ToCSV(records []models.Record) ([]byte, error) {
	var buf bytes.Buffer
	if len(records) == 0 {
		return buf.Bytes(), nil
	}

	writer := csv.NewWriter(&buf)
	if err := writer.Write(records[0].CSVHeader()); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, r := range records {
		if err := writer.Write(r.CSVRow()); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// JSONWriter writes records as a JSON array using their JSON field names.
type JSONWriter struct {
	Pretty bool
}

func (JSONWriter) Extension() string { return FormatJSON }

func (w JSONWriter) Write(records []models.Record, outputDir, baseName string) (int, error) {
	if records == nil {
		records = []models.Record{}
	}
	data, err := shared.MarshalJSON(records, w.Pretty)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to encode %s: %v", shared.ErrExport, baseName, err)
	}
	if err := writeFile(Path(w, outputDir, baseName), data); err != nil {
		return 0, err
	}
	return len(records), nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: failed to create directory: %v", shared.ErrExport, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("%w: failed to write %s: %v", shared.ErrExport, path, err)
	}
	return nil
}

// RunToMarkdown renders a run and its entity outcomes as a Markdown report.
func RunToMarkdown(run *models.MigrationRun, outcomes []models.EntityOutcome) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# Run %s (%s)\n\n", run.ID(), run.Kind())
	fmt.Fprintf(&buf, "**Status**: %s\n", run.Status())
	fmt.Fprintf(&buf, "**Source**: %s (SO %d)\n", run.SourceURL(), run.SourceSOID())
	if run.DestURL() != "" {
		fmt.Fprintf(&buf, "**Destination**: %s (SO %d)\n", run.DestURL(), run.DestSOID())
	}
	if d := run.Duration(); d > 0 {
		fmt.Fprintf(&buf, "**Duration**: %s\n", d.Round(time.Millisecond))
	}
	if run.ErrorMessage() != "" {
		fmt.Fprintf(&buf, "**Error**: %s\n", run.ErrorMessage())
	}
	fmt.Fprintf(&buf, "\n| Created | Matched | Skipped | Failed |\n|---|---|---|---|\n| %d | %d | %d | %d |\n",
		run.Created(), run.Matched(), run.Skipped(), run.Failed())

	if len(outcomes) == 0 {
		return buf.Bytes()
	}

	buf.WriteString("\n## Entities\n\n")
	for _, o := range outcomes {
		line := fmt.Sprintf("- [%s] %s %s `%s`", o.Action, o.Phase, o.Kind, o.Name)
		if o.DestID != "" {
			line += fmt.Sprintf(" (%s → %s)", o.SourceID, o.DestID)
		}
		if o.ErrorMessage != "" {
			line += ": " + o.ErrorMessage
		}
		buf.WriteString(line + "\n")
	}
	return buf.Bytes()
}

// WriteRunReport writes [RunToMarkdown] output to path.
func WriteRunReport(run *models.MigrationRun, outcomes []models.EntityOutcome, path string) error {
	return writeFile(path, RunToMarkdown(run, outcomes))
}
