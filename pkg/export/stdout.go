package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mbeema/lprof/pkg/lineprof"
	"github.com/mbeema/lprof/pkg/redact"
	"github.com/mbeema/lprof/pkg/report"
	"go.uber.org/zap"
)

// Console protocol markers read by the CI host.
const (
	coutPrefix      = "[COUT]"
	jsonContentTag  = "CO_JSON_CONTENT"
	yamlContentTag  = "CO_YAML_CONTENT"
	resultTag       = "CO_RESULT"
	unknownParamTag = "Unknown Parameter:"
)

// StdoutExporter writes the report document as a single [COUT] console line.
type StdoutExporter struct {
	format   string // report.FormatJSON or report.FormatYAML
	redactor *redact.Redactor
	w        io.Writer
	logger   *zap.Logger
}

// NewStdoutExporter creates a console exporter writing to w (os.Stdout when nil).
func NewStdoutExporter(format string, w io.Writer, redactor *redact.Redactor, logger *zap.Logger) (*StdoutExporter, error) {
	f, err := report.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	if w == nil {
		w = os.Stdout
	}
	return &StdoutExporter{
		format:   f,
		redactor: redactor,
		w:        w,
		logger:   logger,
	}, nil
}

// Name implements Exporter.
func (e *StdoutExporter) Name() string { return "stdout" }

// ExportReport prints the encoded report.
func (e *StdoutExporter) ExportReport(_ context.Context, r *lineprof.Report) error {
	doc := report.FromReport(r, report.WithRedactor(e.redactor))
	data, err := report.Encode(doc, e.format)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	var line string
	if e.format == report.FormatYAML {
		line = fmt.Sprintf("%s %s %s\n", coutPrefix, yamlContentTag, QuoteBytes(data))
	} else {
		line = fmt.Sprintf("%s %s %s\n", coutPrefix, jsonContentTag, data)
	}
	if _, err := io.WriteString(e.w, line); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	e.logger.Debug("report written to console",
		zap.String("format", e.format),
		zap.Int("functions", len(r.Functions)),
		zap.Int("bytes", len(data)),
	)
	return nil
}

// Shutdown implements Exporter.
func (e *StdoutExporter) Shutdown(context.Context) error { return nil }

// WriteResult prints the final pass/fail marker.
func WriteResult(w io.Writer, passed bool) error {
	_, err := fmt.Fprintf(w, "%s %s = %t\n", coutPrefix, resultTag, passed)
	return err
}

// WriteUnknownParameter reports an input pair that was not understood.
func WriteUnknownParameter(w io.Writer, param string) error {
	_, err := fmt.Fprintf(w, "%s %s [%s]\n", coutPrefix, unknownParamTag, param)
	return err
}

// QuoteBytes renders data as a one-line quoted literal: printable ASCII is
// kept, quotes and backslashes are escaped, tab/newline/CR use their short
// escapes and every other byte becomes \xNN. Single quotes delimit the
// literal unless data contains a single quote and no double quote.
func QuoteBytes(data []byte) string {
	quote := byte('\'')
	if strings.IndexByte(string(data), '\'') >= 0 && strings.IndexByte(string(data), '"') < 0 {
		quote = '"'
	}

	const hex = "0123456789abcdef"
	var b strings.Builder
	b.Grow(len(data) + 2)
	b.WriteByte(quote)
	for _, c := range data {
		switch {
		case c == quote || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c == '\t':
			b.WriteString(`\t`)
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\r':
			b.WriteString(`\r`)
		case c < ' ' || c >= 0x7f:
			b.WriteString(`\x`)
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0x0f])
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte(quote)
	return b.String()
}
