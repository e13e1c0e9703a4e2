package chunking

import (
	"fmt"
	"regexp"
	"strings"
)

// TableSpan is a detected table inside a page. Start and End are byte offsets.
type TableSpan struct {
	Start   int
	End     int
	Raw     string
	Headers []string
	Rows    int
}

// Summary describes the table for embedding.
func (t TableSpan) Summary() string {
	headers := make([]string, 0, len(t.Headers))
	for _, h := range t.Headers {
		if h != "" {
			headers = append(headers, h)
		}
	}
	if len(headers) == 0 {
		return fmt.Sprintf("Table with %d columns and %d rows.", len(t.Headers), t.Rows)
	}
	return fmt.Sprintf("Table with %d columns (%s) and %d rows.", len(t.Headers), strings.Join(headers, ", "), t.Rows)
}

// TableDetector finds tables in a page of markdown. Spans must be ordered and
// non-overlapping.
type TableDetector interface {
	Detect(text string) []TableSpan
}

// PipeTableDetector detects GitHub-flavoured pipe tables: a header row, a
// separator row and at least one data row.
type PipeTableDetector struct{}

var separatorRowRe = regexp.MustCompile(`^\|?\s*:?-+:?\s*(\|\s*:?-+:?\s*)*\|?$`)

type line struct {
	text  string
	start int
	end   int // exclusive, without the newline
}

// Detect implements TableDetector.
func (PipeTableDetector) Detect(text string) []TableSpan {
	lines := splitLines(text)
	var spans []TableSpan

	for i := 0; i+2 < len(lines); i++ {
		if !isPipeRow(lines[i].text) || !isSeparatorRow(lines[i+1].text) || !isPipeRow(lines[i+2].text) {
			continue
		}
		headers := splitCells(lines[i].text)
		if len(headers) != len(splitCells(lines[i+1].text)) {
			continue
		}

		last := i + 2
		for last+1 < len(lines) && isPipeRow(lines[last+1].text) {
			last++
		}

		start, end := lines[i].start, lines[last].end
		spans = append(spans, TableSpan{
			Start:   start,
			End:     end,
			Raw:     text[start:end],
			Headers: headers,
			Rows:    last - i - 1,
		})
		i = last
	}
	return spans
}

func splitLines(text string) []line {
	var lines []line
	start := 0
	for start <= len(text) {
		idx := strings.IndexByte(text[start:], '\n')
		if idx < 0 {
			lines = append(lines, line{text: text[start:], start: start, end: len(text)})
			break
		}
		lines = append(lines, line{text: text[start : start+idx], start: start, end: start + idx})
		start += idx + 1
	}
	return lines
}

func isPipeRow(l string) bool {
	t := strings.TrimSpace(l)
	return t != "" && strings.Contains(t, "|") && !isSeparatorRow(t)
}

func isSeparatorRow(l string) bool {
	t := strings.TrimSpace(l)
	return strings.Contains(t, "-") && separatorRowRe.MatchString(t)
}

func splitCells(row string) []string {
	t := strings.TrimSpace(row)
	t = strings.TrimPrefix(t, "|")
	t = strings.TrimSuffix(t, "|")
	cells := strings.Split(t, "|")
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return cells
}
