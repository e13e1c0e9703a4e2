package parsing

import (
	"regexp"
	"strconv"
	"strings"

	"docpipeline/internal/domain/valueobject"
)

// PageSeparatorTemplate is sent to the parsing service, which substitutes
// {pageNumber} for every page break.
const PageSeparatorTemplate = "\n--- PAGE {pageNumber} ---\n"

// PageMarkerScheme locates page spans in parsed markdown.
type PageMarkerScheme interface {
	Separator() string
	Find(markdown string) []valueobject.PageMarker
}

// DashedPageMarkers recognises "--- PAGE 3 ---" lines.
type DashedPageMarkers struct{}

var (
	dashedMarkerRe   = regexp.MustCompile(`(?i)---\s*PAGE\s+(\d+)\s*---`)
	templateMarkerRe = regexp.MustCompile(`(?i)---\s*PAGE\s+\{pageNumber\}\s*---`)
)

// Separator returns the template the parsing service should emit between pages.
func (DashedPageMarkers) Separator() string {
	return PageSeparatorTemplate
}

// Find returns one span per page in document order. Each span starts after its
// marker and ends at the next marker or the end of the text. Text before the
// first marker is page 1. Text without markers is a single page 1.
func (DashedPageMarkers) Find(markdown string) []valueobject.PageMarker {
	if locs := dashedMarkerRe.FindAllStringSubmatchIndex(markdown, -1); len(locs) > 0 {
		numbers := make([]int, len(locs))
		for i, loc := range locs {
			n, err := strconv.Atoi(markdown[loc[2]:loc[3]])
			if err != nil || n < 1 {
				n = i + 1
			}
			numbers[i] = n
		}
		return buildSpans(markdown, locs, numbers)
	}

	// The service ignored the template: number pages in order.
	if locs := templateMarkerRe.FindAllStringIndex(markdown, -1); len(locs) > 0 {
		numbers := make([]int, len(locs))
		for i := range locs {
			numbers[i] = i + 1
		}
		return buildSpans(markdown, locs, numbers)
	}

	return []valueobject.PageMarker{{PageNumber: 1, StartIndex: 0, EndIndex: len(markdown)}}
}

func buildSpans(markdown string, locs [][]int, numbers []int) []valueobject.PageMarker {
	spans := make([]valueobject.PageMarker, 0, len(locs)+1)

	if strings.TrimSpace(markdown[:locs[0][0]]) != "" {
		spans = append(spans, valueobject.PageMarker{PageNumber: 1, StartIndex: 0, EndIndex: locs[0][0]})
	}

	for i, loc := range locs {
		end := len(markdown)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		spans = append(spans, valueobject.PageMarker{
			PageNumber: numbers[i],
			StartIndex: loc[1],
			EndIndex:   end,
		})
	}
	return spans
}

// PageCount returns the highest page number among markers.
func PageCount(markers []valueobject.PageMarker) int {
	count := 0
	for _, m := range markers {
		if m.PageNumber > count {
			count = m.PageNumber
		}
	}
	return count
}
