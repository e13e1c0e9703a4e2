package chunking

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"docpipeline/internal/domain/entity"
	"docpipeline/internal/domain/valueobject"
)

// ChunkingConfig holds chunk sizing in estimated tokens.
type ChunkingConfig struct {
	TargetTokens  int
	OverlapTokens int
}

// DefaultChunkingConfig returns 500 target tokens with 50 tokens of overlap.
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{TargetTokens: 500, OverlapTokens: 50}
}

// TargetChars returns the target chunk size in characters.
func (c ChunkingConfig) TargetChars() int {
	return c.TargetTokens * entity.CharsPerToken
}

// OverlapChars returns the overlap window in characters.
func (c ChunkingConfig) OverlapChars() int {
	return c.OverlapTokens * entity.CharsPerToken
}

// TableAwareChunker splits page-marked markdown into text and table chunks.
// It is pure: the same input always yields the same chunks.
type TableAwareChunker struct {
	config   ChunkingConfig
	detector TableDetector
}

// NewTableAwareChunker creates a chunker. A nil detector selects PipeTableDetector.
func NewTableAwareChunker(config ChunkingConfig, detector TableDetector) *TableAwareChunker {
	if config.TargetTokens <= 0 {
		config.TargetTokens = DefaultChunkingConfig().TargetTokens
	}
	if config.OverlapTokens < 0 {
		config.OverlapTokens = 0
	}
	if detector == nil {
		detector = PipeTableDetector{}
	}
	return &TableAwareChunker{config: config, detector: detector}
}

// placeholders contain no whitespace so no separator level can cut them.
var placeholderRe = regexp.MustCompile(`\x{E000}TABLE(\d+)\x{E000}`)

func placeholder(i int) string {
	return "\uE000TABLE" + strconv.Itoa(i) + "\uE000"
}

func isPlaceholder(s string) bool {
	loc := placeholderRe.FindStringIndex(s)
	return loc != nil && loc[0] == 0 && loc[1] == len(s)
}

type piece struct {
	content      string
	chunkType    valueobject.ChunkType
	summary      string
	overlapChars int
}

// Chunk implements outbound.DocumentChunker. Chunk indexes are dense and
// increase across pages in marker order.
func (c *TableAwareChunker) Chunk(markdown string, markers []valueobject.PageMarker) []*entity.DocumentChunk {
	if len(markers) == 0 {
		markers = []valueobject.PageMarker{{PageNumber: 1, StartIndex: 0, EndIndex: len(markdown)}}
	}

	var chunks []*entity.DocumentChunk
	for _, m := range markers {
		start, end := clamp(m.StartIndex, 0, len(markdown)), clamp(m.EndIndex, 0, len(markdown))
		if end <= start {
			continue
		}
		for _, p := range c.chunkPage(markdown[start:end]) {
			chunks = append(chunks, &entity.DocumentChunk{
				Content:      p.content,
				PageNumber:   m.PageNumber,
				ChunkIndex:   len(chunks),
				ChunkType:    p.chunkType,
				Summary:      p.summary,
				TokenCount:   entity.EstimateTokens(p.content),
				OverlapChars: p.overlapChars,
			})
		}
	}
	return chunks
}

func (c *TableAwareChunker) chunkPage(text string) []piece {
	tables := c.detector.Detect(text)

	var b strings.Builder
	prev := 0
	for i, t := range tables {
		b.WriteString(text[prev:t.Start])
		b.WriteString("\n\n")
		b.WriteString(placeholder(i))
		b.WriteString("\n\n")
		prev = t.End
	}
	b.WriteString(text[prev:])

	var pieces []piece
	for _, seg := range recursiveSplit(b.String(), c.config.TargetChars(), isPlaceholder) {
		pieces = append(pieces, expandPlaceholders(seg, tables)...)
	}
	return c.applyOverlap(pieces)
}

// expandPlaceholders splits a segment at each placeholder and emits the
// original table as its own piece.
func expandPlaceholders(seg string, tables []TableSpan) []piece {
	var out []piece
	addText := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, piece{content: s, chunkType: valueobject.ChunkTypeText})
		}
	}

	prev := 0
	for _, loc := range placeholderRe.FindAllStringSubmatchIndex(seg, -1) {
		addText(seg[prev:loc[0]])
		idx, err := strconv.Atoi(seg[loc[2]:loc[3]])
		if err != nil || idx < 0 || idx >= len(tables) {
			addText(seg[loc[0]:loc[1]])
		} else {
			t := tables[idx]
			out = append(out, piece{
				content:   strings.TrimSpace(t.Raw),
				chunkType: valueobject.ChunkTypeTable,
				summary:   t.Summary(),
			})
		}
		prev = loc[1]
	}
	addText(seg[prev:])
	return out
}

// applyOverlap prefixes each text piece that follows another text piece with
// the trailing window of that piece's own content.
func (c *TableAwareChunker) applyOverlap(pieces []piece) []piece {
	window := c.config.OverlapChars()
	if window <= 0 {
		return pieces
	}
	for i := len(pieces) - 1; i > 0; i-- {
		cur, prev := &pieces[i], pieces[i-1]
		if cur.chunkType != valueobject.ChunkTypeText || prev.chunkType != valueobject.ChunkTypeText {
			continue
		}
		tail := overlapTail(prev.content, window)
		if tail == "" {
			continue
		}
		prefix := tail + " "
		cur.content = prefix + cur.content
		cur.overlapChars = len(prefix)
	}
	return pieces
}

// overlapTail returns up to n trailing runes of s, dropping a leading partial word.
func overlapTail(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return strings.TrimSpace(s)
	}
	tail := runes[len(runes)-n:]
	if !unicode.IsSpace(runes[len(runes)-n-1]) {
		cut := -1
		for i, r := range tail {
			if unicode.IsSpace(r) {
				cut = i
				break
			}
		}
		if cut < 0 {
			return ""
		}
		tail = tail[cut:]
	}
	return strings.TrimSpace(string(tail))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// String describes the chunker configuration for logs.
func (c *TableAwareChunker) String() string {
	return fmt.Sprintf("table-aware(target=%d tokens, overlap=%d tokens)", c.config.TargetTokens, c.config.OverlapTokens)
}
