package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultChunkSize is the target chunk length in characters for plain text
	DefaultChunkSize = 1000

	// DefaultMinChunkSize is the smallest structural chunk worth keeping (times two)
	DefaultMinChunkSize = 200

	// TokensPerChar is the heuristic for estimating tokens (chars/4)
	TokensPerChar = 4

	// structuralGrowth scales ChunkSize into the structural chunker's ceiling
	structuralGrowth = 1.5

	// fenceSplitRatio is the fill level above which an opening fence starts a new chunk
	fenceSplitRatio = 0.7
)

var (
	headerPattern = regexp.MustCompile(`^#{1,6}\s`)
	headerAnyLine = regexp.MustCompile(`(?m)^#{1,6}\s`)
	bulletAnyLine = regexp.MustCompile(`(?m)^\s*[-*•]\s`)
)

// Segment is a contiguous run of lines cut from a document.
// Line numbers are 1-based and inclusive.
type Segment struct {
	Text      string
	StartLine int
	EndLine   int
}

// Strategy identifies which chunking algorithm produced a set of segments
type Strategy string

const (
	StrategyStructural Strategy = "structural"
	StrategySimple     Strategy = "simple"
)

// Config controls chunk sizing
type Config struct {
	ChunkSize    int // Simple chunker target; structural ceiling is 1.5x this
	MinChunkSize int // Structural chunks shorter than half of this are dropped
}

// DefaultConfig returns the default chunk sizing
func DefaultConfig() Config {
	return Config{
		ChunkSize:    DefaultChunkSize,
		MinChunkSize: DefaultMinChunkSize,
	}
}

// Chunker splits document text into segments
type Chunker struct {
	cfg Config
}

// New creates a new Chunker with default sizing
func New() *Chunker {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a Chunker, filling zero fields with defaults
func NewWithConfig(cfg Config) *Chunker {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.MinChunkSize <= 0 {
		cfg.MinChunkSize = DefaultMinChunkSize
	}
	return &Chunker{cfg: cfg}
}

// Config returns the sizing in effect
func (c *Chunker) Config() Config {
	return c.cfg
}

// Chunk splits text into segments. Documents with markdown structure
// (headers, code fences, bullet lines) use the structural chunker;
// everything else uses the simple line chunker.
func (c *Chunker) Chunk(text string) []Segment {
	segments, _ := c.ChunkWithStrategy(text)
	return segments
}

// ChunkWithStrategy is Chunk but also reports which strategy was selected
func (c *Chunker) ChunkWithStrategy(text string) ([]Segment, Strategy) {
	strategy := DetectStrategy(text)
	if strings.TrimSpace(text) == "" {
		return nil, strategy
	}

	if strategy == StrategyStructural {
		maxSize := int(float64(c.cfg.ChunkSize) * structuralGrowth)
		return chunkStructural(text, maxSize, c.cfg.MinChunkSize), strategy
	}
	return chunkSimple(text, c.cfg.ChunkSize), strategy
}

// DetectStrategy inspects text for markdown structure signals
func DetectStrategy(text string) Strategy {
	if headerAnyLine.MatchString(text) || strings.Contains(text, "```") || bulletAnyLine.MatchString(text) {
		return StrategyStructural
	}
	return StrategySimple
}

// structuralBuilder accumulates lines for chunkStructural
type structuralBuilder struct {
	segments []Segment
	lines    []string
	size     int
	start    int
	minSize  int
}

func (b *structuralBuilder) add(line string) {
	b.lines = append(b.lines, line)
	b.size += utf8.RuneCountInString(line)
}

// flush emits the pending lines ending at end, dropping fragments that are
// too short to be useful on their own.
func (b *structuralBuilder) flush(end int) {
	if len(b.lines) > 0 {
		text := strings.Join(b.lines, "\n")
		if utf8.RuneCountInString(strings.TrimSpace(text)) >= b.minSize/2 {
			b.segments = append(b.segments, Segment{Text: text, StartLine: b.start, EndLine: end})
		}
	}
	b.lines = nil
	b.size = 0
}

func chunkStructural(text string, maxSize, minSize int) []Segment {
	lines := strings.Split(text, "\n")
	b := &structuralBuilder{start: 1, minSize: minSize}
	inFence := false

	for idx, line := range lines {
		lineNo := idx + 1
		lineLen := utf8.RuneCountInString(line)
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			if !inFence {
				if float64(b.size) > float64(maxSize)*fenceSplitRatio {
					b.flush(lineNo - 1)
					b.start = lineNo
				}
				inFence = true
			} else {
				inFence = false
			}
			b.add(line)
			continue
		}

		if inFence {
			b.add(line)
			continue
		}

		isHeader := headerPattern.MatchString(line)
		split := false
		switch {
		case isHeader && b.size > minSize:
			split = true
		case b.size+lineLen > maxSize:
			if isHeader || trimmed == "" || !isListContinuation(trimmed) {
				split = true
			}
		}

		if split && len(b.lines) > 0 {
			b.flush(lineNo - 1)
			b.start = lineNo
		}
		b.add(line)
	}

	b.flush(len(lines))
	return b.segments
}

func isListContinuation(trimmed string) bool {
	for _, prefix := range []string{"-", "*", "1.", "•"} {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

func chunkSimple(text string, chunkSize int) []Segment {
	lines := splitLines(text)
	var segments []Segment
	var lead *Segment
	var current []string
	currentLen := 0
	start := 1

	// Blank-only runs never stand alone: they extend the previous segment,
	// or prefix the next one when nothing precedes them.
	emit := func(seg Segment) {
		if strings.TrimSpace(seg.Text) == "" {
			if n := len(segments); n > 0 {
				segments[n-1].Text += "\n" + seg.Text
				segments[n-1].EndLine = seg.EndLine
				return
			}
			if lead != nil {
				seg.Text = lead.Text + "\n" + seg.Text
				seg.StartLine = lead.StartLine
			}
			lead = &seg
			return
		}
		if lead != nil {
			seg.Text = lead.Text + "\n" + seg.Text
			seg.StartLine = lead.StartLine
			lead = nil
		}
		segments = append(segments, seg)
	}

	for idx, line := range lines {
		lineLen := utf8.RuneCountInString(line)
		if currentLen+lineLen > chunkSize && len(current) > 0 {
			emit(Segment{
				Text:      strings.Join(current, "\n"),
				StartLine: start,
				EndLine:   start + len(current) - 1,
			})
			current = nil
			currentLen = 0
			start = idx + 1
		}
		current = append(current, line)
		currentLen += lineLen
	}

	if len(current) > 0 {
		emit(Segment{
			Text:      strings.Join(current, "\n"),
			StartLine: start,
			EndLine:   len(lines),
		})
	}
	return segments
}

// splitLines splits on \n, \r\n and \r without producing a trailing empty
// element for a terminating newline.
func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

// EstimateTokenCount estimates token count using chars/4 heuristic
func EstimateTokenCount(text string) int {
	return len(text) / TokensPerChar
}
