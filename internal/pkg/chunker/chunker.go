// Package chunker 将规范化后的文本切分为有重叠、大小受限的片段。
//
// 切分点按分隔符优先级选择：段落、换行、句末标点、空格，最后才在字符处硬切。
// 所有偏移量以 rune 为单位，满足 text[Start:End] == Chunk.Text（按 rune 切片）。
package chunker

import (
	"fmt"
	"unicode"
)

const (
	// DefaultChunkSize 默认块大小（字符数）。
	DefaultChunkSize = 1000
	// DefaultChunkOverlap 默认重叠大小（字符数）。
	DefaultChunkOverlap = 200
)

// DefaultSeparators 分隔符优先级，空串表示按字符硬切。
var DefaultSeparators = []string{"\n\n", "\n", ".", "!", "?", " ", ""}

// Chunk 文本块。
type Chunk struct {
	Index      int    `json:"chunk_index"`
	Text       string `json:"chunk_text"`
	Start      int    `json:"start_position"`
	End        int    `json:"end_position"`
	TokenCount int    `json:"token_count"`
}

// Chunker 递归分隔符切分器，相同输入与参数总是得到相同的切分结果。
type Chunker struct {
	size       int
	overlap    int
	separators [][]rune
}

// New 创建切分器。size 必须为正，overlap 必须小于 size。
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	seps := make([][]rune, len(DefaultSeparators))
	for i, s := range DefaultSeparators {
		seps[i] = []rune(s)
	}
	return &Chunker{size: size, overlap: overlap, separators: seps}, nil
}

// Size returns the configured chunk size.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// Split 切分文本。空白文本返回 nil。
func (c *Chunker) Split(text string) []Chunk {
	runes := []rune(text)
	n := len(runes)
	if n == 0 || isBlank(runes) {
		return nil
	}

	var chunks []Chunk
	start := 0
	for start < n {
		end := start + c.size
		if end >= n {
			chunks = append(chunks, c.newChunk(runes, len(chunks), start, n))
			break
		}

		cut := c.findCut(runes, start, end)
		chunks = append(chunks, c.newChunk(runes, len(chunks), start, cut))
		start = c.nextStart(runes, start, cut)
	}
	return chunks
}

// findCut 在 (start+minFill, end] 内寻找优先级最高分隔符的最后一次出现，返回分隔符之后的位置。
func (c *Chunker) findCut(runes []rune, start, end int) int {
	minFill := c.size / 2
	if minFill <= c.overlap {
		minFill = c.overlap + 1
	}
	lo := start + minFill

	for _, sep := range c.separators {
		if len(sep) == 0 {
			return end
		}
		for i := end - len(sep); i >= lo-len(sep) && i >= start; i-- {
			if hasPrefixAt(runes, i, sep) {
				if cut := i + len(sep); cut > lo-1 && cut <= end {
					return cut
				}
			}
		}
	}
	return end
}

// nextStart 回退 overlap 个字符作为下一块起点，并尽量对齐到单词边界。
// 返回值严格大于 start 且不超过 cut，保证前进且无缝覆盖。
func (c *Chunker) nextStart(runes []rune, start, cut int) int {
	next := cut - c.overlap
	if next <= start {
		next = start + 1
	}
	if c.overlap == 0 {
		return cut
	}
	for i := next; i < cut; i++ {
		if unicode.IsSpace(runes[i-1]) && !unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return next
}

func (c *Chunker) newChunk(runes []rune, idx, start, end int) Chunk {
	return Chunk{
		Index:      idx,
		Text:       string(runes[start:end]),
		Start:      start,
		End:        end,
		TokenCount: EstimateTokens(end - start),
	}
}

// EstimateTokens 按 4 字符约 1 token 估算。
func EstimateTokens(runeCount int) int {
	return (runeCount + 3) / 4
}

func hasPrefixAt(runes []rune, i int, sep []rune) bool {
	if i < 0 || i+len(sep) > len(runes) {
		return false
	}
	for j, r := range sep {
		if runes[i+j] != r {
			return false
		}
	}
	return true
}

func isBlank(runes []rune) bool {
	for _, r := range runes {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
