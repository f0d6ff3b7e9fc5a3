package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleText() string {
	var b strings.Builder
	for p := 0; p < 12; p++ {
		for s := 0; s < 9; s++ {
			b.WriteString("The return policy allows refunds within thirty days of purchase. ")
		}
		b.WriteString("\n\n")
	}
	b.WriteString("中文段落用于验证按字符计算偏移。")
	return b.String()
}

func TestNewValidatesParams(t *testing.T) {
	_, err := New(0, 0)
	assert.Error(t, err)
	_, err = New(100, 100)
	assert.Error(t, err)
	_, err = New(100, -1)
	assert.Error(t, err)
	c, err := New(DefaultChunkSize, DefaultChunkOverlap)
	require.NoError(t, err)
	assert.Equal(t, 1000, c.Size())
	assert.Equal(t, 200, c.Overlap())
}

func TestSplitEmpty(t *testing.T) {
	c, _ := New(100, 10)
	assert.Nil(t, c.Split(""))
	assert.Nil(t, c.Split(" \n\t "))
}

func TestSplitShortText(t *testing.T) {
	c, _ := New(1000, 200)
	chunks := c.Split("The return policy allows 30-day refunds.")
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 40, chunks[0].End)
	assert.Equal(t, 10, chunks[0].TokenCount)
}

// 覆盖性：块的偏移区间并集无缝覆盖全文，每块长度不超过 size，偏移可还原文本。
func TestSplitCoverage(t *testing.T) {
	text := sampleText()
	runes := []rune(text)

	for _, tc := range []struct{ size, overlap int }{{1000, 200}, {300, 50}, {64, 0}, {50, 49}, {7, 3}} {
		c, err := New(tc.size, tc.overlap)
		require.NoError(t, err)
		chunks := c.Split(text)
		require.NotEmpty(t, chunks)

		assert.Equal(t, 0, chunks[0].Start)
		assert.Equal(t, len(runes), chunks[len(chunks)-1].End)
		for i, ch := range chunks {
			assert.Equal(t, i, ch.Index)
			assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), tc.size)
			assert.Equal(t, string(runes[ch.Start:ch.End]), ch.Text)
			if i > 0 {
				prev := chunks[i-1]
				assert.LessOrEqual(t, ch.Start, prev.End, "gap between chunk %d and %d", i-1, i)
				assert.Greater(t, ch.Start, prev.Start, "chunks must advance")
			}
		}
	}
}

func TestSplitPrefersNaturalBoundaries(t *testing.T) {
	c, _ := New(1000, 200)
	chunks := c.Split(sampleText())
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks[:len(chunks)-1] {
		assert.True(t, strings.HasSuffix(ch.Text, "\n\n"), "chunk should end at a paragraph break: %q", ch.Text[len(ch.Text)-20:])
	}
}

func TestSplitDeterministic(t *testing.T) {
	text := sampleText()
	c1, _ := New(300, 60)
	c2, _ := New(300, 60)
	assert.Equal(t, c1.Split(text), c2.Split(text))
}

func TestSplitHardCut(t *testing.T) {
	c, _ := New(10, 2)
	text := strings.Repeat("x", 35)
	chunks := c.Split(text)
	require.NotEmpty(t, chunks)
	assert.Equal(t, 10, len(chunks[0].Text))
	assert.Equal(t, 8, chunks[1].Start)
	assert.Equal(t, 35, chunks[len(chunks)-1].End)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(0))
	assert.Equal(t, 1, EstimateTokens(1))
	assert.Equal(t, 250, EstimateTokens(1000))
}
