package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentItem_CanRead(t *testing.T) {
	item := &ContentItem{AgentIDs: []string{"a1", "a2"}, BrandIDs: []string{"b1"}}

	assert.True(t, item.CanRead(nil, nil))
	assert.True(t, item.CanRead([]string{"a2"}, nil))
	assert.False(t, item.CanRead([]string{"a3"}, nil))
	assert.True(t, item.CanRead([]string{"a1"}, []string{"b1"}))
	assert.False(t, item.CanRead([]string{"a1"}, []string{"b2"}))
}

func TestChatSession_Recent(t *testing.T) {
	s := &ChatSession{Turns: make([]Turn, 7)}
	for i := range s.Turns {
		s.Turns[i].Text = string(rune('a' + i))
	}
	recent := s.Recent(5)
	assert.Len(t, recent, 5)
	assert.Equal(t, "c", recent[0].Text)
	assert.Len(t, s.Recent(0), 7)
}

func TestChunkID(t *testing.T) {
	assert.Equal(t, "item:gen:12", ChunkID("item", "gen", 12))
}

func TestNewSourceRef(t *testing.T) {
	ref := NewSourceRef(SearchResult{ItemID: "i", Title: "T", Metadata: map[string]any{"url": "https://x", "filename": 3}})
	assert.Equal(t, "https://x", ref.URL)
	assert.Empty(t, ref.Filename)
}
