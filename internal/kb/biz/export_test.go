package biz

import "github.com/kart-io/sentinel-kb/internal/model"

// FillAnswer exposes the response assembly used by Chat and ChatStream.
func FillAnswer(resp *ChatResponse, results []model.SearchResult, answer string) {
	(&Answerer{}).fill(resp, &prepared{results: results}, answer)
}
