package biz_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-kb/internal/kb/biz"
	"github.com/kart-io/sentinel-kb/internal/kb/extract"
	"github.com/kart-io/sentinel-kb/internal/kb/store"
	"github.com/kart-io/sentinel-kb/internal/model"
	"github.com/kart-io/sentinel-kb/pkg/cache"
	"github.com/kart-io/sentinel-kb/pkg/infra/pool"
	"github.com/kart-io/sentinel-kb/pkg/llm"
	"github.com/kart-io/sentinel-kb/pkg/objstore"
)

var vocabulary = []string{"return", "refund", "policy", "window", "shipping", "delivery", "price", "warranty"}

// keywordEmbedder maps text to keyword counts so cosine scores are predictable.
type keywordEmbedder struct {
	vocab []string
	model string

	mu      sync.Mutex
	fail    error
	panics  bool
	gate    chan struct{}
	batches atomic.Int32
}

func newKeywordEmbedder() *keywordEmbedder {
	return &keywordEmbedder{vocab: vocabulary, model: "keywords-v1"}
}

func (e *keywordEmbedder) setFail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail = err
}

func (e *keywordEmbedder) setPanic(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.panics = v
}

// block makes every call wait until the returned release func runs.
func (e *keywordEmbedder) block() func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	gate := make(chan struct{})
	e.gate = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			close(gate)
			e.mu.Lock()
			e.gate = nil
			e.mu.Unlock()
		})
	}
}

func (e *keywordEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	fail, panics, gate := e.fail, e.panics, e.gate
	e.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if panics {
		panic("embedding backend exploded")
	}
	if fail != nil {
		return nil, fail
	}
	e.batches.Add(1)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *keywordEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	out, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (e *keywordEmbedder) vector(text string) []float32 {
	lower := strings.ToLower(text)
	v := make([]float32, len(e.vocab))
	for i, w := range e.vocab {
		v[i] = float32(strings.Count(lower, w))
	}
	return v
}

func (e *keywordEmbedder) Name() string   { return "keywords" }
func (e *keywordEmbedder) Model() string  { return e.model }
func (e *keywordEmbedder) Dimension() int { return len(e.vocab) }

// fakeChat answers from the prompt and counts calls.
type fakeChat struct {
	calls    atomic.Int32
	fail     error
	mu       sync.Mutex
	prompts  []string
	reply    func(prompt string) string
	streamed []string
}

func newFakeChat() *fakeChat {
	return &fakeChat{reply: func(prompt string) string {
		if strings.Contains(prompt, "30-day") {
			return "Refunds are accepted within 30 days of purchase."
		}
		return "The context does not say."
	}}
}

func (c *fakeChat) Chat(_ context.Context, messages []llm.Message, _ ...llm.ChatOption) (string, error) {
	c.calls.Add(1)
	if c.fail != nil {
		return "", c.fail
	}
	prompt := messages[len(messages)-1].Content
	c.mu.Lock()
	c.prompts = append(c.prompts, prompt)
	c.mu.Unlock()
	return c.reply(prompt), nil
}

func (c *fakeChat) Generate(ctx context.Context, prompt, systemPrompt string, opts ...llm.ChatOption) (string, error) {
	return c.Chat(ctx, llm.BuildMessages(prompt, systemPrompt), opts...)
}

func (c *fakeChat) Name() string { return "fake" }

func (c *fakeChat) lastPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.prompts) == 0 {
		return ""
	}
	return c.prompts[len(c.prompts)-1]
}

// streamingChat emits the reply word by word.
type streamingChat struct {
	*fakeChat
	failAfter int
}

func (c *streamingChat) ChatStream(ctx context.Context, messages []llm.Message, opts ...llm.ChatOption) (<-chan llm.StreamChunk, error) {
	answer, err := c.Chat(ctx, messages, opts...)
	if err != nil {
		return nil, err
	}
	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		for i, w := range strings.SplitAfter(answer, " ") {
			chunk := llm.StreamChunk{Content: w}
			if c.failAfter > 0 && i == c.failAfter {
				chunk = llm.StreamChunk{Err: errors.New("upstream reset")}
			}
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
			if chunk.Err != nil {
				return
			}
		}
	}()
	return ch, nil
}

type harness struct {
	items    *store.MemoryItems
	chunks   *store.MemoryChunks
	sessions *store.MemorySessions
	bucket   *objstore.Memory
	embedder *keywordEmbedder
	chat     *fakeChat
	pool     *pool.Pool
	ingestor *biz.Ingestor
	searcher *biz.Searcher
	answerer *biz.Answerer
	results  *cache.Memory[[]model.SearchResult]
}

func newHarness(t *testing.T, agents ...model.Agent) *harness {
	t.Helper()
	p, err := pool.New("ingest-test", pool.IngestPoolConfig(2))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Release(5 * time.Second) })

	h := &harness{
		items:    store.NewMemoryItems(),
		chunks:   store.NewMemoryChunks(),
		sessions: store.NewMemorySessions(),
		bucket:   objstore.NewMemory(),
		embedder: newKeywordEmbedder(),
		chat:     newFakeChat(),
		pool:     p,
	}
	h.results = cache.NewMemory[[]model.SearchResult](cache.Config{TTL: time.Minute, MaxEntries: 100})
	h.searcher = biz.NewSearcher(h.items, h.chunks, h.embedder, h.results, biz.DefaultSearchConfig())
	h.ingestor = biz.NewIngestor(biz.IngestorDeps{
		Items:       h.items,
		Chunks:      h.chunks,
		Bucket:      h.bucket,
		Keys:        objstore.NewKeyGenerator("knowledge-base"),
		Extractors:  extract.NewDocumentRegistry(),
		Embedder:    h.embedder,
		Pool:        p,
		Invalidator: h.searcher,
	}, biz.DefaultIngestConfig())
	h.answerer = biz.NewAnswerer(h.searcher, h.chat, h.sessions, store.NewMemoryAgents(agents...), biz.DefaultAnswerConfig())
	return h
}

// addText creates a text item in tenant and waits until its ingestion finishes.
func (h *harness) addText(t *testing.T, tenant, title, text string) *model.ContentItem {
	t.Helper()
	item, err := h.ingestor.CreateItem(context.Background(), &biz.CreateItemRequest{
		Title:    title,
		TenantID: tenant,
		Text:     text,
		Ingest:   true,
	})
	require.NoError(t, err)
	h.pool.Wait()

	got, err := h.items.Get(context.Background(), item.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, got.Status, got.Error)
	return got
}

func threshold(v float64) *float64 { return &v }
