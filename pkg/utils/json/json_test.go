package json

import (
	"bytes"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chunkDoc struct {
	ItemID    string            `json:"item_id"`
	Index     int               `json:"chunk_index"`
	Embedding []float32         `json:"embedding"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func TestMarshalUnmarshal(t *testing.T) {
	in := chunkDoc{ItemID: "01J", Index: 2, Embedding: []float32{0.25, -1, 3.5}}
	b, err := Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"item_id":"01J","chunk_index":2,"embedding":[0.25,-1,3.5]}`, string(b))

	var out chunkDoc
	require.NoError(t, Unmarshal(b, &out))
	assert.Equal(t, in, out)
}

func TestFloat32VectorIsBitIdentical(t *testing.T) {
	vec := []float32{0.1, 0.2, 1.0 / 3.0, -0.000123}
	b, err := Marshal(vec)
	require.NoError(t, err)

	var out []float32
	require.NoError(t, Unmarshal(b, &out))
	assert.Equal(t, vec, out)
}

func TestEncoderDecoder(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Encode(map[string]int{"a": 1}))

	var out map[string]int
	require.NoError(t, NewDecoder(strings.NewReader(buf.String())).Decode(&out))
	assert.Equal(t, 1, out["a"])
}

func TestValidAndMarshalString(t *testing.T) {
	assert.True(t, Valid([]byte(`{"a":[1,2]}`)))
	assert.False(t, Valid([]byte(`{"a":`)))

	s, err := MarshalString([]string{"x"})
	require.NoError(t, err)
	assert.Equal(t, `["x"]`, s)
}

func TestIsUsingSonic(t *testing.T) {
	want := runtime.GOARCH == "amd64" || runtime.GOARCH == "arm64"
	assert.Equal(t, want, IsUsingSonic())
}

func TestConcurrentMarshalUnmarshal(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := Marshal(chunkDoc{Index: i})
			assert.NoError(t, err)
			var out chunkDoc
			assert.NoError(t, Unmarshal(b, &out))
			assert.Equal(t, i, out.Index)
		}(i)
	}
	wg.Wait()
}
