package objstore

import (
	"context"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-kb/pkg/errors"
)

func TestMemory_PutGetHeadDelete(t *testing.T) {
	ctx := context.Background()
	b := NewMemory()

	info, err := b.Put(ctx, "kb/a.txt", strings.NewReader("hello"), PutOptions{ContentType: "text/plain", Metadata: map[string]string{"item": "1"}})
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)

	rc, got, err := b.Get(ctx, "kb/a.txt")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, "text/plain", got.ContentType)
	assert.Equal(t, "1", got.Metadata["item"])

	_, err = b.Put(ctx, "kb/a.txt", strings.NewReader("replaced"), PutOptions{})
	require.NoError(t, err)
	data, _, err = ReadAll(ctx, b, "kb/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "replaced", string(data))

	require.NoError(t, b.Delete(ctx, "kb/a.txt"))
	require.NoError(t, b.Delete(ctx, "kb/a.txt"))
	_, err = b.Head(ctx, "kb/a.txt")
	assert.True(t, errors.IsCode(err, errors.ErrKBObjectNotFound.Code))
}

func TestMemory_CopyAndList(t *testing.T) {
	ctx := context.Background()
	b := NewMemory()
	for _, k := range []string{"kb/doc/2", "kb/doc/1", "kb/media/1"} {
		_, err := b.Put(ctx, k, strings.NewReader(k), PutOptions{})
		require.NoError(t, err)
	}

	require.NoError(t, b.Copy(ctx, "kb/doc/1", "kb/doc/3"))
	assert.ErrorIs(t, b.Copy(ctx, "missing", "kb/x"), errors.ErrKBObjectNotFound)

	list, err := b.List(ctx, "kb/doc/", 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "kb/doc/1", list[0].Key)

	list, err = b.List(ctx, "kb/", 2)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestValidateKey(t *testing.T) {
	assert.NoError(t, ValidateKey("kb/doc/x.pdf"))
	for _, k := range []string{"", "/abs", "kb/../etc"} {
		assert.Error(t, ValidateKey(k), k)
	}
}

func TestKeyGenerator(t *testing.T) {
	g := NewKeyGenerator("/knowledge-base/")
	g.now = func() time.Time { return time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC) }

	assert.Equal(t, "knowledge-base/document/brand1/2025/03/item1.pdf", g.GenerateKey("Document", "brand1", "Report.PDF", "item1"))
	assert.Equal(t, "knowledge-base/media/shared/2025/03/item2", g.GenerateKey("media", "", "noext", "item2"))
}

func TestPresigner_RoundTrip(t *testing.T) {
	p, err := NewPresigner(strings.Repeat("k", 32), "http://kb.local/", time.Minute)
	require.NoError(t, err)

	raw, expires, err := p.PresignGet("kb/doc/a b.pdf", PresignOptions{Filename: "a b.pdf", Inline: true})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), expires, 5*time.Second)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/objects/kb/doc/a b.pdf", u.Path)
	token := u.Query().Get("token")

	g, err := p.Verify(token, "kb/doc/a b.pdf", OpGet)
	require.NoError(t, err)
	assert.Equal(t, `inline; filename="a b.pdf"`, g.ContentDisposition())

	_, err = p.Verify(token, "kb/doc/other.pdf", OpGet)
	assert.ErrorIs(t, err, errors.ErrKBInvalidPresign)
	_, err = p.Verify(token, "kb/doc/a b.pdf", OpPut)
	assert.ErrorIs(t, err, errors.ErrKBInvalidPresign)
	_, err = p.Verify("", "kb/doc/a b.pdf", OpGet)
	assert.ErrorIs(t, err, errors.ErrKBInvalidPresign)
}

func TestPresigner_Expired(t *testing.T) {
	p, err := NewPresigner("", "http://kb.local", time.Minute)
	require.NoError(t, err)
	p.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	raw, _, err := p.PresignPut("kb/x", PresignOptions{})
	require.NoError(t, err)
	u, _ := url.Parse(raw)

	_, err = p.Verify(u.Query().Get("token"), "kb/x", OpPut)
	require.Error(t, err)
	assert.Contains(t, errors.FromError(err).MessageEN, "expired")
}
