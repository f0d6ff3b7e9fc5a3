package id

import (
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewULIDIsMonotonic(t *testing.T) {
	ids := make([]string, 1000)
	for i := range ids {
		ids[i] = NewULID()
	}

	assert.True(t, sort.StringsAreSorted(ids), "ULIDs generated in sequence must sort in order")

	seen := make(map[string]struct{}, len(ids))
	for _, v := range ids {
		require.True(t, IsULID(v))
		_, dup := seen[v]
		require.False(t, dup, "duplicate id %s", v)
		seen[v] = struct{}{}
	}
}

func TestULIDTime(t *testing.T) {
	before := time.Now().Add(-time.Second)
	ts, err := ULIDTime(NewULID())
	require.NoError(t, err)
	assert.True(t, ts.After(before))

	_, err = ULIDTime("not-a-ulid")
	assert.Error(t, err)
}

func TestNewUUID(t *testing.T) {
	v := NewUUID()
	parsed, err := uuid.Parse(v)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), parsed.Version())
	assert.False(t, IsULID(v))
}

func TestGeneratorInterface(t *testing.T) {
	for _, g := range []Generator{NewULIDGenerator(), UUIDGenerator{}} {
		assert.NotEqual(t, g.Generate(), g.Generate())
	}
}
