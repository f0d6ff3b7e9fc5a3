// Package id generates the identifiers used for knowledge items, chat
// sessions, chunk generations and ingestion jobs.
//
//	id.NewULID() // "01ARZ3NDEKTSV4RRFFQ69G5FAV", time sortable
//	id.NewUUID() // "550e8400-e29b-41d4-a716-446655440000"
package id

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Generator defines the interface for ID generators.
type Generator interface {
	Generate() string
}

// ULIDGenerator 使用单调熵源生成时间可排序的 ULID。
// 同一毫秒内生成的 ID 仍然严格递增。
type ULIDGenerator struct {
	mu      sync.Mutex
	entropy io.Reader
}

// NewULIDGenerator 创建新的 ULID 生成器。
func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// Generate 实现 Generator 接口。
func (g *ULIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy).String()
}

// UUIDGenerator generates random (v4) UUIDs.
type UUIDGenerator struct{}

// Generate 实现 Generator 接口。
func (UUIDGenerator) Generate() string {
	return uuid.NewString()
}

var defaultULID = NewULIDGenerator()

// NewULID returns a new monotonic ULID string.
func NewULID() string {
	return defaultULID.Generate()
}

// NewUUID returns a new random UUID string.
func NewUUID() string {
	return uuid.NewString()
}

// IsULID reports whether s parses as a ULID.
func IsULID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

// ULIDTime extracts the timestamp embedded in a ULID.
func ULIDTime(s string) (time.Time, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}
