package idgen

import (
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUID_IsValidAndUnique(t *testing.T) {
	var g UUID
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := g.NewID()
		_, err := uuid.Parse(id)
		require.NoError(t, err)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestSequence_Deterministic(t *testing.T) {
	s := NewSequence("esc-")
	assert.Equal(t, "esc-000001", s.NewID())
	assert.Equal(t, "esc-000002", s.NewID())
}

func TestSequence_ConcurrentUnique(t *testing.T) {
	s := NewSequence("")
	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		wg   sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := s.NewID()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 50)
}

func TestPrefixed(t *testing.T) {
	p := Prefixed{Prefix: "wal_", Next: NewSequence("")}
	assert.Equal(t, "wal_000001", p.NewID())
}

func TestWithPrefixAndHex(t *testing.T) {
	id := WithPrefix("req_")
	assert.True(t, strings.HasPrefix(id, "req_"))
	assert.Len(t, id, len("req_")+24)
	assert.Len(t, Hex(20), 40)
}
