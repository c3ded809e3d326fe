package common

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWorkerID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewWorkerID()
		require.True(t, strings.HasPrefix(id, "worker-"), id)
		suffix := strings.TrimPrefix(id, "worker-")
		require.Len(t, suffix, workerIDLength)
		for _, c := range suffix {
			assert.Contains(t, workerIDAlphabet, string(c))
		}
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}
