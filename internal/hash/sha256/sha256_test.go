package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestHashDeterministic verifies equal inputs produce equal digests.
func TestHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	a, err := h.Hash([]byte("is this a scam?"))
	require.NoError(t, err)
	b, err := h.Hash([]byte("is this a scam?"))
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Len(t, a, 64)
}

// TestHashDistinct verifies different inputs diverge.
func TestHashDistinct(t *testing.T) {
	t.Parallel()

	h := New()
	a, err := h.Hash([]byte("one"))
	require.NoError(t, err)
	b, err := h.Hash([]byte("two"))
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}
