package cart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddMergesQuantities(t *testing.T) {
	c := New("owner-1")

	require.NoError(t, c.Add("p-1", 2))
	require.NoError(t, c.Add("p-1", 3))

	assert.Len(t, c.Lines, 1)
	assert.Equal(t, 5, c.Lines["p-1"].Quantity)
}

func TestAddRejectsNonPositiveQuantity(t *testing.T) {
	c := New("owner-1")

	assert.ErrorIs(t, c.Add("p-1", 0), ErrInvalidQuantity)
	assert.ErrorIs(t, c.Add("p-1", -1), ErrInvalidQuantity)
	assert.True(t, c.Empty())
}

func TestSetReplacesAndZeroRemoves(t *testing.T) {
	c := New("owner-1")
	require.NoError(t, c.Add("p-1", 2))

	require.NoError(t, c.Set("p-1", 7))
	assert.Equal(t, 7, c.Lines["p-1"].Quantity)

	require.NoError(t, c.Set("p-1", 0))
	assert.True(t, c.Empty())

	assert.ErrorIs(t, c.Set("p-1", -1), ErrInvalidQuantity)
}

func TestRemoveIsIdempotent(t *testing.T) {
	c := New("owner-1")
	require.NoError(t, c.Add("p-1", 1))

	c.Remove("p-1")
	c.Remove("p-1")
	assert.True(t, c.Empty())
}

func TestCloneIsIndependent(t *testing.T) {
	c := New("owner-1")
	require.NoError(t, c.Add("p-1", 1))

	clone := c.Clone()
	require.NoError(t, clone.Add("p-1", 4))

	assert.Equal(t, 1, c.Lines["p-1"].Quantity)
	assert.Equal(t, 5, clone.Lines["p-1"].Quantity)
}
