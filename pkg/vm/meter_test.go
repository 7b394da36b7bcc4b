package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResourceMeter(t *testing.T) {
	m := NewResourceMeter(1000)
	require.Equal(t, uint32(1000), m.Remaining())

	require.NoError(t, m.Consume(100))
	require.Equal(t, uint32(900), m.Remaining())
	require.Equal(t, uint64(100), m.Consumed())

	require.NoError(t, m.Consume(900))
	require.True(t, m.IsExhausted())

	// A failed charge leaves the meter untouched.
	require.ErrorIs(t, m.Consume(1), ErrInsufficientResources)
	require.Equal(t, uint32(0), m.Remaining())
	require.Equal(t, uint64(1000), m.Consumed())

	require.NoError(t, m.Consume(0))

	m.Reset()
	require.Equal(t, m.Limit(), m.Remaining())
	require.Zero(t, m.Consumed())
}

func TestResourceMeterPartialFailure(t *testing.T) {
	m := NewResourceMeter(7)
	err := m.Consume(10)

	var ire *InsufficientResourcesError
	require.ErrorAs(t, err, &ire)
	require.Equal(t, uint32(10), ire.Required)
	require.Equal(t, uint32(7), ire.Available)
	require.Equal(t, uint32(7), m.Remaining())
}
