package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSystemNowIsJournalPrecision(t *testing.T) {
	t.Parallel()

	clk := NewSystem()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	require.Zero(t, got.Nanosecond()%int(time.Microsecond))
	require.True(t, got.After(before) && got.Before(after), "got %v", got)
	require.False(t, clk.Now().Before(got))
}

func TestManualAdvance(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("EST", -5*3600))
	clk := NewManual(start)
	require.True(t, clk.Now().Equal(start))
	require.Equal(t, time.UTC, clk.Now().Location())

	next := clk.Advance(90 * time.Second)
	require.Equal(t, 90*time.Second, next.Sub(start))
	require.Equal(t, next, clk.Now())
}
