package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestGeneratorMintsOrderedV7(t *testing.T) {
	t.Parallel()

	gen := New()
	first, err := gen.NewRunID()
	require.NoError(t, err)
	second, err := gen.NewRunID()
	require.NoError(t, err)

	require.Equal(t, goUUID.Version(7), first.Version())
	require.NotEqual(t, first, second)
	require.Less(t, first.String(), second.String())
}

func TestSequenceReplaysThenExhausts(t *testing.T) {
	t.Parallel()

	a := goUUID.MustParse("0190f5c2-0000-7000-8000-00000000000a")
	b := goUUID.MustParse("0190f5c2-0000-7000-8000-00000000000b")
	seq := NewSequence(a, b)

	got, err := seq.NewRunID()
	require.NoError(t, err)
	require.Equal(t, a, got)
	got, err = seq.NewRunID()
	require.NoError(t, err)
	require.Equal(t, b, got)

	_, err = seq.NewRunID()
	require.ErrorIs(t, err, ErrExhausted)
}
