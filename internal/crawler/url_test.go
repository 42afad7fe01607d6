package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"HTTP://Example.COM/Path#frag":     "http://example.com/Path",
		"https://example.com:443/a?b=1#x":  "https://example.com/a?b=1",
		"http://example.com:80":            "http://example.com/",
		"http://example.com:8080/x":        "http://example.com:8080/x",
		"  https://example.com/trimmed  ":  "https://example.com/trimmed",
		"https://example.com/keep/case/#/": "https://example.com/keep/case/",
	}
	for in, want := range cases {
		got, err := NormalizeURL(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "/relative", "ftp://example.com/x", "mailto:a@b.c", "https://"} {
		_, err := NormalizeURL(bad)
		require.ErrorIs(t, err, ErrInvalidURL, bad)
	}
}

func TestJoinURL(t *testing.T) {
	t.Parallel()

	got, err := JoinURL("https://example.com/a/b", "../c#frag")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/c", got)

	got, err = JoinURL("https://example.com/a/", "https://other.org/x")
	require.NoError(t, err)
	require.Equal(t, "https://other.org/x", got)
}

func TestNewRequestCopiesMetadata(t *testing.T) {
	t.Parallel()

	md := map[string]any{"page": 2}
	req, err := NewRequest("HTTPS://Example.com/list#top", "LIST", md)
	require.NoError(t, err)
	md["page"] = 3

	require.Equal(t, "https://example.com/list", req.URL)
	require.Equal(t, "LIST", req.Label)
	require.Equal(t, StatePending, req.State())
	v, ok := req.Get("page")
	require.True(t, ok)
	require.Equal(t, 2, v)
}
