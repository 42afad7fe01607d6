package detector

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawlwright/internal/crawler"
)

func htmlPage(status int, body string) *crawler.Page {
	return &crawler.Page{
		StatusCode: status,
		Headers:    http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:       []byte(body),
	}
}

var longText = strings.Repeat("server rendered copy ", 10)

func TestHeuristic_ShouldPromote(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		page *crawler.Page
		want bool
	}{
		{name: "empty body", page: htmlPage(http.StatusOK, ""), want: true},
		{name: "spa marker", page: htmlPage(http.StatusOK, `<div data-reactroot></div><p>`+longText+`</p>`), want: true},
		{name: "script density", page: htmlPage(http.StatusOK, `<html><script>var a=1;var b=2;var c=3;</script><p>t</p></html>`), want: true},
		{name: "thin text", page: htmlPage(http.StatusOK, `<html><body><div>loading</div></body></html>`), want: true},
		{name: "rich page", page: htmlPage(http.StatusOK, `<html><body><p>`+longText+`</p></body></html>`), want: false},
		{name: "non-200", page: htmlPage(http.StatusNotFound, ""), want: false},
		{name: "already rendered", page: &crawler.Page{StatusCode: http.StatusOK, UsedJS: true}, want: false},
		{
			name: "not html",
			page: &crawler.Page{StatusCode: http.StatusOK, Headers: http.Header{"Content-Type": {"application/json"}}},
			want: false,
		},
		{name: "nil page", page: nil, want: false},
	}
	h := NewHeuristic(0, 0, nil)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, h.ShouldPromote(tc.page))
		})
	}
}

func TestHeuristic_CustomMarkers(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0, 1, []string{"  ", "x-shell"})
	require.Len(t, h.markers, 1)
	require.True(t, h.ShouldPromote(htmlPage(http.StatusOK, `<main X-Shell>hi</main>`)))
	require.False(t, h.ShouldPromote(htmlPage(http.StatusOK, `<div id="__next">hi</div>`)))
}
