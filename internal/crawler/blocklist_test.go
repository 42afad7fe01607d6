package crawler

import "testing"

func TestDomainDenyList(t *testing.T) {
	t.Run("exact match", func(t *testing.T) {
		dl := newDomainDenyList([]string{"example.org"})
		if dl == nil {
			t.Fatalf("expected deny list to be created")
		}
		if !dl.Denies("example.org") {
			t.Fatalf("expected example.org to be denied")
		}
		if dl.Denies("sub.example.org") {
			t.Fatalf("did not expect subdomains to match exact entry")
		}
	})

	t.Run("wildcard suffix", func(t *testing.T) {
		dl := newDomainDenyList([]string{"*.ru", ".internal"})
		if dl == nil {
			t.Fatalf("expected deny list to be created")
		}
		cases := []struct {
			host   string
			denied bool
		}{
			{"example.ru", true},
			{"sub.domain.ru", true},
			{"ru", true},
			{"api.internal", true},
			{"example.com", false},
			{"notru", false},
		}
		for _, tc := range cases {
			if got := dl.Denies(tc.host); got != tc.denied {
				t.Fatalf("host %q denied=%v, want %v", tc.host, got, tc.denied)
			}
		}
	})

	t.Run("empty patterns", func(t *testing.T) {
		if dl := newDomainDenyList([]string{" ", ""}); dl != nil {
			t.Fatalf("expected nil deny list for blank patterns")
		}
	})

	t.Run("nil deny list", func(t *testing.T) {
		var dl *domainDenyList
		if dl.Denies("anything") {
			t.Fatalf("nil deny list should never deny")
		}
	})
}
