package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidURL is returned when a request URL is not an absolute http(s) URL.
var ErrInvalidURL = errors.New("invalid request url")

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports and the fragment,
// and defaults an empty path to "/". Only absolute http and https URLs are accepted.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: parse %q: %w", ErrInvalidURL, rawURL, err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme in %q", ErrInvalidURL, rawURL)
	}
	u.Host = strings.ToLower(u.Host)
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrInvalidURL, rawURL)
	}

	// Remove default ports
	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" && u.RawPath == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// JoinURL resolves ref against base and returns the absolute result with the
// fragment stripped. It does not normalize; Frontier.Push does that.
func JoinURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("parse reference url: %w", err)
	}
	resolved := b.ResolveReference(r)
	resolved.Fragment = ""
	resolved.RawFragment = ""
	return resolved.String(), nil
}

// robotsURL returns {scheme}://{host}/robots.txt for rawURL.
func robotsURL(parsed *url.URL) string {
	return parsed.Scheme + "://" + parsed.Host + "/robots.txt"
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
