package crawler

import (
	"slices"
	"strings"
)

// domainDenyList matches hosts against exact names and "*.suffix" or ".suffix" patterns.
type domainDenyList struct {
	exact    map[string]struct{}
	suffixes []string
}

// newDomainDenyList returns nil when no usable pattern is supplied.
func newDomainDenyList(patterns []string) *domainDenyList {
	list := &domainDenyList{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
			continue
		case strings.HasPrefix(value, "*."):
			list.addSuffix(value[2:])
		case strings.HasPrefix(value, "."):
			list.addSuffix(value[1:])
		default:
			list.exact[value] = struct{}{}
		}
	}
	if len(list.exact) == 0 && len(list.suffixes) == 0 {
		return nil
	}
	return list
}

func (l *domainDenyList) addSuffix(suffix string) {
	if suffix == "" || slices.Contains(l.suffixes, suffix) {
		return
	}
	l.suffixes = append(l.suffixes, suffix)
}

// Denies reports whether host matches any pattern. A nil list denies nothing.
func (l *domainDenyList) Denies(host string) bool {
	if l == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, ok := l.exact[host]; ok {
		return true
	}
	for _, suffix := range l.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
