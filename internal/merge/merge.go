// Package merge combines candidate lists from strategies of different
// fidelity into one de-duplicated list.
package merge

import (
	"strings"

	"github.com/JakeFAU/academy-insight-crawler/internal/crawler"
)

// NormalizeURL reduces a post URL to a comparison key: the scheme, query,
// fragment and trailing slash are dropped and a "www." or mobile "m." host
// prefix is folded into the canonical host.
func NormalizeURL(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	h := hostEnd(s)
	host := strings.ToLower(s[:h])
	for _, prefix := range hostAliases {
		if strings.HasPrefix(host, prefix) {
			host = host[len(prefix):]
			break
		}
	}
	s = host + s[h:]
	return strings.TrimRight(s, "/")
}

var hostAliases = []string{"www.", "m."}

func hostEnd(s string) int {
	if i := strings.IndexByte(s, '/'); i >= 0 {
		return i
	}
	return len(s)
}

func key(p crawler.RawPost) string {
	if k := NormalizeURL(p.URL); k != "" {
		return k
	}
	return "title:" + strings.TrimSpace(p.Title)
}

// Merge keeps every higher-fidelity candidate in order, then appends
// lower-fidelity candidates whose key has not been seen until limit is
// reached. A limit of zero or less means unbounded.
func Merge(higher, lower []crawler.RawPost, limit int) []crawler.RawPost {
	seen := make(map[string]struct{}, len(higher)+len(lower))
	out := make([]crawler.RawPost, 0, len(higher)+len(lower))
	full := func() bool { return limit > 0 && len(out) >= limit }

	for _, p := range higher {
		if full() {
			break
		}
		k := key(p)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, p)
	}
	for _, p := range lower {
		if full() {
			break
		}
		k := key(p)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, p)
	}
	return out
}
