package fetch

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// NormalizeURL canonicalizes a fetch URL so that trivially different
// spellings of the same resource share one identity: scheme and host are
// lowercased, default ports dropped, trailing path slashes trimmed, query
// parameters sorted, and the fragment removed.
func NormalizeURL(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing url %q: %w", raw, err)
	}
	if parsed.Scheme == "" || parsed.Hostname() == "" {
		return "", fmt.Errorf("url %q is not absolute", raw)
	}

	scheme := strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Hostname())
	if port := parsed.Port(); port != "" && port != "80" && port != "443" {
		host += ":" + port
	}

	query := ""
	if parsed.RawQuery != "" {
		pairs := strings.Split(parsed.RawQuery, "&")
		sort.Strings(pairs)
		query = strings.Join(pairs, "&")
	}

	normalized := url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     strings.TrimRight(parsed.Path, "/"),
		RawQuery: query,
	}
	return normalized.String(), nil
}

// URLHost extracts the lowercased host name of a URL.
func URLHost(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing url %q: %w", raw, err)
	}
	return strings.ToLower(parsed.Hostname()), nil
}

// FileNameFromURL derives a default artifact name from the last path
// segment of a URL.
func FileNameFromURL(raw string) string {
	trimmed := strings.TrimRight(raw, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 && idx < len(trimmed)-1 {
		name := trimmed[idx+1:]
		if q := strings.IndexByte(name, '?'); q >= 0 {
			name = name[:q]
		}
		if name != "" {
			return name
		}
	}
	return "download"
}
