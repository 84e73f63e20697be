package record

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// All parsers in this file are total: malformed stored data yields nil or an
// empty value, never an error, so it falls through the merge precedence chain.

// ParseFloat permissively reads a numeric value, accepting numeric-looking
// strings.
func ParseFloat(v any) *float64 {
	switch n := v.(type) {
	case float64:
		return &n
	case float32:
		f := float64(n)
		return &f
	case int:
		f := float64(n)
		return &f
	case int64:
		f := float64(n)
		return &f
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(n, ",", "."))
		if s == "" {
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

// NormalizeProgress reads a progress value and normalizes it to a 0-1
// fraction. Values above 1 are interpreted as percentages; values outside
// [0,1] after both interpretations are rejected as nil, not clamped.
func NormalizeProgress(v any) *float64 {
	f := ParseFloat(v)
	if f == nil {
		return nil
	}
	p := *f
	if p > 1 {
		p /= 100
	}
	if p < 0 || p > 1 {
		return nil
	}
	return &p
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime permissively reads a timestamp.
func ParseTime(v any) *time.Time {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return nil
		}
		return &t
	case *time.Time:
		if t == nil || t.IsZero() {
			return nil
		}
		return t
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return &parsed
			}
		}
		return nil
	default:
		return nil
	}
}

// ParseBool permissively reads a boolean.
func ParseBool(v any) *bool {
	switch b := v.(type) {
	case bool:
		return &b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "t", "yes", "1":
			tr := true
			return &tr
		case "false", "f", "no", "0":
			fa := false
			return &fa
		}
		return nil
	case float64:
		r := b != 0
		return &r
	case int:
		r := b != 0
		return &r
	default:
		return nil
	}
}

// ParseStringList reads a list of strings from a JSON array or a delimited
// string (comma, semicolon or newline separated).
func ParseStringList(v any) []string {
	var out []string
	switch l := v.(type) {
	case []string:
		for _, s := range l {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case []any:
		for _, item := range l {
			if s, ok := item.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
		}
	case string:
		for _, s := range strings.FieldsFunc(l, func(r rune) bool {
			return r == ',' || r == ';' || r == '\n'
		}) {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// NormalizeDomain reduces a site value to its bare host name, lowercased,
// with any scheme, path, port and leading www stripped.
func NormalizeDomain(site string) string {
	s := strings.ToLower(strings.TrimSpace(site))
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Hostname() == "" {
		// Not URL-shaped; fall back to trimming by hand.
		s = strings.TrimPrefix(strings.TrimPrefix(s, "http://"), "https://")
		if i := strings.IndexAny(s, "/:"); i >= 0 {
			s = s[:i]
		}
		return strings.TrimPrefix(s, "www.")
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

// UnionLists unions string lists, deduplicating case-insensitively while
// preserving first-seen order and casing.
func UnionLists(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, item := range list {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			key := strings.ToLower(item)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, item)
		}
	}
	return out
}

// UnionSites unions site lists with domain normalization applied before
// deduplication.
func UnionSites(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, item := range list {
			host := NormalizeDomain(item)
			if host == "" || seen[host] {
				continue
			}
			seen[host] = true
			out = append(out, host)
		}
	}
	return out
}
