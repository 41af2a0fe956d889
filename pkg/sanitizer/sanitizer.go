// Package sanitizer normalizes user-supplied booking fields before they are
// validated and stored.
package sanitizer

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

type Strategy func(string) string

type Pipeline []Strategy

func (p Pipeline) Apply(s string) string {
	for _, fn := range p {
		s = fn(s)
	}
	return s
}

var (
	reHorizontalSpace = regexp.MustCompile(`[ \t]+`)
	reAnySpace        = regexp.MustCompile(`\s+`)
	reManyNewlines    = regexp.MustCompile(`\n{3,}`)
)

func trim(s string) string {
	return strings.TrimSpace(s)
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", "\n"), "\r", "\n")
}

// stripControl drops control and format characters, keeping newlines and tabs.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, s)
}

func collapseHorizontalSpace(s string) string {
	return reHorizontalSpace.ReplaceAllString(s, " ")
}

func collapseAllSpace(s string) string {
	return reAnySpace.ReplaceAllString(s, " ")
}

func limitBlankLines(s string) string {
	return reManyNewlines.ReplaceAllString(s, "\n\n")
}

// SanitizeFreeText cleans multi-line text such as booking notes.
func SanitizeFreeText(input string) string {
	p := Pipeline{
		normalizeNewlines,
		stripControl,
		collapseHorizontalSpace,
		limitBlankLines,
		trim,
	}
	return p.Apply(input)
}

// SanitizeSingleLine cleans short one-line text such as a location.
func SanitizeSingleLine(input string) string {
	p := Pipeline{
		stripControl,
		collapseAllSpace,
		trim,
	}
	return p.Apply(input)
}

// SanitizeID trims and lower-cases an opaque hex identifier.
func SanitizeID(input string) string {
	return strings.ToLower(strings.TrimSpace(input))
}

// SanitizeLink trims a meeting link and drops utm_ tracking parameters.
// Path and query case is kept because conferencing links embed tokens.
// Unparseable input is returned trimmed so validation can reject it.
func SanitizeLink(input string) string {
	s := strings.TrimSpace(input)
	if s == "" {
		return ""
	}

	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return s
	}

	u.Host = strings.ToLower(u.Host)
	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			if strings.HasPrefix(strings.ToLower(k), "utm_") {
				q.Del(k)
			}
		}
		u.RawQuery = q.Encode()
	}

	return u.String()
}
