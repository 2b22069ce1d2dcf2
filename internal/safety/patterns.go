package safety

import (
	"regexp"
	"strings"
)

// DefaultThreatTokens is the fixed denylist matched against filenames and text.
var DefaultThreatTokens = []string{
	"virus", "malware", "trojan", "ransomware", "keylogger",
	".exe", ".msi", ".bat", ".cmd", ".scr", ".dll",
	"crack", "keygen", "serial", "patch", "pirate",
	"hack", "exploit", "bypass", "cheat", "trainer",
	"free.download", "installer", "nulled", "warez",
}

// urlPattern matches scheme://token.
var urlPattern = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.\-]*://[^\s<>"']+`)

// Denylist is a case-insensitive substring matcher.
type Denylist struct {
	tokens []string
}

// NewDenylist builds a matcher from the default tokens plus extra ones.
// Tokens are lowercased and deduplicated; order is preserved.
func NewDenylist(extra ...string) *Denylist {
	seen := make(map[string]bool)
	d := &Denylist{}
	for _, list := range [][]string{DefaultThreatTokens, extra} {
		for _, tok := range list {
			tok = strings.ToLower(strings.TrimSpace(tok))
			if tok == "" || seen[tok] {
				continue
			}
			seen[tok] = true
			d.tokens = append(d.tokens, tok)
		}
	}
	return d
}

// Tokens returns the active tokens.
func (d *Denylist) Tokens() []string {
	out := make([]string, len(d.tokens))
	copy(out, d.tokens)
	return out
}

// Match returns every token found in s, in denylist order.
func (d *Denylist) Match(s string) []string {
	if s == "" {
		return nil
	}
	lower := strings.ToLower(s)
	var hits []string
	for _, tok := range d.tokens {
		if strings.Contains(lower, tok) {
			hits = append(hits, tok)
		}
	}
	return hits
}

// FirstURL returns the first scheme://token found in text.
func FirstURL(text string) (string, bool) {
	u := urlPattern.FindString(text)
	return u, u != ""
}
