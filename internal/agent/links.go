package agent

import (
	"bytes"
	"strings"
)

// handlePageLine persists a line unless some agent already persisted the same
// bytes, then scans it for links while the fetch budget lasts.
func (a *Agent) handlePageLine(line []byte) {
	if a.opts.Lines.Insert(line) {
		return
	}
	a.reportNew += uint64(len(line))
	a.stats.NewBytes += uint64(len(line))

	if a.sink != nil {
		if err := a.sink.AppendLine(line); err != nil {
			a.fail(err)
			return
		}
	}
	if a.remaining > 0 {
		a.scanLinks(line)
	}
}

// scanLinks finds ref=, src= and ink= attributes with a quoted value. An
// unterminated quote ends the scan for this line.
func (a *Agent) scanLinks(line []byte) {
	for i := 3; i < len(line)-1; i++ {
		j := bytes.IndexByte(line[i:len(line)-1], '=')
		if j < 0 {
			return
		}
		i += j
		if !isLinkAttr(line[i-3 : i]) {
			continue
		}
		quote := line[i+1]
		if quote != '"' && quote != '\'' {
			continue
		}

		start := i + 2
		end := bytes.IndexByte(line[start:], quote)
		if end < 0 {
			return
		}
		a.handleURL(line[start : start+end])
		if a.remaining == 0 {
			return
		}
		i = start + end
	}
}

func isLinkAttr(b []byte) bool {
	switch string(b) {
	case "ref", "src", "ink":
		return true
	}
	return false
}

func (a *Agent) handleURL(raw []byte) {
	if len(raw) == 0 || len(raw) > a.opts.MaxURLLength {
		return
	}
	path, ok := Normalize(a.seed.Host, a.current(), string(raw))
	if !ok {
		return
	}
	if a.urls.InsertString(path) {
		return
	}
	if a.opts.Ignore != nil && a.opts.Ignore.Matches(path) {
		return
	}
	if a.remaining == 0 {
		return
	}

	a.frontier = append(a.frontier, path)
	a.remaining--
	a.stats.Discovered++
}

var rejectedPrefixes = []string{"mailto:", "javascript:", "https://"}

// Normalize resolves a link found while fetching current into an absolute
// path on host. It reports false for links that leave the host or use a
// scheme other than http.
func Normalize(host, current, raw string) (string, bool) {
	for _, p := range rejectedPrefixes {
		if hasPrefixFold(raw, p) {
			return "", false
		}
	}

	switch {
	case hasPrefixFold(raw, "http://"):
		rest, ok := trimHost(raw[len("http://"):], host)
		if !ok {
			return "", false
		}
		raw = rest
	case strings.HasPrefix(raw, "//"):
		rest, ok := trimHost(raw[2:], host)
		if !ok {
			return "", false
		}
		raw = rest
	case hasScheme(raw):
		return "", false
	}

	if i := strings.IndexByte(raw, '#'); i >= 0 {
		raw = raw[:i]
	}

	var base string
	if strings.HasPrefix(raw, "/") {
		base = "/"
		raw = raw[1:]
	} else {
		base = current[:strings.LastIndexByte(current, '/')+1]
		if base == "" {
			base = "/"
		}
	}

	for {
		switch {
		case strings.HasPrefix(raw, "../"):
			base = parentDir(base)
			raw = raw[3:]
		case strings.HasPrefix(raw, "./"):
			raw = raw[2:]
		default:
			return base + raw, true
		}
	}
}

// trimHost strips host from the front of an authority-prefixed link and
// returns the rest as a root-relative path.
func trimHost(rest, host string) (string, bool) {
	if len(rest) < len(host) || !strings.EqualFold(rest[:len(host)], host) {
		return "", false
	}
	rest = rest[len(host):]
	if rest != "" && rest[0] != '/' && rest[0] != '?' && rest[0] != '#' {
		// example.com.evil, or a different port.
		return "", false
	}
	return "/" + strings.TrimPrefix(rest, "/"), true
}

func parentDir(dir string) string {
	if len(dir) <= 1 {
		return "/"
	}
	return dir[:strings.LastIndexByte(dir[:len(dir)-1], '/')+1]
}

// hasScheme reports whether s starts with "scheme:" such as tel: or data:.
func hasScheme(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.'):
		case c == ':':
			return i > 0
		default:
			return false
		}
	}
	return false
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
