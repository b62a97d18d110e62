package agent

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

var ErrInvalidURL = errors.New("invalid url")

// Seed is a parsed seed URL.
type Seed struct {
	// Host is the name used in the Host header and for same-host link
	// matching. It carries the port when the port is not 80.
	Host string
	// Name is the bare hostname to resolve.
	Name string
	Port uint16
	Path string
}

// ParseSeed splits an absolute http:// URL into host, port and path. The host
// is converted to its ASCII form and lowercased; an empty path becomes "/".
func ParseSeed(raw string) (Seed, error) {
	raw = strings.TrimSpace(raw)
	i := strings.Index(raw, "://")
	if i <= 0 {
		return Seed{}, fmt.Errorf("%w %q: missing scheme separator", ErrInvalidURL, raw)
	}
	if scheme := strings.ToLower(raw[:i]); scheme != "http" {
		return Seed{}, fmt.Errorf("%w %q: unsupported scheme %s", ErrInvalidURL, raw, scheme)
	}

	rest := raw[i+3:]
	authority, path := rest, "/"
	if j := strings.IndexAny(rest, "/?#"); j >= 0 {
		authority, path = rest[:j], rest[j:]
	}
	if k := strings.IndexByte(path, '#'); k >= 0 {
		path = path[:k]
	}
	if path == "" || path[0] != '/' {
		path = "/" + path
	}

	name, portStr := authority, ""
	if h, p, err := net.SplitHostPort(authority); err == nil {
		name, portStr = h, p
	}
	name = strings.TrimSuffix(strings.TrimPrefix(name, "["), "]")

	name, err := asciiHost(name)
	if err != nil {
		return Seed{}, fmt.Errorf("%w %q: %v", ErrInvalidURL, raw, err)
	}

	port := uint64(80)
	if portStr != "" {
		port, err = strconv.ParseUint(portStr, 10, 16)
		if err != nil || port == 0 {
			return Seed{}, fmt.Errorf("%w %q: bad port %q", ErrInvalidURL, raw, portStr)
		}
	}

	host := name
	if strings.Contains(name, ":") {
		host = "[" + name + "]"
	}
	if port != 80 {
		host = net.JoinHostPort(name, portStr)
	}
	return Seed{Host: host, Name: name, Port: uint16(port), Path: path}, nil
}

func asciiHost(name string) (string, error) {
	if name == "" {
		return "", errors.New("empty host")
	}
	ascii, err := idna.Lookup.ToASCII(name)
	if err != nil {
		// idna rejects names like under_score.example or IPv6 literals;
		// plain ASCII names are still usable as-is.
		if !isASCII(name) {
			return "", err
		}
		ascii = name
	}
	return strings.ToLower(ascii), nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 || s[i] <= ' ' {
			return false
		}
	}
	return true
}
