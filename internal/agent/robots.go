package agent

import "bytes"

var (
	keyUserAgent = []byte("user-agent")
	keyDisallow  = []byte("disallow")
)

// handleRobotsLine collects Disallow prefixes from groups addressed to "*".
func (a *Agent) handleRobotsLine(line []byte) {
	colon := bytes.IndexByte(line, ':')
	if colon < 0 {
		return
	}
	key := bytes.TrimSpace(line[:colon])
	value := bytes.TrimRight(bytes.TrimLeft(line[colon+1:], " \t"), "\r\n")

	switch {
	case bytes.EqualFold(key, keyUserAgent):
		a.robotsRelevant = string(bytes.TrimRight(value, " \t")) == "*"
	case bytes.EqualFold(key, keyDisallow):
		// An empty Disallow allows everything.
		if a.robotsRelevant && len(value) > 0 {
			a.robots.Insert(string(value))
		}
	}
}
