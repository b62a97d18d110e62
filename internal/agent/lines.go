package agent

import "bytes"

// scanLines dispatches every complete line in the input buffer. Bytes before
// inScan are known to contain no terminator, so a long partial line is not
// rescanned on every read.
func (a *Agent) scanLines() {
	for a.err == nil && a.conn != nil {
		i := bytes.IndexByte(a.in[a.inScan:a.inFill], '\n')
		if i < 0 {
			a.inScan = a.inFill
			return
		}
		end := a.inScan + i + 1
		line := a.in[a.inPos:end]
		a.inPos, a.inScan = end, end

		if a.truncating {
			// Tail of a line that did not fit the buffer.
			a.truncating = false
			continue
		}
		a.dispatch(line)
	}
}

// compact discards consumed bytes. If the buffer holds a single unfinished
// line, that line is dropped and its remainder skipped up to the next
// terminator.
func (a *Agent) compact() {
	if a.inPos == 0 {
		a.inFill, a.inScan = 0, 0
		a.truncating = true
		a.stats.TruncatedLines++
		return
	}
	n := copy(a.in, a.in[a.inPos:a.inFill])
	a.inScan -= a.inPos
	a.inFill = n
	a.inPos = 0
}

func (a *Agent) flushPartialLine() {
	if a.inPos < a.inFill && !a.truncating && a.err == nil {
		line := a.in[a.inPos:a.inFill]
		a.inPos, a.inScan = a.inFill, a.inFill
		a.dispatch(line)
	}
}

func (a *Agent) dispatch(line []byte) {
	if a.robotsActive {
		a.handleRobotsLine(line)
		return
	}
	a.handlePageLine(line)
}
