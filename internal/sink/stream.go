// Package sink writes one append-only output stream per crawled domain.
//
// Each fetched page becomes a record: the Delimiter line, the absolute URL,
// then the raw response lines. Writes are buffered and flushed in bulk.
package sink

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Delimiter starts every record in a domain stream.
const Delimiter = "==== PnRaIMfLIPytQUqGtmbDfHOtyOfdPJSgawuCgSjvQKUOGJgOqgkrEgLGUQsAcqJD ===="

const bufferSize = 512 * 1024

type Stream struct {
	name    string
	w       io.WriteCloser
	buf     []byte
	written int64
	closed  bool
}

// Opener creates the stream for a hostname.
type Opener func(hostname string) (*Stream, error)

// DirOpener returns an Opener that creates (and truncates) <dir>/<hostname>.
func DirOpener(dir string) Opener {
	return func(hostname string) (*Stream, error) {
		return Open(dir, hostname)
	}
}

func Open(dir, hostname string) (*Stream, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	path := filepath.Join(dir, sanitizeDomainName(hostname))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open domain stream %s: %w", path, err)
	}
	return NewStream(path, f), nil
}

// NewStream wraps an arbitrary writer; name is only used in error messages.
func NewStream(name string, w io.WriteCloser) *Stream {
	return &Stream{
		name: name,
		w:    w,
		buf:  make([]byte, 0, bufferSize),
	}
}

func (s *Stream) Name() string { return s.name }

// Written counts bytes handed to the stream, buffered or not.
func (s *Stream) Written() int64 { return s.written }

func (s *Stream) WriteRequestMarker(hostname, path string) error {
	rec := make([]byte, 0, len(Delimiter)+len(hostname)+len(path)+9)
	rec = append(rec, Delimiter...)
	rec = append(rec, "\nhttp://"...)
	rec = append(rec, hostname...)
	rec = append(rec, path...)
	rec = append(rec, '\n')
	return s.buffer(rec)
}

func (s *Stream) AppendLine(line []byte) error {
	return s.buffer(line)
}

func (s *Stream) buffer(b []byte) error {
	if s.closed {
		return fmt.Errorf("sink %s: %w", s.name, os.ErrClosed)
	}
	s.written += int64(len(b))

	if len(b) > cap(s.buf)-len(s.buf) {
		if err := s.Flush(); err != nil {
			return err
		}
	}
	if len(b) > cap(s.buf) {
		return s.writeFull(b)
	}
	s.buf = append(s.buf, b...)
	return nil
}

func (s *Stream) Flush() error {
	if len(s.buf) == 0 {
		return nil
	}
	err := s.writeFull(s.buf)
	s.buf = s.buf[:0]
	return err
}

// writeFull retries partial writes until b is drained or the writer fails.
func (s *Stream) writeFull(b []byte) error {
	for len(b) > 0 {
		n, err := s.w.Write(b)
		if err != nil {
			return fmt.Errorf("sink %s: write: %w", s.name, err)
		}
		if n <= 0 {
			return fmt.Errorf("sink %s: write: %w", s.name, io.ErrShortWrite)
		}
		b = b[n:]
	}
	return nil
}

// Close flushes and releases the writer. Closing twice is a no-op.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	flushErr := s.Flush()
	s.closed = true
	closeErr := s.w.Close()
	if closeErr != nil {
		closeErr = fmt.Errorf("sink %s: close: %w", s.name, closeErr)
	}
	return errors.Join(flushErr, closeErr)
}

func sanitizeDomainName(domain string) string {
	domain = strings.ReplaceAll(domain, ":", "_")
	domain = strings.ReplaceAll(domain, "/", "_")
	domain = strings.ReplaceAll(domain, "\\", "_")
	if domain == "" || domain == "." || domain == ".." {
		domain = "_" + domain
	}
	return domain
}
