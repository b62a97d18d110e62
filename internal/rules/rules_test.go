package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrefix(t *testing.T) {
	var p Prefix
	assert.False(t, p.Matches("/anything"))

	p.Insert("/private")
	p.Insert("/tmp/")

	tests := []struct {
		in   string
		want bool
	}{
		{"/private", true},
		{"/private/x", true},
		{"/privat", false},
		{"/tmp/a", true},
		{"/tmp", false},
		{"/", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Matches(tt.in), tt.in)
	}
	assert.Equal(t, 2, p.Len())
	assert.Equal(t, []string{"/private", "/tmp/"}, p.Patterns())
}

func TestSuffix(t *testing.T) {
	s := NewSuffix(".jpg", ".PDF")

	tests := []struct {
		in   string
		want bool
	}{
		{"/a/b.jpg", true},
		{".jpg", true},
		{"jpg", false},
		{"/doc.pdf", false},
		{"/doc.PDF", true},
		{"/index.html", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.Matches(tt.in), tt.in)
	}
}

func TestSuffixEmptyPatternMatchesAll(t *testing.T) {
	s := NewSuffix("")
	assert.True(t, s.Matches(""))
	assert.True(t, s.Matches("/whatever"))
	assert.Equal(t, 1, s.Len())
}
