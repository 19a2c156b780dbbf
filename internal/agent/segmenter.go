package agent

import (
	"strings"
	"unicode/utf8"
)

// Segmenter accumulates generated tokens and cuts a fragment once the
// buffer holds a terminator and is longer than minChars. It does not try
// to recognise abbreviations.
type Segmenter struct {
	terminators string
	minChars    int
	buf         strings.Builder
}

func NewSegmenter(terminators string, minChars int) *Segmenter {
	return &Segmenter{terminators: terminators, minChars: minChars}
}

// Push appends a token and returns a trimmed fragment when one is ready.
func (s *Segmenter) Push(token string) (string, bool) {
	s.buf.WriteString(token)
	text := s.buf.String()
	if !strings.ContainsAny(text, s.terminators) || utf8.RuneCountInString(text) <= s.minChars {
		return "", false
	}
	s.buf.Reset()
	fragment := strings.TrimSpace(text)
	return fragment, fragment != ""
}

// Flush returns whatever is buffered, trimmed, and resets the buffer.
func (s *Segmenter) Flush() string {
	text := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	return text
}
