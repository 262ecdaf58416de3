package proxy

import (
	"bytes"
	"strings"
)

const dataPrefix = "data:"

// lineSplitter turns arbitrary network reads into complete lines. An
// incomplete trailing line is held back and prefixed to the next read.
// Splitting happens on raw bytes, so a UTF-8 sequence cut by a read boundary
// is reassembled before it is ever decoded.
type lineSplitter struct {
	carry []byte
}

// Feed appends p and returns every line completed by it, without the
// trailing newline.
func (s *lineSplitter) Feed(p []byte) []string {
	s.carry = append(s.carry, p...)

	var lines []string
	for {
		i := bytes.IndexByte(s.carry, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(s.carry[:i]))
		s.carry = s.carry[i+1:]
	}
	if len(s.carry) == 0 {
		s.carry = nil
	}
	return lines
}

// Rest returns and clears the held-back partial line.
func (s *lineSplitter) Rest() string {
	rest := string(s.carry)
	s.carry = nil
	return rest
}

// frameData extracts the payload of an SSE data line.
func frameData(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, dataPrefix) {
		return "", false
	}
	return strings.TrimSpace(line[len(dataPrefix):]), true
}
