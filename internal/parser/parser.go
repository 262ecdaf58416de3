// Package parser turns free-form model output into numbered suggestions and
// thread entries. Every function here is pure and total: malformed input
// degrades to partial results, never to a panic or an error.
package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/kalambet/tweetbot/internal/persona"
)

// MaxSuggestions caps flat-mode output.
const MaxSuggestions = 3

// Suggestion is one flat-mode result, in model-declared order.
type Suggestion struct {
	Text    string          `json:"text"`
	Tag     string          `json:"tag,omitempty"`
	Persona persona.Persona `json:"persona,omitempty"`
}

// ThreadEntry is one post of a thread. 1 <= Position <= Total, and positions
// are unique within a thread.
type ThreadEntry struct {
	Text     string `json:"text"`
	Tag      string `json:"tag,omitempty"`
	Position int    `json:"position"`
	Total    int    `json:"total"`
}

var (
	flatItemRe       = regexp.MustCompile(`^\s*(\d)[.):\s]\s*(.+)`)
	flatNumberedRe   = regexp.MustCompile(`^\s*\d[.):\s]`)
	threadItemRe     = regexp.MustCompile(`^\s*\[?(\d+)/(\d+)\]?[:.\s]\s*(.+)`)
	threadNumberedRe = regexp.MustCompile(`^\s*(\d+)[.):\s]\s*(.+)`)
	threadPrefixRe   = regexp.MustCompile(`^\s*\[?\d+[/.):\s]`)
	tagRe            = regexp.MustCompile(`^\[([^\]]+)\]\s*`)
)

// Options controls flat-mode post-processing.
type Options struct {
	// MultiVoice enables persona label extraction and positional persona
	// assignment.
	MultiVoice bool
	// Personas in declared order. Defaults to persona.IDs().
	Personas []persona.Persona
}

// ParseSuggestions extracts up to MaxSuggestions numbered suggestions. When
// no numbered item is found it falls back to blank-line separated paragraphs.
func ParseSuggestions(text string, opts Options) []Suggestion {
	var raws []string
	for _, it := range run(text, classifyFlat) {
		raws = append(raws, it.text)
	}
	if len(raws) == 0 {
		raws = paragraphs(text)
	}
	if len(raws) > MaxSuggestions {
		raws = raws[:MaxSuggestions]
	}

	personas := opts.Personas
	if len(personas) == 0 {
		personas = persona.IDs()
	}

	out := make([]Suggestion, 0, len(raws))
	for i, raw := range raws {
		s := Suggestion{}
		body := stripQuotes(raw)
		if opts.MultiVoice {
			label, rest, ok := extractPersona(body, personas)
			if ok {
				s.Persona = label
				body = rest
			} else if i < len(personas) {
				s.Persona = personas[i]
			}
		}
		s.Tag, body = ExtractTag(body)
		s.Text = stripQuotes(body)
		out = append(out, s)
	}
	return out
}

// ParseThread extracts thread entries from "[i/N]", "i/N:" or plain numbered
// lines. Missing totals become the entry count and missing positions become
// the 1-based index. If the declared positions cannot satisfy
// 1 <= position <= total with unique positions, every entry is renumbered by
// index.
func ParseThread(text string) []ThreadEntry {
	items := run(text, classifyThread)
	entries := make([]ThreadEntry, 0, len(items))
	for _, it := range items {
		tag, body := ExtractTag(stripQuotes(it.text))
		entries = append(entries, ThreadEntry{
			Text:     stripQuotes(body),
			Tag:      tag,
			Position: it.position,
			Total:    it.total,
		})
	}

	n := len(entries)
	for i := range entries {
		if entries[i].Total <= 0 {
			entries[i].Total = n
		}
		if entries[i].Position <= 0 {
			entries[i].Position = i + 1
		}
	}

	if !consistent(entries) {
		for i := range entries {
			entries[i].Position = i + 1
			entries[i].Total = n
		}
	}
	return entries
}

func consistent(entries []ThreadEntry) bool {
	seen := make(map[int]bool, len(entries))
	for _, e := range entries {
		if e.Position < 1 || e.Position > e.Total || seen[e.Position] {
			return false
		}
		seen[e.Position] = true
	}
	return true
}

// ExtractTag splits a leading "[tag]" off text.
func ExtractTag(text string) (tag, rest string) {
	m := tagRe.FindStringSubmatchIndex(text)
	if m == nil {
		return "", text
	}
	return text[m[2]:m[3]], text[m[1]:]
}

// FormatTag is the inverse of ExtractTag.
func FormatTag(tag, text string) string {
	if tag == "" {
		return text
	}
	return "[" + tag + "] " + text
}

func extractPersona(text string, personas []persona.Persona) (persona.Persona, string, bool) {
	m := tagRe.FindStringSubmatchIndex(text)
	if m == nil {
		return "", text, false
	}
	label := strings.TrimSpace(text[m[2]:m[3]])
	for _, p := range personas {
		if strings.EqualFold(label, string(p)) {
			return p, text[m[1]:], true
		}
		if info, ok := persona.Lookup(p); ok && strings.EqualFold(label, info.Name) {
			return p, text[m[1]:], true
		}
	}
	return "", text, false
}

func classifyFlat(line string) classified {
	if strings.TrimSpace(line) == "" {
		return classified{kind: lineBlank}
	}
	if m := flatItemRe.FindStringSubmatch(line); m != nil {
		if n, _ := strconv.Atoi(m[1]); n >= 1 && n <= MaxSuggestions {
			return classified{kind: lineItem, position: n, text: m[2]}
		}
	}
	if flatNumberedRe.MatchString(line) {
		return classified{kind: lineNumberedOther}
	}
	return classified{kind: lineText, text: line}
}

func classifyThread(line string) classified {
	if strings.TrimSpace(line) == "" {
		return classified{kind: lineBlank}
	}
	if m := threadItemRe.FindStringSubmatch(line); m != nil {
		pos, _ := strconv.Atoi(m[1])
		total, _ := strconv.Atoi(m[2])
		return classified{kind: lineItem, position: pos, total: total, text: m[3]}
	}
	if m := threadNumberedRe.FindStringSubmatch(line); m != nil {
		if pos, err := strconv.Atoi(m[1]); err == nil && pos >= 1 {
			return classified{kind: lineItem, position: pos, text: m[2]}
		}
	}
	if threadPrefixRe.MatchString(line) {
		return classified{kind: lineNumberedOther}
	}
	return classified{kind: lineText, text: line}
}

// paragraphs returns blank-line separated blocks, trimmed, in order.
func paragraphs(text string) []string {
	var (
		out   []string
		block []string
	)
	flush := func() {
		if len(block) > 0 {
			out = append(out, strings.Join(block, "\n"))
			block = nil
		}
	}
	for _, line := range splitLines(text) {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		block = append(block, strings.TrimSpace(line))
	}
	flush()
	return out
}

var (
	openQuotes  = []string{`"`, "“"}
	closeQuotes = []string{`"`, "”"}
)

func stripQuotes(s string) string {
	s = strings.TrimSpace(s)
	for _, q := range openQuotes {
		if strings.HasPrefix(s, q) {
			s = s[len(q):]
			break
		}
	}
	for _, q := range closeQuotes {
		if strings.HasSuffix(s, q) {
			s = s[:len(s)-len(q)]
			break
		}
	}
	return strings.TrimSpace(s)
}
