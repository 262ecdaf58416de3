package parser

import "strings"

// state of the line scanner.
type state int

const (
	noCurrentItem state = iota
	accumulatingItem
)

// lineKind is the classification of one input line.
type lineKind int

const (
	lineBlank lineKind = iota
	// lineItem starts a new item.
	lineItem
	// lineNumberedOther looks numbered but is not an accepted item; it
	// neither starts an item nor continues one.
	lineNumberedOther
	// lineText is free text that continues the current item, if any.
	lineText
)

// classified is one line after classification. position and total are 0
// when the line did not declare them.
type classified struct {
	kind     lineKind
	position int
	total    int
	text     string
}

// rawItem is an item before tag extraction.
type rawItem struct {
	position int
	total    int
	text     string
}

// machine folds classified lines into items.
//
//	noCurrentItem    + item  -> accumulatingItem (start)
//	noCurrentItem    + other -> noCurrentItem
//	accumulatingItem + item  -> accumulatingItem (flush, start)
//	accumulatingItem + text  -> accumulatingItem (append)
//	accumulatingItem + blank -> noCurrentItem    (flush)
//	accumulatingItem + numberedOther -> accumulatingItem
type machine struct {
	state state
	cur   rawItem
	parts []string
	items []rawItem
}

func (m *machine) step(l classified) {
	switch m.state {
	case noCurrentItem:
		if l.kind == lineItem {
			m.start(l)
		}
	case accumulatingItem:
		switch l.kind {
		case lineItem:
			m.flush()
			m.start(l)
		case lineText:
			m.parts = append(m.parts, strings.TrimSpace(l.text))
		case lineBlank:
			m.flush()
		}
	}
}

func (m *machine) start(l classified) {
	m.cur = rawItem{position: l.position, total: l.total}
	m.parts = []string{strings.TrimSpace(l.text)}
	m.state = accumulatingItem
}

func (m *machine) flush() {
	if m.state != accumulatingItem {
		return
	}
	m.cur.text = strings.Join(m.parts, " ")
	m.items = append(m.items, m.cur)
	m.cur = rawItem{}
	m.parts = nil
	m.state = noCurrentItem
}

// run classifies every line of text and returns the collected items.
func run(text string, classify func(string) classified) []rawItem {
	var m machine
	for _, line := range splitLines(text) {
		m.step(classify(line))
	}
	m.flush()
	return m.items
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Split(text, "\n")
}
