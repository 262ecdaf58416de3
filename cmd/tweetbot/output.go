package main

import (
	"fmt"
	"os"
	"strings"
)

const (
	colorReset   = "\033[0m"
	colorRed     = "\033[31m"
	colorGreen   = "\033[32m"
	colorYellow  = "\033[33m"
	colorMagenta = "\033[35m"
	colorCyan    = "\033[36m"
	colorBold    = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

// personaColors maps persona display colors onto terminal colors.
var personaColors = map[string]string{
	"green":  colorGreen,
	"purple": colorMagenta,
	"orange": colorYellow,
}

// liveLine redraws a single status line on a terminal. On anything else it
// stays silent so piped output only carries the final result.
type liveLine struct {
	f      *os.File
	active bool
	shown  bool
}

func newLiveLine(f *os.File) *liveLine {
	info, err := f.Stat()
	return &liveLine{f: f, active: err == nil && info.Mode()&os.ModeCharDevice != 0}
}

func (l *liveLine) show(text string) {
	if !l.active {
		return
	}
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	last := lines[len(lines)-1]
	if r := []rune(last); len(r) > 72 {
		last = "..." + string(r[len(r)-69:])
	}
	fmt.Fprintf(l.f, "\r\033[K%s", last)
	l.shown = true
}

func (l *liveLine) clear() {
	if l.active && l.shown {
		fmt.Fprint(l.f, "\r\033[K")
		l.shown = false
	}
}
