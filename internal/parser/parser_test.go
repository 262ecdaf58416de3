package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/tweetbot/internal/persona"
)

func texts(ss []Suggestion) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = s.Text
	}
	return out
}

func TestParseSuggestions_NumberedWithQuotes(t *testing.T) {
	in := "1. \"Hello there\"\n2) “Curly quoted”\n3: plain one"
	got := ParseSuggestions(in, Options{})
	assert.Equal(t, []string{"Hello there", "Curly quoted", "plain one"}, texts(got))
}

func TestParseSuggestions_Tags(t *testing.T) {
	in := "1. [hot take] Ship it.\n2. [empathy] \"Same here.\"\n3. no tag"
	got := ParseSuggestions(in, Options{})
	require.Len(t, got, 3)
	assert.Equal(t, "hot take", got[0].Tag)
	assert.Equal(t, "Ship it.", got[0].Text)
	assert.Equal(t, "empathy", got[1].Tag)
	assert.Equal(t, "Same here.", got[1].Text)
	assert.Empty(t, got[2].Tag)
	assert.Empty(t, got[0].Persona, "persona is only set in multi-voice mode")
}

func TestParseSuggestions_TagRoundTrip(t *testing.T) {
	for _, tc := range []struct{ tag, text string }{
		{"hot take", "Ship it."},
		{"question", "What broke?"},
		{"", "untagged"},
	} {
		tag, rest := ExtractTag(FormatTag(tc.tag, tc.text))
		assert.Equal(t, tc.tag, tag)
		assert.Equal(t, tc.text, rest)
	}
}

func TestParseSuggestions_MultiVoicePositional(t *testing.T) {
	got := ParseSuggestions("1. a\n2. b\n3. c", Options{MultiVoice: true})
	require.Len(t, got, 3)
	assert.Equal(t, persona.Builder, got[0].Persona)
	assert.Equal(t, persona.Shitposter, got[1].Persona)
	assert.Equal(t, persona.Contrarian, got[2].Persona)
}

func TestParseSuggestions_MultiVoiceLabels(t *testing.T) {
	in := "1. [Contrarian] [hot take] Actually no.\n2. [The Builder] Make the thing.\n3. [hmm] unlabeled"
	got := ParseSuggestions(in, Options{MultiVoice: true})
	require.Len(t, got, 3)

	assert.Equal(t, persona.Contrarian, got[0].Persona)
	assert.Equal(t, "hot take", got[0].Tag)
	assert.Equal(t, "Actually no.", got[0].Text)

	assert.Equal(t, persona.Builder, got[1].Persona)
	assert.Empty(t, got[1].Tag)
	assert.Equal(t, "Make the thing.", got[1].Text)

	// An unknown label stays a tag and the persona falls back to position.
	assert.Equal(t, persona.Contrarian, got[2].Persona)
	assert.Equal(t, "hmm", got[2].Tag)
}

func TestParseSuggestions_Continuation(t *testing.T) {
	in := "Here are three:\n1. first line\nsecond line\n2. other\n4. not an item\n3. last"
	got := ParseSuggestions(in, Options{})
	assert.Equal(t, []string{"first line second line", "other", "last"}, texts(got))
}

func TestParseSuggestions_BlankLineEndsItem(t *testing.T) {
	in := "1. a\n2. b\n3. c\n\nLet me know if you want more."
	assert.Equal(t, []string{"a", "b", "c"}, texts(ParseSuggestions(in, Options{})))
}

func TestParseSuggestions_CapsAtThree(t *testing.T) {
	in := "1. a\n2. b\n3. c\n1. d"
	assert.Equal(t, []string{"a", "b", "c"}, texts(ParseSuggestions(in, Options{})))
}

func TestParseSuggestions_ParagraphFallback(t *testing.T) {
	in := "First para\nline two\n\nSecond\n\n\n\"Third\"\n\nFourth"
	got := ParseSuggestions(in, Options{})
	assert.Equal(t, []string{"First para\nline two", "Second", "Third"}, texts(got))
}

func TestParseSuggestions_CRLF(t *testing.T) {
	got := ParseSuggestions("1. a\r\n2. b\r\n", Options{})
	assert.Equal(t, []string{"a", "b"}, texts(got))
}

func TestParseSuggestions_Empty(t *testing.T) {
	assert.Empty(t, ParseSuggestions("", Options{}))
	assert.Empty(t, ParseSuggestions("\n\n  \n", Options{}))
}

func TestParseThread_Bracketed(t *testing.T) {
	got := ParseThread("[1/3] A\n[2/3] B\n[3/3] C")
	require.Len(t, got, 3)
	for i, e := range got {
		assert.Equal(t, i+1, e.Position)
		assert.Equal(t, 3, e.Total)
	}
	assert.Equal(t, "C", got[2].Text)
}

func TestParseThread_SlashWithoutBrackets(t *testing.T) {
	got := ParseThread("1/2: Hook\n2/2: Payoff")
	require.Len(t, got, 2)
	assert.Equal(t, "Hook", got[0].Text)
	assert.Equal(t, 2, got[1].Position)
	assert.Equal(t, 2, got[1].Total)
}

func TestParseThread_NumberedBackfillsTotal(t *testing.T) {
	got := ParseThread("1. A\n2. B")
	require.Len(t, got, 2)
	assert.Equal(t, ThreadEntry{Text: "A", Position: 1, Total: 2}, got[0])
	assert.Equal(t, ThreadEntry{Text: "B", Position: 2, Total: 2}, got[1])
}

func TestParseThread_TagAndContinuation(t *testing.T) {
	got := ParseThread("[1/2] [hook] Big news\nmore detail\n[2/2] \"The end\"")
	require.Len(t, got, 2)
	assert.Equal(t, "hook", got[0].Tag)
	assert.Equal(t, "Big news more detail", got[0].Text)
	assert.Equal(t, "The end", got[1].Text)
}

func TestParseThread_InconsistentPositionsRenumbered(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"duplicate", "[1/3] A\n[1/3] B"},
		{"out of range", "[5/3] A\n[2/3] B"},
		{"zero position", "[0/2] A\n[1/2] B"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseThread(tt.in)
			require.Len(t, got, 2)
			for i, e := range got {
				assert.Equal(t, i+1, e.Position)
				assert.Equal(t, 2, e.Total)
			}
		})
	}
}

func TestParseThread_Empty(t *testing.T) {
	assert.Empty(t, ParseThread(""))
	assert.Empty(t, ParseThread("just prose, no numbering"))
}

func TestStripQuotes(t *testing.T) {
	assert.Equal(t, "x", stripQuotes(`  "x"  `))
	assert.Equal(t, "x", stripQuotes("“x”"))
	assert.Equal(t, `say "hi" now`, stripQuotes(`say "hi" now`))
	assert.Equal(t, "", stripQuotes(`""`))
}
