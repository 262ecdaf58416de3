// Package composer builds the system and user prompts for a generation. Every
// function is pure: no network, no storage.
package composer

import (
	"fmt"
	"strings"

	"github.com/kalambet/tweetbot/internal/persona"
	"github.com/kalambet/tweetbot/internal/proxy"
)

// MaxSamples bounds the voice-matching context.
const MaxSamples = 10

const intro = "You generate Twitter/X posts. You sound like a real person, not a bot."

const styleRules = `WRITING STYLE:
Never use these words: align, crucial, delve, elaborate, emphasize, enhance, enduring, foster, garner, highlight, intricate, interplay, pivotal, showcase, tapestry, underscore, bolster, landscape, realm, arguably, innovative, groundbreaking, transformative, utilize, leverage, synergy, game-changer, unpack, the real unlock.
Never use these patterns: "Not only... but also...", "Despite these challenges...", "In conclusion", "From X to Y", "It's worth noting that", "plays a pivotal role", rule-of-three filler lists, rhetorical questions that answer themselves.
No exaggeration. No filler. No moralizing. No disclaimers. No em dashes. No flowery language. Vary sentence rhythm. Be specific and concrete. Occasionally opinionated, never sycophantic.`

const commonRules = `- Each post must be under 280 characters
- No hashtags unless the original post uses them
- No emojis unless the voice calls for it
- Match the energy level of the conversation
- If images are included, reference what you see in them naturally
- If the original post is not in English, write in the same language as the original post`

const clarifyingSystem = "You are a tweet writing assistant. Given a topic, generate exactly 3 short clarifying questions that will help you write a better tweet. " +
	"Number them 1-3. Each question should be one sentence. Focus on: target audience, desired angle/hook, and key message."

// Compose builds the full prompt. samples are the previously selected posts,
// oldest first; only the last MaxSamples are used. images are already
// resolved URLs or data URLs and precede the text part.
func Compose(req Request, settings Settings, samples []Sample, images []string) Prompt {
	user := make([]proxy.ContentPart, 0, len(images)+1)
	for _, u := range images {
		user = append(user, proxy.ImagePart(u))
	}
	user = append(user, proxy.TextPart(UserPrompt(req)))
	return Prompt{
		System: SystemPrompt(req, settings, samples),
		User:   user,
	}
}

// SystemPrompt builds the system prompt. The request persona wins over the
// configured one.
func SystemPrompt(req Request, settings Settings, samples []Sample) string {
	var sb strings.Builder
	sb.WriteString(intro)
	sb.WriteString("\n\n")

	if req.MultiVoice && !req.ThreadMode {
		writeVoices(&sb)
	} else {
		p := req.Persona
		if p == "" {
			p = settings.Persona
		}
		info, _ := persona.Lookup(p.OrDefault())
		fmt.Fprintf(&sb, "VOICE: %s\n%s", info.Name, info.Voice)
	}

	sb.WriteString("\n\n")
	sb.WriteString(styleRules)

	if topics := cleanTopics(settings.Topics); len(topics) > 0 {
		fmt.Fprintf(&sb, "\n\nThe user is interested in these topics: %s. Reference these naturally when relevant.", strings.Join(topics, ", "))
	}

	if len(samples) > MaxSamples {
		samples = samples[len(samples)-MaxSamples:]
	}
	if len(samples) > 0 {
		sb.WriteString("\n\nHere are posts the user has previously selected. Match this voice and style:\n")
		for i, s := range samples {
			fmt.Fprintf(&sb, "%d. [%s] \"%s\"\n", i+1, s.Action, s.Text)
		}
	}

	sb.WriteString("\n\nRULES:\n")
	switch {
	case req.ThreadMode:
		sb.WriteString("- Write one thread of 3-5 posts, one post per line, each prefixed with [i/N] (e.g. [1/4], [2/4])\n")
	case req.MultiVoice:
		ids := persona.IDs()
		fmt.Fprintf(&sb, "- Generate exactly %d suggestions, numbered 1-%d, one per voice in the order listed above\n", len(ids), len(ids))
		sb.WriteString("- Start each suggestion with its voice name in square brackets, before the strategy tag. Format: 1. [Voice Name] [tag] post text\n")
	default:
		sb.WriteString("- Generate exactly 3 suggestions, numbered 1-3\n")
		sb.WriteString("- Make each suggestion distinct in approach/angle\n")
		sb.WriteString("- Do NOT start multiple suggestions with the same word or phrase\n")
	}
	sb.WriteString(commonRules)
	sb.WriteString("\n- Prefix each post with a rhetorical strategy tag in square brackets, e.g. [contrarian take], [empathy hook]. ")
	if req.ThreadMode {
		sb.WriteString("Format: [1/N] [tag] post text.")
	} else {
		sb.WriteString("Format: 1. [tag] post text.")
	}
	sb.WriteString(" The tag does NOT count toward the 280 character limit")
	return sb.String()
}

func writeVoices(sb *strings.Builder) {
	sb.WriteString("VOICES (one suggestion each, in this order):\n")
	for i, info := range persona.All() {
		fmt.Fprintf(sb, "%d. %s: %s\n", i+1, info.Name, info.Voice)
	}
	sb.WriteString("Each suggestion must clearly sound like its voice.")
}

// UserPrompt builds the text part of the user message.
func UserPrompt(req Request) string {
	var sb strings.Builder

	if req.Action == ActionNew {
		topic := strings.TrimSpace(req.Topic)
		if topic == "" {
			topic = "anything interesting"
		}
		if req.ThreadMode {
			fmt.Fprintf(&sb, "Generate a thread of 3-5 tweets about: %s. Number each tweet with [1/N] format (e.g. [1/4], [2/4]). "+
				"Each tweet must be under 280 characters. The first tweet should hook the reader, and the last should conclude or provide a call to action.", topic)
		} else {
			fmt.Fprintf(&sb, "Generate 3 original tweet ideas about: %s", topic)
		}
		if c := strings.TrimSpace(req.ClarifyingContext); c != "" {
			fmt.Fprintf(&sb, "\n\nAdditional context from user:\n%s", c)
		}
		writeDirectives(&sb, req, "\n")
		return sb.String()
	}

	label := "reply to"
	if req.Action == ActionQuote {
		label = "quote tweet"
	}
	subj := Subject{}
	if req.Subject != nil {
		subj = *req.Subject
	}
	handle := strings.TrimPrefix(strings.TrimSpace(subj.Handle), "@")
	if handle == "" {
		handle = "unknown"
	}
	text := PlainText(subj.Text)
	if text == "" {
		text = "(no text - image only tweet)"
	}
	fmt.Fprintf(&sb, "Generate 3 %s suggestions for this tweet:\n\nAuthor: @%s\nTweet: \"%s\"", label, handle, text)

	if len(subj.ThreadContext) > 0 {
		sb.WriteString("\n\nThread context (preceding tweets):")
		for i, t := range subj.ThreadContext {
			fmt.Fprintf(&sb, "\n%d. @%s: \"%s\"", i+1, strings.TrimPrefix(t.Handle, "@"), PlainText(t.Text))
		}
	}
	writeDirectives(&sb, req, "\n\n")
	return sb.String()
}

func writeDirectives(sb *strings.Builder, req Request, sep string) {
	if t := strings.TrimSpace(req.RefineTone); t != "" {
		fmt.Fprintf(sb, "%sAdjust tone to be more: %s", sep, t)
	}
	if r := strings.TrimSpace(req.Refinement); r != "" {
		fmt.Fprintf(sb, "%sAdditional direction: %s", sep, r)
	}
}

// ClarifyingPrompt builds the prompt for the clarifying-questions flow of a
// new post.
func ClarifyingPrompt(topic string, threadMode bool) Prompt {
	user := "Topic: " + strings.TrimSpace(topic)
	if threadMode {
		user += "\nThe user wants to generate a thread (3-5 tweets)."
	}
	return Prompt{
		System: clarifyingSystem,
		User:   []proxy.ContentPart{proxy.TextPart(user)},
	}
}

func cleanTopics(topics []string) []string {
	var out []string
	for _, t := range topics {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
