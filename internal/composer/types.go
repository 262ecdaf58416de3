package composer

import (
	"fmt"
	"strings"

	"github.com/kalambet/tweetbot/internal/persona"
	"github.com/kalambet/tweetbot/internal/proxy"
)

// Action is what the user wants to write.
type Action string

const (
	ActionReply Action = "reply"
	ActionQuote Action = "quote"
	ActionNew   Action = "new"
)

// ParseAction accepts the three action names, case-insensitively. An empty
// string is a reply.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case "":
		return ActionReply, nil
	case ActionReply, ActionQuote, ActionNew:
		return a, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

// ThreadPost is one post preceding the subject in its thread.
type ThreadPost struct {
	Handle string `json:"handle"`
	Text   string `json:"text"`
}

// Subject is the post being replied to or quoted.
type Subject struct {
	Text          string       `json:"text"`
	Author        string       `json:"author,omitempty"`
	Handle        string       `json:"handle,omitempty"`
	ThreadContext []ThreadPost `json:"threadContext,omitempty"`
	ImageURLs     []string     `json:"imageUrls,omitempty"`
}

// Request is one generation request. It is passed by value and never
// mutated after submission.
type Request struct {
	Action            Action          `json:"action"`
	Subject           *Subject        `json:"subject,omitempty"`
	Topic             string          `json:"topic,omitempty"`
	ClarifyingContext string          `json:"clarifyingContext,omitempty"`
	ThreadMode        bool            `json:"threadMode,omitempty"`
	Persona           persona.Persona `json:"persona,omitempty"`
	RefineTone        string          `json:"refineTone,omitempty"`
	Refinement        string          `json:"refinement,omitempty"`
	MultiVoice        bool            `json:"multiVoice,omitempty"`
}

// Validate checks the fields a prompt cannot be built without.
func (r Request) Validate() error {
	if _, err := ParseAction(string(r.Action)); err != nil {
		return err
	}
	if r.Persona != "" && !r.Persona.Valid() {
		return fmt.Errorf("unknown persona %q", r.Persona)
	}
	if r.Action == ActionReply || r.Action == ActionQuote || r.Action == "" {
		if r.Subject == nil {
			return fmt.Errorf("%s needs a subject post", r.actionOrDefault())
		}
	}
	return nil
}

func (r Request) actionOrDefault() Action {
	if r.Action == "" {
		return ActionReply
	}
	return r.Action
}

// Sample is one previously selected post used for voice matching.
type Sample struct {
	Action string
	Text   string
}

// Settings are the user's standing preferences.
type Settings struct {
	Persona persona.Persona
	Topics  []string
}

// Prompt is the composed system and user content.
type Prompt struct {
	System string
	User   []proxy.ContentPart
}

// Messages renders p as chat messages.
func (p Prompt) Messages() []proxy.Message {
	return []proxy.Message{
		proxy.SystemMessage(p.System),
		proxy.UserMessage(p.User),
	}
}
