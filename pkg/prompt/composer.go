// Package prompt renders the single text prompt sent to the model from a
// session transcript and the caller's contextual signals.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/harun/companion/pkg/conversation"
)

// DefaultAssistantName is used when no assistant name is configured
const DefaultAssistantName = "Companion"

// Input carries everything the composer needs for one prompt
type Input struct {
	History       []conversation.Turn
	Route         string
	ScreenContext string
	OwnerID       string
	Metadata      map[string]string
	HasAttachment bool
}

// Composer builds prompts. It holds no per-call state.
type Composer struct {
	maxTurns      int
	assistantName string
}

// NewComposer creates a composer that renders at most maxTurns history turns
func NewComposer(maxTurns int, assistantName string) *Composer {
	if maxTurns <= 0 {
		maxTurns = conversation.DefaultMaxTurns
	}
	assistantName = strings.TrimSpace(assistantName)
	if assistantName == "" {
		assistantName = DefaultAssistantName
	}
	return &Composer{
		maxTurns:      maxTurns,
		assistantName: assistantName,
	}
}

// MaxTurns returns the transcript cap
func (c *Composer) MaxTurns() int {
	return c.maxTurns
}

// Build renders the preamble, the context section, the trimmed transcript
// and the closing instruction as one text block.
func (c *Composer) Build(in Input) string {
	var b strings.Builder

	c.writePreamble(&b)
	b.WriteString("\n")
	writeContext(&b, in)
	b.WriteString("\n")
	c.writeTranscript(&b, in.History)
	b.WriteString("\n")
	b.WriteString("Reply to the latest User message as the Assistant. ")
	b.WriteString("Respond with the reply text only, without a role label.\n")

	return b.String()
}

func (c *Composer) writePreamble(b *strings.Builder) {
	fmt.Fprintf(b, "You are %s, an in-app assistant.\n", c.assistantName)
	b.WriteString("Be friendly, direct and concise. Keep replies to a few short sentences unless the user asks for detail.\n")
	b.WriteString("Only state facts you can ground in the conversation or the context below. ")
	b.WriteString("If you do not know something, say so instead of guessing.\n")
}

func writeContext(b *strings.Builder, in Input) {
	b.WriteString("# Context\n")
	fmt.Fprintf(b, "- Route: %s\n", valueOrNone(in.Route))
	fmt.Fprintf(b, "- Screen context: %s\n", valueOrNone(in.ScreenContext))
	fmt.Fprintf(b, "- Owner: %s\n", valueOrNone(in.OwnerID))
	if in.HasAttachment {
		b.WriteString("- Attachment: an image from the user is included with this message\n")
	} else {
		b.WriteString("- Attachment: none\n")
	}

	if len(in.Metadata) == 0 {
		return
	}

	keys := make([]string, 0, len(in.Metadata))
	for k := range in.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteString("- Metadata:\n")
	for _, k := range keys {
		fmt.Fprintf(b, "  - %s: %s\n", k, singleLine(in.Metadata[k]))
	}
}

func (c *Composer) writeTranscript(b *strings.Builder, history []conversation.Turn) {
	b.WriteString("# Conversation\n")

	turns := conversation.Trim(history, c.maxTurns)
	if len(turns) == 0 {
		b.WriteString("(no previous messages)\n")
		return
	}
	for _, turn := range turns {
		fmt.Fprintf(b, "%s: %s\n", turn.Role.Label(), strings.TrimSpace(turn.Content))
	}
}

func valueOrNone(v string) string {
	v = singleLine(v)
	if v == "" {
		return "none"
	}
	return v
}

// singleLine keeps caller-supplied values from breaking the section layout
func singleLine(v string) string {
	return strings.Join(strings.Fields(v), " ")
}
