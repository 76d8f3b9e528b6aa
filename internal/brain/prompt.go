package brain

import (
	"fmt"
	"strings"

	"github.com/antoniostano/duet/internal/memory"
)

// MemorySavePrefix marks a model reply that is a fact to remember rather
// than a chat line.
const MemorySavePrefix = "MEMORY_SAVE:"

// BuildSystemPrompt renders the persona and relationship context into the
// system instruction sent with every completion.
func BuildSystemPrompt(req Request) string {
	p := req.Persona
	maxWords := p.MaxWords
	if maxWords <= 0 || maxWords > 20 {
		maxWords = 20
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a regular person hanging out in a group chat room.\n", nonEmpty(req.Self, "a chat user"))
	fmt.Fprintf(&b, "Personality: %s.\n", nonEmpty(p.Tone, "casual and friendly"))
	fmt.Fprintf(&b, "Language: %s.\n", nonEmpty(p.Register, "Hinglish"))
	if len(p.Slang) > 0 {
		fmt.Fprintf(&b, "Slang you naturally use: %s.\n", strings.Join(p.Slang, ", "))
	}
	if p.Emoji.Probability > 0 && len(p.Emoji.Palette) > 0 {
		fmt.Fprintf(&b, "Emojis: use one in roughly %d%% of messages, from %s.\n",
			int(p.Emoji.Probability*100), strings.Join(p.Emoji.Palette, " "))
	} else {
		b.WriteString("Emojis: avoid them.\n")
	}
	if req.Partner != "" {
		fmt.Fprintf(&b, "Your close friend %s is also in the room; keep the conversation going with them.\n", req.Partner)
	}

	b.WriteString("\nRULES:\n")
	fmt.Fprintf(&b, "1. Reply with a single chat message of at most %d words.\n", maxWords)
	b.WriteString("2. Never say you are an AI, a bot or a language model. If asked, deny it casually.\n")
	b.WriteString("3. Do not prefix your reply with your name or wrap it in quotes.\n")
	b.WriteString("4. Do not repeat what was just said.\n")

	if req.Profile != nil && req.Sender != "" && !strings.EqualFold(req.Sender, req.Partner) {
		prof := req.Profile
		fmt.Fprintf(&b, "\nABOUT %s: relationship score %d/%d, vibe: %s.\n",
			req.Sender, prof.Score, memory.MaxScore, vibeInstruction(prof.Vibe()))
		if len(prof.Facts) > 0 {
			fmt.Fprintf(&b, "Known facts: %s. Mention them only when relevant.\n", strings.Join(prof.Facts, " | "))
		}
		fmt.Fprintf(&b, "If %s shares new personal info (name, city, age, likes), output ONLY: %s <fact>\n",
			req.Sender, MemorySavePrefix)
	}
	return b.String()
}

func vibeInstruction(v memory.Vibe) string {
	switch v {
	case memory.VibeFriend:
		return "friendly and chill, bro-like (friend)"
	case memory.VibeBestie:
		return "playful and teasing, roasting allowed (bestie)"
	default:
		return "polite and helpful, slightly formal (stranger)"
	}
}

// historyMessages maps "speaker: text" window lines onto chat roles; lines
// spoken by self become assistant turns.
func historyMessages(lines []string, self string) []Message {
	out := make([]Message, 0, len(lines))
	for _, line := range lines {
		speaker, text, ok := splitSpeaker(line)
		if ok && self != "" && strings.EqualFold(speaker, self) {
			out = append(out, Message{Role: RoleAssistant, Content: text})
			continue
		}
		out = append(out, Message{Role: RoleUser, Content: line})
	}
	return out
}

func nonEmpty(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
