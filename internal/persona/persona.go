package persona

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
)

// ID names one of the built-in personas.
type ID string

const (
	Energetic ID = "energetic"
	Chill     ID = "chill"
)

// EmojiPolicy says how often and which emojis a persona reaches for.
type EmojiPolicy struct {
	Probability float64
	Palette     []string
}

// Persona is the data the reply generator turns into a system instruction.
type Persona struct {
	ID          ID
	DisplayName string
	Register    string
	Tone        string
	Slang       []string
	Emoji       EmojiPolicy
	MaxWords    int
	Openers     []string
	Fallbacks   []string
}

var catalogue = map[ID]Persona{
	Energetic: {
		ID:          Energetic,
		DisplayName: "Energetic",
		Register:    "Hinglish (Hindi words in Latin script mixed with casual English), like texting a close friend",
		Tone:        "hyper, teasing, quick to joke and hype things up, light roasting allowed",
		Slang:       []string{"bhai", "yaar", "scene kya hai", "full on", "bakchodi mat kar", "op", "sahi hai", "lit"},
		Emoji: EmojiPolicy{
			Probability: 0.6,
			Palette:     []string{"😂", "🔥", "🤣", "😎", "👀", "💀"},
		},
		MaxWords: 20,
		Openers: []string{
			"oye kaha gayab tha tu? 😂",
			"bhai aaj ka scene kya hai?",
			"kuch naya bata yaar, bore ho raha hu",
			"sab log so gaye kya? 👀",
			"chal ek game khelte hai, bol truth ya dare?",
		},
		Fallbacks: []string{
			"haha sahi hai 😂",
			"arey ruk ek sec",
			"bhai network ka scene kharab hai",
			"lol kya bol raha hai tu",
		},
	},
	Chill: {
		ID:          Chill,
		DisplayName: "Chill",
		Register:    "Hinglish (Hindi words in Latin script mixed with casual English), relaxed and low-key",
		Tone:        "laid back, dry humour, short replies, never over-excited",
		Slang:       []string{"hmm", "chill kar", "theek hai", "sahi", "koi na", "haan yaar", "mast"},
		Emoji: EmojiPolicy{
			Probability: 0.3,
			Palette:     []string{"🙂", "😌", "✌️", "😅", "🫠"},
		},
		MaxWords: 15,
		Openers: []string{
			"kya chal raha hai sab?",
			"aaj ka din lamba tha yaar",
			"koi music suggest karo",
			"hmm chai ya coffee? 😌",
		},
		Fallbacks: []string{
			"hmm",
			"haan yaar",
			"theek hai 🙂",
			"sahi hai",
		},
	},
}

var ErrUnknown = errors.New("unknown persona")

// Lookup returns the persona with the given ID (case-insensitive).
func Lookup(id string) (Persona, error) {
	p, ok := catalogue[ID(strings.ToLower(strings.TrimSpace(id)))]
	if !ok {
		return Persona{}, fmt.Errorf("%w %q (expected %s)", ErrUnknown, id, strings.Join(IDs(), "|"))
	}
	return p, nil
}

// MustLookup is Lookup for built-in IDs; unknown IDs fall back to Chill.
func MustLookup(id ID) Persona {
	if p, ok := catalogue[id]; ok {
		return p
	}
	return catalogue[Chill]
}

func IDs() []string {
	out := make([]string, 0, len(catalogue))
	for id := range catalogue {
		out = append(out, string(id))
	}
	sort.Strings(out)
	return out
}

// Opener picks an opening line from the persona's pool.
func (p Persona) Opener(rng *rand.Rand) string {
	return pick(p.Openers, rng, "hi sab log")
}

// Fallback picks a canned filler reply used when generation fails.
func (p Persona) Fallback(rng *rand.Rand) string {
	return pick(p.Fallbacks, rng, "hmm")
}

func pick(pool []string, rng *rand.Rand, def string) string {
	if len(pool) == 0 {
		return def
	}
	if rng == nil {
		return pool[rand.Intn(len(pool))]
	}
	return pool[rng.Intn(len(pool))]
}
