package router

import (
	"math/rand"
	"strings"
)

const DefaultInterjectThreshold = 0.15

// Reason names why a bot decided to answer.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonPartner         Reason = "partner"
	ReasonMentioned       Reason = "mentioned"
	ReasonRandomInterject Reason = "random_interject"
)

// Decision is Ignore (Respond == false) or Respond with a Reason.
type Decision struct {
	Respond bool
	Reason  Reason
}

var Ignore = Decision{}

func respond(r Reason) Decision { return Decision{Respond: true, Reason: r} }

func (d Decision) String() string {
	if !d.Respond {
		return "ignore"
	}
	return string(d.Reason)
}

// Source yields uniform values in [0,1). *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

type Input struct {
	Sender  string
	Text    string
	Self    string
	Partner string
	// Triggers are extra words that count as a mention of Self.
	Triggers []string
}

// Router holds the interject threshold and random source.
type Router struct {
	threshold float64
	rng       Source
}

func New(threshold float64, rng Source) *Router {
	if threshold < 0 {
		threshold = 0
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Router{threshold: threshold, rng: lockedSource(rng)}
}

func (r *Router) Decide(in Input) Decision {
	return Decide(in, r.threshold, r.rng)
}

// Decide applies the routing precedence: own echo, partner, mention, then a
// random interjection below threshold.
func Decide(in Input, threshold float64, rng Source) Decision {
	sender := strings.ToLower(strings.TrimSpace(in.Sender))
	self := strings.ToLower(strings.TrimSpace(in.Self))
	partner := strings.ToLower(strings.TrimSpace(in.Partner))

	if sender == "" || sender == self {
		return Ignore
	}
	if partner != "" && sender == partner {
		return respond(ReasonPartner)
	}
	if mentioned(strings.ToLower(in.Text), self, in.Triggers) {
		return respond(ReasonMentioned)
	}
	if rng != nil && rng.Float64() < threshold {
		return respond(ReasonRandomInterject)
	}
	return Ignore
}

func mentioned(text, self string, triggers []string) bool {
	if self != "" && strings.Contains(text, self) {
		return true
	}
	for _, t := range triggers {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && strings.Contains(text, t) {
			return true
		}
	}
	return false
}
