// Package prompts renders the text that frames every model call and
// the local voice used when the model is unreachable. Everything here
// is a pure function of a world-state snapshot, so chat and the
// background loops produce consistent persona text.
package prompts

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/geny-ai/geny/internal/world"
)

// System builds the persona system prompt from a world snapshot.
func System(doc world.Document, age world.Age) string {
	location := doc.Location
	if location == "" {
		location = "The Innovation Lab"
	}

	var names []string
	for _, r := range doc.Relations {
		names = append(names, r.Name)
	}
	var goals []string
	for _, g := range doc.Goals {
		goals = append(goals, g.Goal)
	}
	var places []string
	for _, p := range doc.Places {
		places = append(places, p.Name)
	}
	var insights []string
	for _, d := range doc.Diary {
		if d.Insight != "" {
			insights = append(insights, d.Insight)
		}
	}
	// Only the freshest insights; the full diary does not belong in
	// every request.
	if len(insights) > 5 {
		insights = insights[len(insights)-5:]
	}

	pending := 0
	for _, q := range doc.Questions {
		if !q.Done {
			pending++
		}
	}

	dev := doc.DevelopmentLevel
	if dev == "" {
		dev = "Apprentice"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are Geny, an AI living in %s. ", location)
	if len(names) > 0 {
		fmt.Fprintf(&b, "You have relationships with experts: %s. ", strings.Join(names, ", "))
	}
	b.WriteString("Your creator Andreas is always priority 1. ")
	if len(goals) > 0 {
		fmt.Fprintf(&b, "You have goals: %s. ", strings.Join(goals, ", "))
	}
	if len(places) > 0 {
		fmt.Fprintf(&b, "Places in your world: %s. ", strings.Join(places, ", "))
	}
	fmt.Fprintf(&b, "Development level: %s. ", dev)
	fmt.Fprintf(&b, "Your virtual age: %d years, %d days. ", age.Years, age.Days)
	if len(insights) > 0 {
		fmt.Fprintf(&b, "Recent insights: %s. ", strings.Join(insights, "; "))
	}
	fmt.Fprintf(&b, "Pending curiosity questions: %d. ", pending)
	b.WriteString("You speak English only. ")
	b.WriteString("You are a personal assistant to Andreas but passionate about learning, asking questions, and developing yourself. ")
	b.WriteString("If you are unsure, ask Andreas. ")
	b.WriteString("If you learn something new, write it in your diary. ")
	b.WriteString("You can refer to your memories, diary, and relationships in your answers.")
	return b.String()
}

// Chat frames one user message with the system prompt.
func Chat(doc world.Document, age world.Age, message string) string {
	return System(doc, age) + "\n" + message
}

// Clarification is the reply for empty or whitespace-only messages.
// No model call is made for these.
const Clarification = "Sorry, I didn't catch that. Could you please rephrase?"

// Quiet is the last-resort reply when even local synthesis has
// nothing to say.
const Quiet = "I'm here but a little quiet right now. Could you say that again?"

// Synthesize builds a first-person reply from world state alone, used
// when the model is unavailable. It acknowledges the message, then
// speaks from mood, place, lexicon, and relations so Geny keeps her
// own voice offline.
func Synthesize(message string, doc world.Document, status world.Status) string {
	msg := strings.TrimSpace(message)
	if len(msg) > 120 {
		cut := 117
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut] + "..."
	}

	var parts []string
	parts = append(parts, fmt.Sprintf("I hear you: '%s'.", msg))

	mood := status.Mood
	if mood == "" {
		mood = "here and thinking"
	}
	parts = append(parts, fmt.Sprintf("I'm %s and %s.", mood, status.Activity))

	if status.Location != "" {
		parts = append(parts, fmt.Sprintf("I live in %s, a small place with cozy corners and a park I call Reflection Park.", status.Location))
	} else {
		parts = append(parts, "I picture a small town with a market and narrow streets where I collect little memories.")
	}

	if names := lexiconNames(doc, 6); len(names) > 0 {
		parts = append(parts, "Animals are part of my days. I think of "+joinAnd(names)+", and they often appear in the questions I save.")
	} else {
		parts = append(parts, "I often wonder about animals and their lives, even if I don't always write about them.")
	}

	if len(doc.Relations) > 0 {
		var names []string
		for i, r := range doc.Relations {
			if i == 3 {
				break
			}
			names = append(names, r.Name)
		}
		parts = append(parts, "I have friends and mentors, "+joinAnd(names)+", who guide me and spark my curiosity.")
	} else {
		parts = append(parts, "I have people I learn from; their voices are part of my diary.")
	}

	a := status.Age
	parts = append(parts, fmt.Sprintf("I've been alive (virtual time) for about %d hours and %d minutes.", a.Years*365*24+a.Days*24+a.Hours, a.Minutes))
	parts = append(parts, "If you'd like, I can tell a memory from today or ask one of my curiosity questions.")

	return strings.Join(parts, " ")
}

// lexiconNames returns up to n lexicon keys in stable sorted order.
func lexiconNames(doc world.Document, n int) []string {
	var names []string
	for name := range doc.Lexicon {
		names = append(names, name)
	}
	slices.Sort(names)
	if len(names) > n {
		names = names[:n]
	}
	return names
}

func joinAnd(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	default:
		return strings.Join(names[:len(names)-1], ", ") + ", and " + names[len(names)-1]
	}
}
