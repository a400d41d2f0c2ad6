// Package world holds Geny's single mutable world-state document:
// diary, curiosity questions, presence, feelings, relations, and the
// fixed birthdate that anchors virtual time.
//
// Every mutation goes through one process-wide mutex owned by [State].
// Persistence is scheduled outside the lock through a [Saver] so slow
// disks never block concurrent mutators.
package world

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Section caps. After an append, sequences are trimmed from the front
// to retain only the most recent entries.
const (
	DefaultDiaryCap    = 1000
	DefaultFeelingsCap = 500
	DefaultPresenceCap = 500
)

// Caps bound the world's append-only sequences.
type Caps struct {
	Diary    int
	Feelings int
	Presence int
}

// DefaultCaps returns the standard section bounds.
func DefaultCaps() Caps {
	return Caps{
		Diary:    DefaultDiaryCap,
		Feelings: DefaultFeelingsCap,
		Presence: DefaultPresenceCap,
	}
}

// DiaryEntry is one dated diary line, optionally tagged with the
// insight that produced it.
type DiaryEntry struct {
	ID      string    `json:"id,omitempty"`
	Date    time.Time `json:"date"`
	Entry   string    `json:"entry"`
	Insight string    `json:"insight,omitempty"`
	Tags    []string  `json:"tags,omitempty"`
}

// Feeling is one dated mood observation.
type Feeling struct {
	ID   string    `json:"id,omitempty"`
	Date time.Time `json:"date"`
	Text string    `json:"text"`
}

// PresenceTick records where Geny was and what she was doing at one
// simulated moment.
type PresenceTick struct {
	ID       string    `json:"id,omitempty"`
	Date     time.Time `json:"date"`
	Place    string    `json:"place"`
	Activity string    `json:"activity,omitempty"`
}

// Question is one queued curiosity prompt.
type Question struct {
	Text    string    `json:"text"`
	Created time.Time `json:"created"`
	Done    bool      `json:"done"`
}

// Profile caches a researched subject.
type Profile struct {
	Summary string    `json:"summary"`
	Raw     string    `json:"raw,omitempty"`
	Updated time.Time `json:"updated"`
}

// Relation describes one person Geny knows and learns from.
type Relation struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Learning string `json:"learning"`
}

// Personality holds trait and preference lists used by prompt building.
type Personality struct {
	Traits []string `json:"traits,omitempty"`
	Likes  []string `json:"likes,omitempty"`
}

// Goal is one long-term objective.
type Goal struct {
	Goal string `json:"goal"`
}

// Place is a named location in Geny's world.
type Place struct {
	Name string `json:"name"`
}

// LexiconEntry is one seeded concept Geny can be curious about.
type LexiconEntry struct {
	Type string `json:"type,omitempty"`
	Desc string `json:"desc,omitempty"`
}

// Document is the typed world-state schema, replacing the original
// free-form section map. Zero values are valid defaults for every
// section.
type Document struct {
	// Birthdate is fixed at first initialization and never changed.
	// Virtual age is always recomputed from it, never counted.
	Birthdate time.Time `json:"birthdate,omitzero"`

	Location         string                  `json:"location,omitempty"`
	Mood             string                  `json:"mood,omitempty"`
	DevelopmentLevel string                  `json:"development_level,omitempty"`
	Diary            []DiaryEntry            `json:"diary,omitempty"`
	Feelings         []Feeling               `json:"feelings,omitempty"`
	Presence         []PresenceTick          `json:"presence,omitempty"`
	Questions        []Question              `json:"questions,omitempty"`
	Profiles         map[string]Profile      `json:"profiles,omitempty"`
	Relations        []Relation              `json:"relations,omitempty"`
	Personality      Personality             `json:"personality,omitzero"`
	Goals            []Goal                  `json:"goals,omitempty"`
	Places           []Place                 `json:"places,omitempty"`
	Lexicon          map[string]LexiconEntry `json:"lexicon,omitempty"`
}

// newID returns a lexically sortable entry ID.
func newID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}

// trimFront keeps the most recent cap entries of s, dropping from the
// front. cap <= 0 means unbounded.
func trimFront[T any](s []T, cap int) []T {
	if cap <= 0 || len(s) <= cap {
		return s
	}
	return append(s[:0:0], s[len(s)-cap:]...)
}
