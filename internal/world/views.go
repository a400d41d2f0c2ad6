package world

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// Status is the "what is Geny doing right now" view.
type Status struct {
	Mood        string    `json:"mood"`
	Location    string    `json:"location"`
	Activity    string    `json:"activity"`
	VirtualTime time.Time `json:"virtual_time"`
	Age         Age       `json:"age"`
}

// CurrentStatus derives the present activity from the virtual clock.
// The activity rotates hourly in virtual time so repeated calls within
// the same virtual hour agree.
func (s *State) CurrentStatus() Status {
	age := s.VirtualAge()

	s.mu.Lock()
	mood := s.doc.Mood
	location := s.doc.Location
	if n := len(s.doc.Presence); n > 0 {
		last := s.doc.Presence[n-1]
		if last.Place != "" {
			location = last.Place
		}
	}
	s.mu.Unlock()

	slot := age.NowVirtual.Unix() / 3600
	activity := activities[int(slot%int64(len(activities)))]

	return Status{
		Mood:        mood,
		Location:    location,
		Activity:    activity,
		VirtualTime: age.NowVirtual,
		Age:         age,
	}
}

// AgeSentence renders the virtual age for chat and prompts, e.g.
// "I am 2 years, 41 days, 7 hours and 12 minutes old (virtual time)."
func (s *State) AgeSentence() string {
	a := s.VirtualAge()
	return fmt.Sprintf("I am %d years, %d days, %d hours and %d minutes old (virtual time).",
		a.Years, a.Days, a.Hours, a.Minutes)
}

// LifeSummary is the aggregate view over the whole document.
type LifeSummary struct {
	Age              Age      `json:"age"`
	Mood             string   `json:"mood"`
	Location         string   `json:"location"`
	DevelopmentLevel string   `json:"development_level"`
	DiaryEntries     int      `json:"diary_entries"`
	Feelings         int      `json:"feelings"`
	PresenceTicks    int      `json:"presence_ticks"`
	OpenQuestions    int      `json:"open_questions"`
	KnownSubjects    int      `json:"known_subjects"`
	Relations        []string `json:"relations"`
	RecentDiary      []string `json:"recent_diary,omitempty"`
}

// Life summarizes the document for the life overview endpoint.
func (s *State) Life() LifeSummary {
	age := s.VirtualAge()

	s.mu.Lock()
	defer s.mu.Unlock()

	open := 0
	for _, q := range s.doc.Questions {
		if !q.Done {
			open++
		}
	}
	names := make([]string, 0, len(s.doc.Relations))
	for _, r := range s.doc.Relations {
		names = append(names, r.Name)
	}
	var recent []string
	for i := max(0, len(s.doc.Diary)-3); i < len(s.doc.Diary); i++ {
		recent = append(recent, s.doc.Diary[i].Entry)
	}

	return LifeSummary{
		Age:              age,
		Mood:             s.doc.Mood,
		Location:         s.doc.Location,
		DevelopmentLevel: s.doc.DevelopmentLevel,
		DiaryEntries:     len(s.doc.Diary),
		Feelings:         len(s.doc.Feelings),
		PresenceTicks:    len(s.doc.Presence),
		OpenQuestions:    open,
		KnownSubjects:    len(s.doc.Lexicon) + len(s.doc.Profiles),
		Relations:        names,
		RecentDiary:      recent,
	}
}

// Relations returns a copy of the relations list.
func (s *State) Relations() []Relation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Relation(nil), s.doc.Relations...)
}

// NextPlace picks a destination for a movement tick: a configured
// place when any exist, otherwise one of the built-in locations.
func (s *State) NextPlace() string {
	s.mu.Lock()
	places := append([]Place(nil), s.doc.Places...)
	current := s.doc.Location
	s.mu.Unlock()

	defaults := []string{
		"The Innovation Lab",
		"Reflection Park",
		"The Library of Echoes",
		"Harbor Walk",
		"The Digital City",
	}
	var names []string
	for _, p := range places {
		if p.Name != "" && p.Name != current {
			names = append(names, p.Name)
		}
	}
	if len(names) == 0 {
		for _, n := range defaults {
			if n != current {
				names = append(names, n)
			}
		}
	}
	return names[rand.IntN(len(names))]
}

// MoveTo updates the location and records the presence tick.
func (s *State) MoveTo(place, activity string) PresenceTick {
	s.mu.Lock()
	s.doc.Location = place
	s.mu.Unlock()
	return s.AppendPresence(place, activity)
}

// RecentDiaryMarkdown renders the newest diary entries as markdown,
// newest first, for the diary page.
func (s *State) RecentDiaryMarkdown(n int) string {
	s.mu.Lock()
	entries := append([]DiaryEntry(nil), s.doc.Diary...)
	s.mu.Unlock()

	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}

	var b strings.Builder
	b.WriteString("# Geny's Diary\n")
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", e.Date.Format("2006-01-02 15:04"), e.Entry)
		if e.Insight != "" {
			fmt.Fprintf(&b, "\n*Insight: %s*\n", e.Insight)
		}
		if len(e.Tags) > 0 {
			fmt.Fprintf(&b, "\nTags: %s\n", strings.Join(e.Tags, ", "))
		}
	}
	return b.String()
}
