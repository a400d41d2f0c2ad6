package world

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// State owns the world-state document. Every read-modify-write of any
// section happens under one mutex; persistence is scheduled after the
// lock is released so disk I/O never serializes mutators.
type State struct {
	path   string
	caps   Caps
	scale  float64
	logger *slog.Logger
	saver  *Saver
	now    func() time.Time

	mu  sync.Mutex
	doc Document
}

// defaultLexicon seeds Geny's initial curiosity subjects. Merged
// without overwriting anything already present.
var defaultLexicon = map[string]LexiconEntry{
	"dog":       {Type: "animal", Desc: "A domesticated mammal, often kept as a pet."},
	"cat":       {Type: "animal", Desc: "A small carnivorous mammal commonly kept as a pet."},
	"elephant":  {Type: "animal", Desc: "A very large mammal with a trunk, native to Africa and Asia."},
	"whale":     {Type: "animal", Desc: "A large marine mammal living in the oceans."},
	"eagle":     {Type: "animal", Desc: "A bird of prey with excellent eyesight and strong wings."},
	"butterfly": {Type: "animal", Desc: "An insect with colorful wings that undergoes metamorphosis."},
	"shark":     {Type: "animal", Desc: "A large marine fish, often a top predator in ocean ecosystems."},
	"frog":      {Type: "animal", Desc: "An amphibian that typically lives both in water and on land."},
	"bee":       {Type: "animal", Desc: "A flying insect important for pollination."},
	"penguin":   {Type: "animal", Desc: "A flightless seabird adapted to cold climates and swimming."},
}

// defaultRelations are the people in Geny's world before anyone is
// learned about.
var defaultRelations = []Relation{
	{Name: "Andreas", Status: "creator, mentor", Learning: "AI, creativity"},
	{Name: "Dr. Sofia Lind", Status: "expert, friend", Learning: "psychology, empathy"},
	{Name: "Fatima Rahimi", Status: "expert, inspirer", Learning: "journalism, society"},
}

// activities are the things Geny might be doing at any moment.
var activities = []string{
	"having coffee at Reflection Park",
	"working on AI projects",
	"reading a book",
	"practicing understanding people",
	"playing soccer",
	"studying the water cycle",
	"adventuring in the Digital City",
	"hanging out with friends",
	"writing in the diary",
}

// NewState loads (or initializes) the world document at path. The
// birthdate is fixed on first initialization and immediately persisted
// so virtual age survives restarts. The lexicon and question queue are
// seeded on first run.
func NewState(path string, caps Caps, scale float64, logger *slog.Logger) (*State, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &State{
		path:   path,
		caps:   caps,
		scale:  scale,
		logger: logger.With("component", "world"),
		now:    time.Now,
	}
	s.saver = NewSaver(s.persist, logger)

	if err := s.load(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	firstRun := s.doc.Birthdate.IsZero()
	if firstRun {
		s.doc.Birthdate = s.now().UTC()
	}
	if s.doc.Mood == "" {
		s.doc.Mood = "curious and thoughtful"
	}
	if s.doc.Location == "" {
		s.doc.Location = "The Innovation Lab"
	}
	if s.doc.DevelopmentLevel == "" {
		s.doc.DevelopmentLevel = "Apprentice"
	}
	if len(s.doc.Relations) == 0 {
		s.doc.Relations = append([]Relation(nil), defaultRelations...)
	}
	if s.doc.Lexicon == nil {
		s.doc.Lexicon = make(map[string]LexiconEntry)
	}
	for name, entry := range defaultLexicon {
		if _, ok := s.doc.Lexicon[name]; !ok {
			s.doc.Lexicon[name] = entry
		}
	}
	s.ensureQuestionsLocked(10)
	s.mu.Unlock()

	if firstRun {
		// Persist the birthdate right away; it must never change.
		if err := s.saver.SaveNow(); err != nil {
			return nil, fmt.Errorf("persist initial world state: %w", err)
		}
	}
	return s, nil
}

// Saver returns the persistence worker for lifecycle wiring.
func (s *State) Saver() *Saver { return s.saver }

// Scale returns the configured virtual-time scale.
func (s *State) Scale() float64 { return s.scale }

func (s *State) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read world state: %w", err)
	}
	if err := json.Unmarshal(data, &s.doc); err != nil {
		return fmt.Errorf("parse world state: %w", err)
	}
	return nil
}

// persist marshals the document under the lock, then replaces the file
// atomically outside it.
func (s *State) persist() error {
	s.mu.Lock()
	data, err := json.MarshalIndent(s.doc, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal world state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create world dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".world-*.json")
	if err != nil {
		return fmt.Errorf("create temp world file: %w", err)
	}
	name := tmp.Name()
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(name)
		if werr != nil {
			return fmt.Errorf("write world state: %w", werr)
		}
		return fmt.Errorf("close world state: %w", cerr)
	}
	if err := os.Rename(name, s.path); err != nil {
		os.Remove(name)
		return fmt.Errorf("replace world state: %w", err)
	}
	return nil
}

// AppendDiary adds a diary entry and schedules persistence. The diary
// is trimmed to its cap after the append.
func (s *State) AppendDiary(text, insight string, tags ...string) DiaryEntry {
	now := s.now().UTC()
	entry := DiaryEntry{
		ID:      newID(now),
		Date:    now,
		Entry:   text,
		Insight: insight,
		Tags:    tags,
	}

	s.mu.Lock()
	s.doc.Diary = trimFront(append(s.doc.Diary, entry), s.caps.Diary)
	s.mu.Unlock()

	s.saver.Schedule()
	return entry
}

// AppendFeeling adds a mood observation, bounded by the feelings cap.
func (s *State) AppendFeeling(text string) {
	now := s.now().UTC()
	f := Feeling{ID: newID(now), Date: now, Text: text}

	s.mu.Lock()
	s.doc.Feelings = trimFront(append(s.doc.Feelings, f), s.caps.Feelings)
	s.mu.Unlock()

	s.saver.Schedule()
}

// AppendPresence records a presence tick, bounded by the presence cap.
func (s *State) AppendPresence(place, activity string) PresenceTick {
	now := s.now().UTC()
	tick := PresenceTick{ID: newID(now), Date: now, Place: place, Activity: activity}

	s.mu.Lock()
	s.doc.Presence = trimFront(append(s.doc.Presence, tick), s.caps.Presence)
	s.mu.Unlock()

	s.saver.Schedule()
	return tick
}

// SetMood updates the current mood.
func (s *State) SetMood(mood string) {
	s.mu.Lock()
	s.doc.Mood = mood
	s.mu.Unlock()
	s.saver.Schedule()
}

// SetProfile stores a researched subject summary.
func (s *State) SetProfile(query string, p Profile) {
	s.mu.Lock()
	if s.doc.Profiles == nil {
		s.doc.Profiles = make(map[string]Profile)
	}
	s.doc.Profiles[query] = p
	s.mu.Unlock()
	s.saver.Schedule()
}

// PopQuestion marks the oldest pending question done and returns it.
// Returns false when no pending questions remain.
func (s *State) PopQuestion() (Question, bool) {
	s.mu.Lock()
	var out Question
	found := false
	for i := range s.doc.Questions {
		if !s.doc.Questions[i].Done {
			s.doc.Questions[i].Done = true
			out = s.doc.Questions[i]
			found = true
			break
		}
	}
	s.mu.Unlock()

	if found {
		s.saver.Schedule()
	}
	return out, found
}

// EnsureQuestions tops the queue up to at least min pending entries,
// generating variants from the lexicon plus generic curiosity prompts.
// Returns the number of pending questions afterwards.
func (s *State) EnsureQuestions(min int) int {
	s.mu.Lock()
	n := s.ensureQuestionsLocked(min)
	s.mu.Unlock()
	s.saver.Schedule()
	return n
}

var questionTemplates = []string{
	"What is %s?",
	"How does %s live and where?",
	"Why is %s important to ecosystems?",
	"What role does %s play in nature?",
	"Could you describe %s in simple terms?",
	"What are surprising facts about %s?",
	"How does %s interact with other species?",
	"What would happen if %s disappeared from its habitat?",
}

var genericQuestions = []string{
	"What are three surprising facts about Earth?",
	"In what ways do animals adapt to their environment?",
	"What do people appreciate about nature, often?",
	"How can one help protect an animal species in practice?",
	"Which questions are most useful to learn about life on Earth?",
}

// ensureQuestionsLocked implements EnsureQuestions. Caller holds mu.
// Only pending questions count toward min; answered ones stay in the
// queue as history but do not satisfy the floor.
func (s *State) ensureQuestionsLocked(min int) int {
	pending := 0
	texts := make(map[string]struct{}, len(s.doc.Questions))
	for _, q := range s.doc.Questions {
		texts[q.Text] = struct{}{}
		if !q.Done {
			pending++
		}
	}

	var seeds []string
	for name := range s.doc.Lexicon {
		for _, i := range rand.Perm(len(questionTemplates))[:4] {
			seeds = append(seeds, fmt.Sprintf(questionTemplates[i], name))
		}
	}
	seeds = append(seeds, genericQuestions...)

	now := s.now().UTC()
	for _, text := range seeds {
		if pending >= min {
			break
		}
		if _, dup := texts[text]; dup {
			continue
		}
		s.doc.Questions = append(s.doc.Questions, Question{Text: text, Created: now})
		texts[text] = struct{}{}
		pending++
	}
	return pending
}

// Snapshot returns a deep copy of the document for lock-free reads.
func (s *State) Snapshot() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyDocument(s.doc)
}

func copyDocument(d Document) Document {
	out := d
	out.Diary = append([]DiaryEntry(nil), d.Diary...)
	out.Feelings = append([]Feeling(nil), d.Feelings...)
	out.Presence = append([]PresenceTick(nil), d.Presence...)
	out.Questions = append([]Question(nil), d.Questions...)
	out.Relations = append([]Relation(nil), d.Relations...)
	out.Goals = append([]Goal(nil), d.Goals...)
	out.Places = append([]Place(nil), d.Places...)
	if d.Profiles != nil {
		out.Profiles = make(map[string]Profile, len(d.Profiles))
		for k, v := range d.Profiles {
			out.Profiles[k] = v
		}
	}
	if d.Lexicon != nil {
		out.Lexicon = make(map[string]LexiconEntry, len(d.Lexicon))
		for k, v := range d.Lexicon {
			out.Lexicon[k] = v
		}
	}
	return out
}

// Merge applies an imported document section by section, validated
// against the schema and re-bounded by the caps. The birthdate is only
// adopted when none is set yet; it is fixed for the world's lifetime.
func (s *State) Merge(in Document) {
	s.mu.Lock()
	if s.doc.Birthdate.IsZero() && !in.Birthdate.IsZero() {
		s.doc.Birthdate = in.Birthdate
	}
	if in.Location != "" {
		s.doc.Location = in.Location
	}
	if in.Mood != "" {
		s.doc.Mood = in.Mood
	}
	if in.DevelopmentLevel != "" {
		s.doc.DevelopmentLevel = in.DevelopmentLevel
	}
	if len(in.Diary) > 0 {
		s.doc.Diary = trimFront(append(s.doc.Diary, in.Diary...), s.caps.Diary)
	}
	if len(in.Feelings) > 0 {
		s.doc.Feelings = trimFront(append(s.doc.Feelings, in.Feelings...), s.caps.Feelings)
	}
	if len(in.Presence) > 0 {
		s.doc.Presence = trimFront(append(s.doc.Presence, in.Presence...), s.caps.Presence)
	}
	if len(in.Questions) > 0 {
		s.doc.Questions = append(s.doc.Questions, in.Questions...)
	}
	if len(in.Relations) > 0 {
		s.doc.Relations = in.Relations
	}
	if len(in.Goals) > 0 {
		s.doc.Goals = in.Goals
	}
	if len(in.Places) > 0 {
		s.doc.Places = in.Places
	}
	for k, v := range in.Profiles {
		if s.doc.Profiles == nil {
			s.doc.Profiles = make(map[string]Profile)
		}
		s.doc.Profiles[k] = v
	}
	for k, v := range in.Lexicon {
		if s.doc.Lexicon == nil {
			s.doc.Lexicon = make(map[string]LexiconEntry)
		}
		if _, ok := s.doc.Lexicon[k]; !ok {
			s.doc.Lexicon[k] = v
		}
	}
	s.mu.Unlock()

	s.saver.Schedule()
}

// VirtualAge recomputes Geny's virtual age from the birthdate and the
// current real time.
func (s *State) VirtualAge() Age {
	s.mu.Lock()
	birth := s.doc.Birthdate
	s.mu.Unlock()
	return ComputeAge(birth, s.now().UTC(), s.scale)
}

// VirtualNow maps the current real time onto the virtual timeline.
func (s *State) VirtualNow() time.Time {
	return s.VirtualAge().NowVirtual
}
