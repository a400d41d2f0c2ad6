// Package interactions is the durable, append-only log of chat
// exchanges. Every accepted message is written to two backends: a
// sqlite table (indexed retrieval, substring search) and a whole-file
// JSON snapshot replaced atomically on each save. Either backend may
// lag the other after a crash; Reconcile merges them back together
// keyed on (timestamp, input).
package interactions

import "time"

// Interaction is one processed message. Immutable once written.
type Interaction struct {
	// Timestamp is the UTC creation time, stored as RFC 3339.
	Timestamp time.Time `json:"timestamp"`
	Input     string    `json:"message"`
	Output    string    `json:"reply"`
	// Source tags which code path produced the reply ("chat",
	// "fallback", "exploration", ...). Free-form.
	Source string `json:"source,omitempty"`
}

// key identifies an interaction for deduplication across backends.
type key struct {
	ts    string
	input string
}

func keyOf(i Interaction) key {
	return key{ts: i.Timestamp.UTC().Format(time.RFC3339Nano), input: i.Input}
}

// snapshotDoc is the JSON snapshot file layout. The top-level object
// (rather than a bare array) matches the exported/imported format.
type snapshotDoc struct {
	Interactions []Interaction `json:"interactions"`
}
