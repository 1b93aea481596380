package models

// Thread is the per-thread metadata record kept in the index. The title is
// the storage key; Creator is set once at creation and never changes.
type Thread struct {
	Title   string `json:"title"`
	Creator string `json:"creator"`
	// Created timestamp (ns)
	CreatedTS int64 `json:"created_ts,omitempty"`
	// Updated timestamp (ns) - last time thread activity changed
	UpdatedTS int64 `json:"updated_ts,omitempty"`
	// LastSeq is the number of messages ever posted to the thread. Sequence
	// numbers are assigned from this counter and survive deletions, so a
	// tombstoned message never gives its number back.
	LastSeq uint64 `json:"last_seq"`
	// LastEvent counts every record event (messages, tombstone rewrites,
	// attachment lines) and orders the thread's durable record.
	LastEvent uint64 `json:"last_event"`
	// Attachments maps filename -> uploader identity.
	Attachments map[string]string `json:"attachments,omitempty"`
}
