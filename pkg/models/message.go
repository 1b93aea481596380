package models

// Message is one event in a thread's history. Ordinary posts carry a
// sequence number; attachment events carry File/Uploader instead and no
// sequence number.
type Message struct {
	Thread string `json:"thread"`
	Seq    uint64 `json:"seq,omitempty"`
	Author string `json:"author,omitempty"`
	TS     int64  `json:"ts"`
	Body   string `json:"body,omitempty"`
	// Deleted flag; soft-delete keeps the event and its sequence number
	Deleted bool `json:"deleted,omitempty"`
	// File/Uploader are set for attachment-recorded events
	File     string `json:"file,omitempty"`
	Uploader string `json:"uploader,omitempty"`
}

// IsAttachment reports whether the event records an uploaded file rather
// than a posted message.
func (m Message) IsAttachment() bool { return m.File != "" }
