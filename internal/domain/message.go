package domain

import "time"

// InboundMessage is a chat message waiting to be processed.
type InboundMessage struct {
	Channel   string
	ChatID    string
	SenderID  string
	Content   string
	Timestamp time.Time
}

// Envelope is the normalized reply for one processed message.
// When NeedsFileUpload is set, Payload is delivered as an attached file and
// never inlined next to Text.
type Envelope struct {
	Text            string `json:"text"`
	Payload         string `json:"payload,omitempty"`
	NeedsFileUpload bool   `json:"needs_file_upload"`
	AdditionalText  string `json:"additional_text,omitempty"`
}

// TextEnvelope returns an envelope carrying only text.
func TextEnvelope(text string) Envelope {
	return Envelope{Text: text}
}
