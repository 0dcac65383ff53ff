// Package model defines the shared data types of the topic-analysis pipeline.
package model

// Message roles found in conversation files.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn in a conversation file.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation is a conversation file reduced to what the prompt needs.
type Conversation struct {
	SystemContent string    `json:"system_content"`
	Messages      []Message `json:"conversation"`
}

// Item is one corpus entry ready for processing. ID is the corpus-relative
// path and is the identifier used in the progress log and result entries.
type Item struct {
	ID           string
	Path         string
	Conversation Conversation
}
