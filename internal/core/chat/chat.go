// Package chat describes the messaging surface the bot talks through,
// independent of any particular chat network.
package chat

import "context"

// Button is an inline button. Exactly one of Data or URL is set.
type Button struct {
	Text string
	Data string
	URL  string
}

// Message is an outbound message.
type Message struct {
	Text           string
	HTML           bool
	DisablePreview bool
	// Buttons renders as an inline keyboard, one slice per row.
	Buttons [][]Button
	// Keyboard renders as a persistent reply keyboard with one row.
	Keyboard       []string
	RemoveKeyboard bool
}

// Sink delivers messages to chats.
type Sink interface {
	Deliver(ctx context.Context, chatID int64, msg Message) (int, error)
	Edit(ctx context.Context, chatID int64, messageID int, msg Message) error
	Delete(ctx context.Context, chatID int64, messageID int) error
}

// CallbackAnswerer is implemented by sinks that must acknowledge button presses.
type CallbackAnswerer interface {
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// ChatType distinguishes one-to-one chats from group chats.
type ChatType string

const (
	ChatPrivate ChatType = "private"
	ChatGroup   ChatType = "group"
)

// ActionKind classifies inbound actions.
type ActionKind string

const (
	ActionCommand    ActionKind = "command"
	ActionText       ActionKind = "text"
	ActionButton     ActionKind = "button"
	ActionGroupJoin  ActionKind = "group_join"
	ActionCredential ActionKind = "credential"
)

// Action is one inbound event attributed to a subject (the user).
type Action struct {
	// UpdateID is the transport delivery id; zero disables de-duplication.
	UpdateID  int64
	Kind      ActionKind
	SubjectID int64
	ChatID    int64
	ChatType  ChatType
	MessageID int

	Command    string
	Args       string
	Text       string
	Data       string
	CallbackID string
	ChatTitle  string
	Credential string
}

// Group reports whether the action happened outside the subject's private chat.
func (a Action) Group() bool {
	return a.ChatType == ChatGroup
}
