// Package models defines dialogue state and inbound event structures for PitchPipe.
package models

import "time"

// DialogueState is the stage of the intake dialogue a user is in.
type DialogueState string

const (
	// StateName waits for the project name.
	StateName DialogueState = "NAME"
	// StateStage waits for a stage selection.
	StateStage DialogueState = "STAGE"
	// StateRevenue waits for the revenue goal.
	StateRevenue DialogueState = "REVENUE"
	// StateFeedback relays free text to the critique persona.
	StateFeedback DialogueState = "FEEDBACK"
)

// Command names accepted from the transport, without the leading slash.
const (
	CommandStart  = "start"
	CommandHelp   = "help"
	CommandReview = "review"
	CommandCancel = "cancel"
)

// EventKind classifies an inbound transport event.
type EventKind string

const (
	// EventCommand is a slash command such as /start.
	EventCommand EventKind = "command"
	// EventText is free text.
	EventText EventKind = "text"
	// EventChoice is a selection from an enumerated choice prompt.
	EventChoice EventKind = "choice"
)

// InboundEvent is a transport-neutral user event.
type InboundEvent struct {
	Kind       EventKind `json:"kind"`
	UserID     string    `json:"user_id"`
	ChatID     string    `json:"chat_id"`
	Handle     string    `json:"handle,omitempty"`
	Command    string    `json:"command,omitempty"`
	Text       string    `json:"text,omitempty"`
	ChoiceData string    `json:"choice_data,omitempty"`
	MessageRef string    `json:"message_ref,omitempty"` // message carrying the choice prompt
	CallbackID string    `json:"callback_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Choice is one option of an enumerated single-choice prompt.
type Choice struct {
	Label string `json:"label"`
	Data  string `json:"data"` // returned as InboundEvent.ChoiceData when selected
}

// StageChoices returns the project stage selector options in display order.
func StageChoices() []Choice {
	choices := make([]Choice, 0, len(ProjectStages))
	for _, s := range ProjectStages {
		choices = append(choices, Choice{Label: string(s), Data: string(s)})
	}
	return choices
}
