// Package models defines the core data structures for PitchPipe.
//
// It includes projects, conversation turns and the provider-neutral chat message type,
// which are shared across the store, flow, genai and messaging modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// ProjectStage is the maturity of a startup project as chosen during intake.
type ProjectStage string

const (
	// StageIdea is a project that exists only as a concept.
	StageIdea ProjectStage = "Idea"
	// StageDevelopment is a project being built.
	StageDevelopment ProjectStage = "Development"
	// StageLaunched is a project already in the market.
	StageLaunched ProjectStage = "Launched"
)

// ProjectStages lists the stage choices in the order they are offered to users.
var ProjectStages = []ProjectStage{StageIdea, StageDevelopment, StageLaunched}

// IsValidProjectStage checks if the given stage is one of the enumerated choices.
func IsValidProjectStage(s ProjectStage) bool {
	switch s {
	case StageIdea, StageDevelopment, StageLaunched:
		return true
	default:
		return false
	}
}

// Role identifies the author of a conversation turn.
type Role string

const (
	// RoleUser marks a turn written by the founder.
	RoleUser Role = "user"
	// RoleAssistant marks a turn generated by the model.
	RoleAssistant Role = "assistant"
)

// IsValidRole checks if the given role can be stored on a turn.
func IsValidRole(r Role) bool {
	return r == RoleUser || r == RoleAssistant
}

// Validation constants for input validation
const (
	// MaxProjectNameLength defines the maximum allowed length for a project name
	MaxProjectNameLength = 200
	// MaxRevenueGoalLength defines the maximum allowed length for a revenue goal
	MaxRevenueGoalLength = 1000
	// MaxTurnMessageLength defines the maximum allowed length, in bytes, for a stored turn.
	// Longer feedback is refused before it reaches the model.
	MaxTurnMessageLength = 65536
)

// Error variables for better error handling and testability
var (
	ErrEmptyUserID         = errors.New("user id cannot be empty")
	ErrEmptyProjectName    = errors.New("project name cannot be empty")
	ErrProjectNameTooLong  = errors.New("project name exceeds maximum length")
	ErrInvalidProjectStage = errors.New("invalid project stage")
	ErrEmptyRevenueGoal    = errors.New("revenue goal cannot be empty")
	ErrRevenueGoalTooLong  = errors.New("revenue goal exceeds maximum length")
	ErrInvalidRole         = errors.New("invalid turn role")
	ErrEmptyTurnMessage    = errors.New("turn message cannot be empty")
	ErrTurnMessageTooLong  = errors.New("turn message exceeds maximum length")
	ErrInvalidProjectID    = errors.New("project id must be positive")
)

// Project is a committed intake: one row in the projects table.
type Project struct {
	ID          int64        `json:"id"`
	UserID      string       `json:"user_id"`
	Handle      string       `json:"username,omitempty"`
	Name        string       `json:"project_name"`
	Stage       ProjectStage `json:"stage"`
	RevenueGoal string       `json:"revenue_goal"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// NewProject carries the fields supplied by the caller when committing an intake.
// Identifier and timestamps are assigned by the store.
type NewProject struct {
	UserID      string
	Handle      string
	Name        string
	Stage       ProjectStage
	RevenueGoal string
}

// Validate performs validation on a NewProject before it reaches the store.
func (p NewProject) Validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return ErrEmptyUserID
	}
	if strings.TrimSpace(p.Name) == "" {
		return ErrEmptyProjectName
	}
	if len(p.Name) > MaxProjectNameLength {
		return ErrProjectNameTooLong
	}
	if !IsValidProjectStage(p.Stage) {
		return ErrInvalidProjectStage
	}
	if strings.TrimSpace(p.RevenueGoal) == "" {
		return ErrEmptyRevenueGoal
	}
	if len(p.RevenueGoal) > MaxRevenueGoalLength {
		return ErrRevenueGoalTooLong
	}
	return nil
}

// ConversationTurn is one stored message of a project's conversation log.
type ConversationTurn struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	ProjectID int64     `json:"project_id"`
	Message   string    `json:"message"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`
}

// NewConversationTurn carries the fields supplied by the caller when appending a turn.
type NewConversationTurn struct {
	UserID    string
	ProjectID int64
	Message   string
	Role      Role
}

// Validate performs validation on a NewConversationTurn before it reaches the store.
func (t NewConversationTurn) Validate() error {
	if strings.TrimSpace(t.UserID) == "" {
		return ErrEmptyUserID
	}
	if t.ProjectID <= 0 {
		return ErrInvalidProjectID
	}
	if !IsValidRole(t.Role) {
		return ErrInvalidRole
	}
	if t.Message == "" {
		return ErrEmptyTurnMessage
	}
	if len(t.Message) > MaxTurnMessageLength {
		return ErrTurnMessageTooLong
	}
	return nil
}

// ChatRole is the role of a message sent to the model.
type ChatRole string

const (
	// ChatRoleSystem carries instructions and context.
	ChatRoleSystem ChatRole = "system"
	// ChatRoleUser carries founder-authored text.
	ChatRoleUser ChatRole = "user"
	// ChatRoleAssistant carries earlier model output.
	ChatRoleAssistant ChatRole = "assistant"
)

// ChatMessage is a provider-neutral, role-tagged block of prompt text.
type ChatMessage struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
}

// ChatMessageFromTurn converts a stored turn into a prompt message.
func ChatMessageFromTurn(t ConversationTurn) ChatMessage {
	role := ChatRoleUser
	if t.Role == RoleAssistant {
		role = ChatRoleAssistant
	}
	return ChatMessage{Role: role, Content: t.Message}
}
