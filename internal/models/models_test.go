package models

import (
	"strings"
	"testing"
)

func TestNewProjectValidate(t *testing.T) {
	valid := NewProject{UserID: "42", Name: "CryptoWallet", Stage: StageIdea, RevenueGoal: "$10K/month via transaction fees"}

	tests := []struct {
		name    string
		mutate  func(p *NewProject)
		wantErr error
	}{
		{"valid", func(p *NewProject) {}, nil},
		{"missing user", func(p *NewProject) { p.UserID = " " }, ErrEmptyUserID},
		{"missing name", func(p *NewProject) { p.Name = "" }, ErrEmptyProjectName},
		{"long name", func(p *NewProject) { p.Name = strings.Repeat("x", MaxProjectNameLength+1) }, ErrProjectNameTooLong},
		{"bad stage", func(p *NewProject) { p.Stage = "Scaling" }, ErrInvalidProjectStage},
		{"missing goal", func(p *NewProject) { p.RevenueGoal = "\t" }, ErrEmptyRevenueGoal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			if err := p.Validate(); err != tt.wantErr {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNewConversationTurnValidate(t *testing.T) {
	turn := NewConversationTurn{UserID: "42", ProjectID: 1, Message: "hi", Role: RoleUser}
	if err := turn.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	turn.Role = "system"
	if err := turn.Validate(); err != ErrInvalidRole {
		t.Errorf("expected ErrInvalidRole, got %v", err)
	}

	turn.Role = RoleAssistant
	turn.ProjectID = 0
	if err := turn.Validate(); err != ErrInvalidProjectID {
		t.Errorf("expected ErrInvalidProjectID, got %v", err)
	}
}

func TestIsValidProjectStage(t *testing.T) {
	for _, s := range ProjectStages {
		if !IsValidProjectStage(s) {
			t.Errorf("expected %q to be valid", s)
		}
	}
	if IsValidProjectStage("idea") {
		t.Error("stage matching should be exact")
	}
}

func TestChatMessageFromTurn(t *testing.T) {
	msg := ChatMessageFromTurn(ConversationTurn{Role: RoleAssistant, Message: "Who pays?"})
	if msg.Role != ChatRoleAssistant || msg.Content != "Who pays?" {
		t.Errorf("unexpected message: %+v", msg)
	}
	msg = ChatMessageFromTurn(ConversationTurn{Role: RoleUser, Message: "Merchants"})
	if msg.Role != ChatRoleUser {
		t.Errorf("expected user role, got %q", msg.Role)
	}
}

func TestAPIResponseHelpers(t *testing.T) {
	r := Error("boom")
	if r.Status != string(APIStatusError) || r.Message != "boom" {
		t.Errorf("unexpected error response: %+v", r)
	}
	r = Success([]int{1})
	if r.Status != string(APIStatusOK) || r.Result == nil {
		t.Errorf("unexpected success response: %+v", r)
	}
}

func TestStageChoices(t *testing.T) {
	choices := StageChoices()
	if len(choices) != 3 {
		t.Fatalf("expected 3 choices, got %d", len(choices))
	}
	for i, c := range choices {
		if c.Label != string(ProjectStages[i]) || c.Data != string(ProjectStages[i]) {
			t.Errorf("choice %d: unexpected %+v", i, c)
		}
	}
}
