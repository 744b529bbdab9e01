package flow

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/PitchPipe/internal/models"
	"github.com/BTreeMap/PitchPipe/internal/store"
)

// TurnReader is the store capability the history assembler needs.
type TurnReader interface {
	RecentTurnsForUser(ctx context.Context, userID string, limit int) ([]models.ConversationTurn, error)
}

// HistoryAssembler rebuilds a user's recent transcript from stored turns.
type HistoryAssembler struct {
	turns        TurnReader
	defaultLimit int
}

// NewHistoryAssembler creates an assembler. defaultLimit <= 0 uses store.DefaultHistoryLimit.
func NewHistoryAssembler(turns TurnReader, defaultLimit int) *HistoryAssembler {
	if defaultLimit <= 0 {
		defaultLimit = store.DefaultHistoryLimit
	}
	return &HistoryAssembler{turns: turns, defaultLimit: defaultLimit}
}

// Assemble returns up to limit of the user's most recent turns, oldest first. Store failures
// yield an empty transcript: a missing history degrades the reply but never blocks it.
func (h *HistoryAssembler) Assemble(ctx context.Context, userID string, limit int) []models.ChatMessage {
	if limit <= 0 {
		limit = h.defaultLimit
	}

	turns, err := h.turns.RecentTurnsForUser(ctx, userID, limit)
	if err != nil {
		slog.Error("HistoryAssembler Assemble: failed to read turns", "user_id", userID, "error", err)
		return []models.ChatMessage{}
	}
	if len(turns) > limit {
		turns = turns[:limit]
	}

	// Stored order is newest first.
	history := make([]models.ChatMessage, len(turns))
	for i, t := range turns {
		history[len(turns)-1-i] = models.ChatMessageFromTurn(t)
	}
	slog.Debug("HistoryAssembler Assemble succeeded", "user_id", userID, "turns", len(history))
	return history
}
