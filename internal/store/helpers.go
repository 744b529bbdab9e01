package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/BTreeMap/PitchPipe/internal/models"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const projectColumns = `id, user_id, username, project_name, stage, revenue_goal, created_at, updated_at`

const turnColumns = `id, user_id, project_id, message, role, timestamp`

// scanProject scans a Project in projectColumns order.
func scanProject(row rowScanner) (models.Project, error) {
	var p models.Project
	var handle sql.NullString
	var stage string
	err := row.Scan(&p.ID, &p.UserID, &handle, &p.Name, &stage, &p.RevenueGoal, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return p, err
	}
	p.Handle = handle.String
	p.Stage = models.ProjectStage(stage)
	return p, nil
}

// scanTurn scans a ConversationTurn in turnColumns order.
func scanTurn(row rowScanner) (models.ConversationTurn, error) {
	var t models.ConversationTurn
	var role string
	if err := row.Scan(&t.ID, &t.UserID, &t.ProjectID, &t.Message, &role, &t.Timestamp); err != nil {
		return t, fmt.Errorf("scan conversation turn failed: %w", err)
	}
	t.Role = models.Role(role)
	return t, nil
}

// classifySQLError maps driver errors onto the store sentinels.
func classifySQLError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "23":
			return constraint(op, err)
		case pqErr.Code == "42P01": // undefined_table
			return schemaMissing(op, err)
		}
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch {
		case liteErr.Code == sqlite3.ErrConstraint:
			return constraint(op, err)
		case strings.Contains(liteErr.Error(), "no such table"):
			return schemaMissing(op, err)
		}
	}
	return unavailable(op, err)
}

// pingTables reads at most one row from each table so a dropped table fails the ping,
// not the first write.
func pingTables(ctx context.Context, db *sql.DB, op string) error {
	for _, table := range []string{projectsTable, conversationsTable} {
		rows, err := db.QueryContext(ctx, "SELECT id FROM "+table+" LIMIT 1")
		if err != nil {
			return classifySQLError(op, err)
		}
		rows.Close()
	}
	return nil
}

// validationError maps a model validation failure onto ErrConstraintViolation, since the
// tables would reject the same row.
func validationError(op string, err error) error {
	return constraint(op, err)
}
