package management

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/andrejvysny/spendly-sub003/internal/rules"
)

// RuleVersion is a full snapshot of a rule aggregate taken on every
// create/update, so any past state can be inspected or restored.
type RuleVersion struct {
	ID        string    `json:"id"`
	RuleID    int64     `json:"rule_id"`
	UserID    int64     `json:"user_id"`
	RuleData  string    `json:"rule_data"`
	Version   int       `json:"version"`
	ChangedBy string    `json:"changed_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditLog struct {
	ID        string                 `json:"id"`
	RuleID    *int64                 `json:"rule_id,omitempty"`
	UserID    int64                  `json:"user_id"`
	Action    string                 `json:"action"`
	OldValue  map[string]interface{} `json:"old_value,omitempty"`
	NewValue  map[string]interface{} `json:"new_value,omitempty"`
	ChangedBy string                 `json:"changed_by"`
	Timestamp time.Time              `json:"timestamp"`
}

type VersioningRepository interface {
	CreateVersion(ctx context.Context, version *RuleVersion) error
	GetVersions(ctx context.Context, userID, ruleID int64) ([]RuleVersion, error)
	CreateAuditLog(ctx context.Context, log *AuditLog) error
	GetAuditLogs(ctx context.Context, userID int64, ruleID *int64, limit int) ([]AuditLog, error)
}

type postgresVersioningRepository struct {
	db *sql.DB
}

func NewVersioningRepository(db *sql.DB) VersioningRepository {
	return &postgresVersioningRepository{db: db}
}

func (r *postgresVersioningRepository) CreateVersion(ctx context.Context, version *RuleVersion) error {
	if version.ID == "" {
		version.ID = uuid.New().String()
	}
	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO rule_versions (id, rule_id, user_id, rule_data, version, changed_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		version.ID, version.RuleID, version.UserID, version.RuleData,
		version.Version, version.ChangedBy, version.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create rule version: %w", err)
	}
	return nil
}

func (r *postgresVersioningRepository) GetVersions(ctx context.Context, userID, ruleID int64) ([]RuleVersion, error) {
	query := `
		SELECT id, rule_id, user_id, rule_data, version, changed_by, created_at
		FROM rule_versions
		WHERE rule_id = $1 AND user_id = $2
		ORDER BY version DESC
	`

	rows, err := r.db.QueryContext(ctx, query, ruleID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	var versions []RuleVersion
	for rows.Next() {
		var v RuleVersion
		if err := rows.Scan(
			&v.ID, &v.RuleID, &v.UserID, &v.RuleData,
			&v.Version, &v.ChangedBy, &v.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return versions, nil
}

func (r *postgresVersioningRepository) CreateAuditLog(ctx context.Context, log *AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.Timestamp.IsZero() {
		log.Timestamp = time.Now()
	}

	var oldValueJSON, newValueJSON []byte
	var err error

	if log.OldValue != nil {
		oldValueJSON, err = json.Marshal(log.OldValue)
		if err != nil {
			return fmt.Errorf("failed to marshal old value: %w", err)
		}
	}
	if log.NewValue != nil {
		newValueJSON, err = json.Marshal(log.NewValue)
		if err != nil {
			return fmt.Errorf("failed to marshal new value: %w", err)
		}
	}

	query := `
		INSERT INTO rule_audit_logs (id, rule_id, user_id, action, old_value, new_value, changed_by, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.db.ExecContext(ctx, query,
		log.ID, log.RuleID, log.UserID, log.Action,
		oldValueJSON, newValueJSON, log.ChangedBy, log.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

func (r *postgresVersioningRepository) GetAuditLogs(ctx context.Context, userID int64, ruleID *int64, limit int) ([]AuditLog, error) {
	var query string
	var args []interface{}

	if ruleID != nil {
		query = `
			SELECT id, rule_id, user_id, action, old_value, new_value, changed_by, timestamp
			FROM rule_audit_logs
			WHERE user_id = $1 AND rule_id = $2
			ORDER BY timestamp DESC
			LIMIT $3
		`
		args = []interface{}{userID, *ruleID, limit}
	} else {
		query = `
			SELECT id, rule_id, user_id, action, old_value, new_value, changed_by, timestamp
			FROM rule_audit_logs
			WHERE user_id = $1
			ORDER BY timestamp DESC
			LIMIT $2
		`
		args = []interface{}{userID, limit}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var logs []AuditLog
	for rows.Next() {
		var log AuditLog
		var oldValueJSON, newValueJSON []byte
		var ruleIDPtr sql.NullInt64

		if err := rows.Scan(
			&log.ID, &ruleIDPtr, &log.UserID, &log.Action,
			&oldValueJSON, &newValueJSON, &log.ChangedBy, &log.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}

		if ruleIDPtr.Valid {
			id := ruleIDPtr.Int64
			log.RuleID = &id
		}
		if len(oldValueJSON) > 0 {
			if err := json.Unmarshal(oldValueJSON, &log.OldValue); err != nil {
				return nil, fmt.Errorf("failed to unmarshal old value: %w", err)
			}
		}
		if len(newValueJSON) > 0 {
			if err := json.Unmarshal(newValueJSON, &log.NewValue); err != nil {
				return nil, fmt.Errorf("failed to unmarshal new value: %w", err)
			}
		}

		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return logs, nil
}

func ruleToJSON(rule *rules.Rule) (string, error) {
	data, err := json.Marshal(rule)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
