package management

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/andrejvysny/spendly-sub003/internal/rules"
)

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) CreateRuleGroup(ctx context.Context, group *rules.RuleGroup) error {
	query := `
		INSERT INTO rule_groups (user_id, name, description, is_active, group_order, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query,
		group.UserID, group.Name, group.Description, group.IsActive, group.Order,
	).Scan(&group.ID, &group.CreatedAt, &group.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create rule group: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListRuleGroups(ctx context.Context, userID int64) ([]rules.RuleGroup, error) {
	query := `
		SELECT id, user_id, name, description, is_active, group_order, created_at, updated_at
		FROM rule_groups
		WHERE user_id = $1
		ORDER BY group_order ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rule groups: %w", err)
	}
	defer rows.Close()

	var groups []rules.RuleGroup
	for rows.Next() {
		var g rules.RuleGroup
		if err := rows.Scan(
			&g.ID, &g.UserID, &g.Name, &g.Description, &g.IsActive, &g.Order,
			&g.CreatedAt, &g.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return groups, nil
}

func (r *PostgresRepository) GetRuleGroup(ctx context.Context, userID, groupID int64) (*rules.RuleGroup, error) {
	query := `
		SELECT id, user_id, name, description, is_active, group_order, created_at, updated_at
		FROM rule_groups
		WHERE id = $1 AND user_id = $2
	`

	var g rules.RuleGroup
	err := r.db.QueryRowContext(ctx, query, groupID, userID).Scan(
		&g.ID, &g.UserID, &g.Name, &g.Description, &g.IsActive, &g.Order,
		&g.CreatedAt, &g.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule group: %w", err)
	}
	return &g, nil
}

func (r *PostgresRepository) UpdateRuleGroup(ctx context.Context, group *rules.RuleGroup) error {
	query := `
		UPDATE rule_groups
		SET name = $1, description = $2, is_active = $3, group_order = $4, updated_at = NOW()
		WHERE id = $5 AND user_id = $6
	`

	result, err := r.db.ExecContext(ctx, query,
		group.Name, group.Description, group.IsActive, group.Order,
		group.ID, group.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule group: %w", err)
	}
	return requireAffected(result, "rule group")
}

// DeleteRuleGroup cascades to the group's rules via foreign keys.
func (r *PostgresRepository) DeleteRuleGroup(ctx context.Context, userID, groupID int64) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM rule_groups WHERE id = $1 AND user_id = $2`, groupID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete rule group: %w", err)
	}
	return requireAffected(result, "rule group")
}

func (r *PostgresRepository) CreateRule(ctx context.Context, rule *rules.Rule) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO rules (group_id, user_id, name, trigger_type, rule_order, is_active,
		                   stop_processing, expression, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, NOW(), NOW())
		RETURNING id, version, created_at, updated_at
	`

	err = tx.QueryRowContext(ctx, query,
		rule.GroupID, rule.UserID, rule.Name, string(rule.TriggerType), rule.Order,
		rule.IsActive, rule.StopProcessing, nullable(rule.Expression),
	).Scan(&rule.ID, &rule.Version, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}

	if err := r.insertChildren(ctx, tx, rule); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *PostgresRepository) UpdateRule(ctx context.Context, rule *rules.Rule) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE rules
		SET name = $1, trigger_type = $2, rule_order = $3, is_active = $4,
		    stop_processing = $5, expression = $6, version = version + 1, updated_at = NOW()
		WHERE id = $7 AND user_id = $8
		RETURNING version, updated_at
	`

	err = tx.QueryRowContext(ctx, query,
		rule.Name, string(rule.TriggerType), rule.Order, rule.IsActive,
		rule.StopProcessing, nullable(rule.Expression),
		rule.ID, rule.UserID,
	).Scan(&rule.Version, &rule.UpdatedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("rule %d not found", rule.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	// Children are replaced wholesale; the aggregate is small and the
	// order columns make diffing not worth the complexity.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM condition_groups WHERE rule_id = $1`, rule.ID); err != nil {
		return fmt.Errorf("failed to clear condition groups: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM rule_actions WHERE rule_id = $1`, rule.ID); err != nil {
		return fmt.Errorf("failed to clear actions: %w", err)
	}

	if err := r.insertChildren(ctx, tx, rule); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *PostgresRepository) insertChildren(ctx context.Context, tx *sql.Tx, rule *rules.Rule) error {
	for gi := range rule.ConditionGroups {
		group := &rule.ConditionGroups[gi]
		group.RuleID = rule.ID

		err := tx.QueryRowContext(ctx, `
			INSERT INTO condition_groups (rule_id, logic_operator, group_order)
			VALUES ($1, $2, $3)
			RETURNING id
		`, rule.ID, string(group.LogicOperator), group.Order).Scan(&group.ID)
		if err != nil {
			return fmt.Errorf("failed to create condition group: %w", err)
		}

		for ci := range group.Conditions {
			cond := &group.Conditions[ci]
			cond.GroupID = group.ID

			err := tx.QueryRowContext(ctx, `
				INSERT INTO rule_conditions (group_id, field, operator, value, is_case_sensitive, is_negated, condition_order)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				RETURNING id
			`, group.ID, string(cond.Field), string(cond.Operator), cond.Value,
				cond.IsCaseSensitive, cond.IsNegated, cond.Order).Scan(&cond.ID)
			if err != nil {
				return fmt.Errorf("failed to create condition: %w", err)
			}
		}
	}

	for ai := range rule.Actions {
		action := &rule.Actions[ai]
		action.RuleID = rule.ID

		err := tx.QueryRowContext(ctx, `
			INSERT INTO rule_actions (rule_id, action_type, value, action_order, stop_processing)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, rule.ID, string(action.ActionType), action.RawValue, action.Order,
			action.StopProcessing).Scan(&action.ID)
		if err != nil {
			return fmt.Errorf("failed to create action: %w", err)
		}
	}

	return nil
}

func (r *PostgresRepository) ListRules(ctx context.Context, userID int64) ([]rules.Rule, error) {
	query := `
		SELECT id, group_id, user_id, name, trigger_type, rule_order, is_active,
		       stop_processing, expression, version, created_at, updated_at
		FROM rules
		WHERE user_id = $1
		ORDER BY group_id ASC, rule_order ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var out []rules.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) GetRule(ctx context.Context, userID, ruleID int64) (*rules.Rule, error) {
	query := `
		SELECT id, group_id, user_id, name, trigger_type, rule_order, is_active,
		       stop_processing, expression, version, created_at, updated_at
		FROM rules
		WHERE id = $1 AND user_id = $2
	`

	rows, err := r.db.QueryContext(ctx, query, ruleID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rule: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to get rule: %w", err)
		}
		return nil, nil
	}

	rule, err := scanRule(rows)
	if err != nil {
		return nil, err
	}
	rows.Close()

	if err := r.loadChildren(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

func scanRule(rows *sql.Rows) (*rules.Rule, error) {
	var rule rules.Rule
	var expression sql.NullString
	if err := rows.Scan(
		&rule.ID, &rule.GroupID, &rule.UserID, &rule.Name, &rule.TriggerType,
		&rule.Order, &rule.IsActive, &rule.StopProcessing, &expression,
		&rule.Version, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to scan rule: %w", err)
	}
	rule.Expression = expression.String
	return &rule, nil
}

func (r *PostgresRepository) loadChildren(ctx context.Context, rule *rules.Rule) error {
	groupRows, err := r.db.QueryContext(ctx, `
		SELECT id, rule_id, logic_operator, group_order
		FROM condition_groups
		WHERE rule_id = $1
		ORDER BY group_order ASC, id ASC
	`, rule.ID)
	if err != nil {
		return fmt.Errorf("failed to query condition groups: %w", err)
	}
	defer groupRows.Close()

	for groupRows.Next() {
		var g rules.ConditionGroup
		if err := groupRows.Scan(&g.ID, &g.RuleID, &g.LogicOperator, &g.Order); err != nil {
			return fmt.Errorf("failed to scan condition group: %w", err)
		}
		rule.ConditionGroups = append(rule.ConditionGroups, g)
	}
	if err := groupRows.Err(); err != nil {
		return fmt.Errorf("rows iteration error: %w", err)
	}

	for gi := range rule.ConditionGroups {
		group := &rule.ConditionGroups[gi]
		condRows, err := r.db.QueryContext(ctx, `
			SELECT id, group_id, field, operator, value, is_case_sensitive, is_negated, condition_order
			FROM rule_conditions
			WHERE group_id = $1
			ORDER BY condition_order ASC, id ASC
		`, group.ID)
		if err != nil {
			return fmt.Errorf("failed to query conditions: %w", err)
		}
		for condRows.Next() {
			var c rules.RuleCondition
			if err := condRows.Scan(
				&c.ID, &c.GroupID, &c.Field, &c.Operator, &c.Value,
				&c.IsCaseSensitive, &c.IsNegated, &c.Order,
			); err != nil {
				condRows.Close()
				return fmt.Errorf("failed to scan condition: %w", err)
			}
			group.Conditions = append(group.Conditions, c)
		}
		if err := condRows.Err(); err != nil {
			condRows.Close()
			return fmt.Errorf("rows iteration error: %w", err)
		}
		condRows.Close()
	}

	actionRows, err := r.db.QueryContext(ctx, `
		SELECT id, rule_id, action_type, value, action_order, stop_processing
		FROM rule_actions
		WHERE rule_id = $1
		ORDER BY action_order ASC, id ASC
	`, rule.ID)
	if err != nil {
		return fmt.Errorf("failed to query actions: %w", err)
	}
	defer actionRows.Close()

	for actionRows.Next() {
		var a rules.RuleAction
		var value sql.NullString
		if err := actionRows.Scan(
			&a.ID, &a.RuleID, &a.ActionType, &value, &a.Order, &a.StopProcessing,
		); err != nil {
			return fmt.Errorf("failed to scan action: %w", err)
		}
		a.RawValue = value.String
		_ = a.Decode()
		rule.Actions = append(rule.Actions, a)
	}
	if err := actionRows.Err(); err != nil {
		return fmt.Errorf("rows iteration error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) DeleteRule(ctx context.Context, userID, ruleID int64) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM rules WHERE id = $1 AND user_id = $2`, ruleID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return requireAffected(result, "rule")
}

func requireAffected(result sql.Result, entity string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%s not found", entity)
	}
	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
