package rules

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// Repository is the read side of rule storage used by the engine:
// candidate selection for a processing run. Management CRUD lives in its
// own package.
type Repository interface {
	// ActiveRulesForTrigger returns active rules in active groups for the
	// user and trigger, ordered by group order then rule order, fully
	// hydrated with condition groups, conditions and actions.
	ActiveRulesForTrigger(ctx context.Context, userID int64, trigger TriggerType) ([]Rule, error)

	// RulesByIDs returns the given rules regardless of trigger type, in
	// group/rule order. Inactive rules and rules in inactive groups are
	// excluded.
	RulesByIDs(ctx context.Context, userID int64, ruleIDs []int64) ([]Rule, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) ActiveRulesForTrigger(ctx context.Context, userID int64, trigger TriggerType) ([]Rule, error) {
	query := `
		SELECT r.id, r.group_id, r.user_id, r.name, r.trigger_type, r.rule_order,
		       r.is_active, r.stop_processing, r.expression, r.version,
		       r.created_at, r.updated_at
		FROM rules r
		JOIN rule_groups g ON g.id = r.group_id
		WHERE r.user_id = $1
		  AND r.trigger_type = $2
		  AND r.is_active = true
		  AND g.is_active = true
		ORDER BY g.group_order ASC, r.rule_order ASC, r.id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, userID, string(trigger))
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	rules, err := scanRules(rows)
	if err != nil {
		return nil, err
	}

	return r.hydrate(ctx, rules)
}

func (r *PostgresRepository) RulesByIDs(ctx context.Context, userID int64, ruleIDs []int64) ([]Rule, error) {
	if len(ruleIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT r.id, r.group_id, r.user_id, r.name, r.trigger_type, r.rule_order,
		       r.is_active, r.stop_processing, r.expression, r.version,
		       r.created_at, r.updated_at
		FROM rules r
		JOIN rule_groups g ON g.id = r.group_id
		WHERE r.user_id = $1
		  AND r.id = ANY($2)
		  AND r.is_active = true
		  AND g.is_active = true
		ORDER BY g.group_order ASC, r.rule_order ASC, r.id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, userID, pq.Array(ruleIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	rules, err := scanRules(rows)
	if err != nil {
		return nil, err
	}

	return r.hydrate(ctx, rules)
}

func scanRules(rows *sql.Rows) ([]Rule, error) {
	var rules []Rule
	for rows.Next() {
		var rule Rule
		var expression sql.NullString
		if err := rows.Scan(
			&rule.ID,
			&rule.GroupID,
			&rule.UserID,
			&rule.Name,
			&rule.TriggerType,
			&rule.Order,
			&rule.IsActive,
			&rule.StopProcessing,
			&expression,
			&rule.Version,
			&rule.CreatedAt,
			&rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rule.Expression = expression.String
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return rules, nil
}

// hydrate attaches condition groups, conditions and actions to the rules
// with two batched queries instead of one round-trip per rule.
func (r *PostgresRepository) hydrate(ctx context.Context, rules []Rule) ([]Rule, error) {
	if len(rules) == 0 {
		return rules, nil
	}

	ruleIDs := make([]int64, len(rules))
	index := make(map[int64]*Rule, len(rules))
	for i := range rules {
		ruleIDs[i] = rules[i].ID
		index[rules[i].ID] = &rules[i]
	}

	if err := r.loadConditionGroups(ctx, ruleIDs, index); err != nil {
		return nil, err
	}
	if err := r.loadActions(ctx, ruleIDs, index); err != nil {
		return nil, err
	}

	return rules, nil
}

func (r *PostgresRepository) loadConditionGroups(ctx context.Context, ruleIDs []int64, index map[int64]*Rule) error {
	groupQuery := `
		SELECT id, rule_id, logic_operator, group_order
		FROM condition_groups
		WHERE rule_id = ANY($1)
		ORDER BY rule_id ASC, group_order ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, groupQuery, pq.Array(ruleIDs))
	if err != nil {
		return fmt.Errorf("failed to query condition groups: %w", err)
	}
	defer rows.Close()

	var groupIDs []int64
	for rows.Next() {
		var g ConditionGroup
		if err := rows.Scan(&g.ID, &g.RuleID, &g.LogicOperator, &g.Order); err != nil {
			return fmt.Errorf("failed to scan condition group: %w", err)
		}
		rule, ok := index[g.RuleID]
		if !ok {
			continue
		}
		rule.ConditionGroups = append(rule.ConditionGroups, g)
		groupIDs = append(groupIDs, g.ID)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows iteration error: %w", err)
	}

	if len(groupIDs) == 0 {
		return nil
	}

	condQuery := `
		SELECT id, group_id, field, operator, value, is_case_sensitive, is_negated, condition_order
		FROM rule_conditions
		WHERE group_id = ANY($1)
		ORDER BY group_id ASC, condition_order ASC, id ASC
	`

	condRows, err := r.db.QueryContext(ctx, condQuery, pq.Array(groupIDs))
	if err != nil {
		return fmt.Errorf("failed to query conditions: %w", err)
	}
	defer condRows.Close()

	condsByGroup := make(map[int64][]RuleCondition)
	for condRows.Next() {
		var c RuleCondition
		if err := condRows.Scan(
			&c.ID,
			&c.GroupID,
			&c.Field,
			&c.Operator,
			&c.Value,
			&c.IsCaseSensitive,
			&c.IsNegated,
			&c.Order,
		); err != nil {
			return fmt.Errorf("failed to scan condition: %w", err)
		}
		condsByGroup[c.GroupID] = append(condsByGroup[c.GroupID], c)
	}
	if err := condRows.Err(); err != nil {
		return fmt.Errorf("rows iteration error: %w", err)
	}

	// Attach only after every group slice has reached its final length;
	// pointers taken into a slice that is still growing go stale on
	// reallocation.
	for _, rule := range index {
		for gi := range rule.ConditionGroups {
			group := &rule.ConditionGroups[gi]
			group.Conditions = condsByGroup[group.ID]
		}
	}

	return nil
}

func (r *PostgresRepository) loadActions(ctx context.Context, ruleIDs []int64, index map[int64]*Rule) error {
	query := `
		SELECT id, rule_id, action_type, value, action_order, stop_processing
		FROM rule_actions
		WHERE rule_id = ANY($1)
		ORDER BY rule_id ASC, action_order ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(ruleIDs))
	if err != nil {
		return fmt.Errorf("failed to query actions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a RuleAction
		var value sql.NullString
		if err := rows.Scan(
			&a.ID,
			&a.RuleID,
			&a.ActionType,
			&value,
			&a.Order,
			&a.StopProcessing,
		); err != nil {
			return fmt.Errorf("failed to scan action: %w", err)
		}
		a.RawValue = value.String
		// A malformed stored value leaves Value unset, so the action fails
		// at execution time instead of poisoning the whole load.
		_ = a.Decode()
		if rule, ok := index[a.RuleID]; ok {
			rule.Actions = append(rule.Actions, a)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows iteration error: %w", err)
	}

	return nil
}
