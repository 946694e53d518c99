package management

import (
	"context"

	"github.com/andrejvysny/spendly-sub003/internal/execlog"
	"github.com/andrejvysny/spendly-sub003/internal/rules"
)

type Service interface {
	CreateRuleGroup(ctx context.Context, userID int64, req CreateRuleGroupRequest) (*rules.RuleGroup, error)
	ListRuleGroups(ctx context.Context, userID int64) ([]rules.RuleGroup, error)
	GetRuleGroup(ctx context.Context, userID, groupID int64) (*rules.RuleGroup, error)
	UpdateRuleGroup(ctx context.Context, userID, groupID int64, req UpdateRuleGroupRequest) (*rules.RuleGroup, error)
	DeleteRuleGroup(ctx context.Context, userID, groupID int64) error

	CreateRule(ctx context.Context, userID int64, req CreateRuleRequest) (*rules.Rule, error)
	ListRules(ctx context.Context, userID int64) ([]rules.Rule, error)
	GetRule(ctx context.Context, userID, ruleID int64) (*rules.Rule, error)
	UpdateRule(ctx context.Context, userID, ruleID int64, req UpdateRuleRequest) (*rules.Rule, error)
	DeleteRule(ctx context.Context, userID, ruleID int64) error
	ToggleRule(ctx context.Context, userID, ruleID int64) (*rules.Rule, error)

	GetRuleVersions(ctx context.Context, userID, ruleID int64) ([]RuleVersion, error)
	GetAuditLogs(ctx context.Context, userID int64, ruleID *int64, limit int) ([]AuditLog, error)
	GetRuleStats(ctx context.Context, userID, ruleID int64) (*execlog.RuleStats, error)
}

// Repository is the write side of rule storage. Rules are stored as an
// aggregate: condition groups, conditions and actions are replaced
// wholesale on update inside one database transaction.
type Repository interface {
	CreateRuleGroup(ctx context.Context, group *rules.RuleGroup) error
	ListRuleGroups(ctx context.Context, userID int64) ([]rules.RuleGroup, error)
	GetRuleGroup(ctx context.Context, userID, groupID int64) (*rules.RuleGroup, error)
	UpdateRuleGroup(ctx context.Context, group *rules.RuleGroup) error
	DeleteRuleGroup(ctx context.Context, userID, groupID int64) error

	CreateRule(ctx context.Context, rule *rules.Rule) error
	ListRules(ctx context.Context, userID int64) ([]rules.Rule, error)
	GetRule(ctx context.Context, userID, ruleID int64) (*rules.Rule, error)
	UpdateRule(ctx context.Context, rule *rules.Rule) error
	DeleteRule(ctx context.Context, userID, ruleID int64) error
}
