package management

import (
	"context"
	"time"

	"github.com/andrejvysny/spendly-sub003/internal/execlog"
	"github.com/andrejvysny/spendly-sub003/internal/logger"
	"github.com/andrejvysny/spendly-sub003/internal/rules"
	"github.com/andrejvysny/spendly-sub003/pkg/errors"
	"github.com/andrejvysny/spendly-sub003/pkg/models"
)

type service struct {
	repo       Repository
	validator  *Validator
	versioning VersioningRepository
	events     *RuleChangeProducer
	logs       execlog.Repository
	log        logger.Logger
}

type ServiceOption func(*service)

// WithVersioning enables rule snapshots and audit logging on every write.
func WithVersioning(repo VersioningRepository) ServiceOption {
	return func(s *service) {
		s.versioning = repo
	}
}

// WithRuleChangeEvents publishes a rule change event after every
// successful write.
func WithRuleChangeEvents(producer *RuleChangeProducer) ServiceOption {
	return func(s *service) {
		s.events = producer
	}
}

// WithExecutionLogs backs GetRuleStats with the execution log store.
func WithExecutionLogs(repo execlog.Repository) ServiceOption {
	return func(s *service) {
		s.logs = repo
	}
}

func NewService(repo Repository, validator *Validator, log logger.Logger, opts ...ServiceOption) Service {
	s := &service{
		repo:      repo,
		validator: validator,
		logs:      execlog.NoopRepository{},
		log:       log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) CreateRuleGroup(ctx context.Context, userID int64, req CreateRuleGroupRequest) (*rules.RuleGroup, error) {
	group := &rules.RuleGroup{
		UserID:      userID,
		Name:        req.Name,
		Description: req.Description,
		Order:       req.Order,
		IsActive:    true,
	}
	if req.IsActive != nil {
		group.IsActive = *req.IsActive
	}

	if err := s.repo.CreateRuleGroup(ctx, group); err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal)
	}

	s.audit(ctx, userID, nil, models.ActionCreate, nil, map[string]interface{}{
		"group_id": group.ID, "name": group.Name,
	})
	s.log.InfowCtx(ctx, "Rule group created", "group_id", group.ID, "user_id", userID)
	return group, nil
}

func (s *service) ListRuleGroups(ctx context.Context, userID int64) ([]rules.RuleGroup, error) {
	groups, err := s.repo.ListRuleGroups(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal)
	}
	return groups, nil
}

func (s *service) GetRuleGroup(ctx context.Context, userID, groupID int64) (*rules.RuleGroup, error) {
	group, err := s.repo.GetRuleGroup(ctx, userID, groupID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal)
	}
	if group == nil {
		return nil, errors.ErrNotFound.WithDetail("rule_group", "rule group not found")
	}
	return group, nil
}

func (s *service) UpdateRuleGroup(ctx context.Context, userID, groupID int64, req UpdateRuleGroupRequest) (*rules.RuleGroup, error) {
	group, err := s.GetRuleGroup(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		group.Name = *req.Name
	}
	if req.Description != nil {
		group.Description = *req.Description
	}
	if req.Order != nil {
		group.Order = *req.Order
	}
	if req.IsActive != nil {
		group.IsActive = *req.IsActive
	}

	if err := s.repo.UpdateRuleGroup(ctx, group); err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal)
	}

	s.audit(ctx, userID, nil, models.ActionUpdate, nil, map[string]interface{}{
		"group_id": group.ID, "name": group.Name, "is_active": group.IsActive,
	})
	return group, nil
}

func (s *service) DeleteRuleGroup(ctx context.Context, userID, groupID int64) error {
	if err := s.repo.DeleteRuleGroup(ctx, userID, groupID); err != nil {
		return errors.ErrNotFound.WithDetail("rule_group", "rule group not found").WithCause(err)
	}

	s.audit(ctx, userID, nil, models.ActionDelete, map[string]interface{}{
		"group_id": groupID,
	}, nil)
	s.log.InfowCtx(ctx, "Rule group deleted", "group_id", groupID, "user_id", userID)
	return nil
}

func (s *service) CreateRule(ctx context.Context, userID int64, req CreateRuleRequest) (*rules.Rule, error) {
	if err := s.validator.ValidateCreateRule(req); err != nil {
		return nil, err
	}

	group, err := s.repo.GetRuleGroup(ctx, userID, req.GroupID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal)
	}
	if group == nil {
		return nil, errors.ErrValidation.WithDetail("group_id", "rule group not found")
	}

	rule := buildRule(userID, req)
	if err := s.repo.CreateRule(ctx, rule); err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal)
	}

	s.snapshot(ctx, rule)
	s.audit(ctx, userID, &rule.ID, models.ActionCreate, nil, map[string]interface{}{
		"name": rule.Name, "trigger_type": string(rule.TriggerType),
	})
	s.publishChange(ctx, models.ActionCreate, rule)

	s.log.InfowCtx(ctx, "Rule created", "rule_id", rule.ID, "user_id", userID, "trigger", rule.TriggerType)
	return rule, nil
}

func (s *service) ListRules(ctx context.Context, userID int64) ([]rules.Rule, error) {
	out, err := s.repo.ListRules(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal)
	}
	return out, nil
}

func (s *service) GetRule(ctx context.Context, userID, ruleID int64) (*rules.Rule, error) {
	rule, err := s.repo.GetRule(ctx, userID, ruleID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal)
	}
	if rule == nil {
		return nil, errors.ErrNotFound.WithDetail("rule", "rule not found")
	}
	return rule, nil
}

func (s *service) UpdateRule(ctx context.Context, userID, ruleID int64, req UpdateRuleRequest) (*rules.Rule, error) {
	rule, err := s.GetRule(ctx, userID, ruleID)
	if err != nil {
		return nil, err
	}
	oldName := rule.Name

	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.TriggerType != nil {
		rule.TriggerType = rules.TriggerType(*req.TriggerType)
	}
	if req.Order != nil {
		rule.Order = *req.Order
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if req.StopProcessing != nil {
		rule.StopProcessing = *req.StopProcessing
	}
	if req.Expression != nil {
		rule.Expression = *req.Expression
	}
	if req.ConditionGroups != nil {
		rule.ConditionGroups = buildConditionGroups(req.ConditionGroups)
	}
	if req.Actions != nil {
		rule.Actions = buildActions(req.Actions)
	}

	if err := s.validator.ValidateCreateRule(toCreateRequest(rule)); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateRule(ctx, rule); err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal)
	}

	s.snapshot(ctx, rule)
	s.audit(ctx, userID, &rule.ID, models.ActionUpdate,
		map[string]interface{}{"name": oldName},
		map[string]interface{}{"name": rule.Name, "version": rule.Version},
	)
	s.publishChange(ctx, models.ActionUpdate, rule)

	s.log.InfowCtx(ctx, "Rule updated", "rule_id", rule.ID, "user_id", userID, "version", rule.Version)
	return rule, nil
}

func (s *service) DeleteRule(ctx context.Context, userID, ruleID int64) error {
	rule, err := s.GetRule(ctx, userID, ruleID)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteRule(ctx, userID, ruleID); err != nil {
		return errors.Wrap(err, errors.ErrInternal)
	}

	s.audit(ctx, userID, &ruleID, models.ActionDelete, map[string]interface{}{
		"name": rule.Name,
	}, nil)
	s.publishChange(ctx, models.ActionDelete, rule)

	s.log.InfowCtx(ctx, "Rule deleted", "rule_id", ruleID, "user_id", userID)
	return nil
}

func (s *service) ToggleRule(ctx context.Context, userID, ruleID int64) (*rules.Rule, error) {
	rule, err := s.GetRule(ctx, userID, ruleID)
	if err != nil {
		return nil, err
	}

	rule.IsActive = !rule.IsActive
	if err := s.repo.UpdateRule(ctx, rule); err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal)
	}

	s.audit(ctx, userID, &rule.ID, models.ActionToggle,
		map[string]interface{}{"is_active": !rule.IsActive},
		map[string]interface{}{"is_active": rule.IsActive},
	)
	s.publishChange(ctx, models.ActionToggle, rule)
	return rule, nil
}

func (s *service) GetRuleVersions(ctx context.Context, userID, ruleID int64) ([]RuleVersion, error) {
	if s.versioning == nil {
		return nil, errors.ErrNotFound.WithDetail("versions", "versioning is not enabled")
	}
	versions, err := s.versioning.GetVersions(ctx, userID, ruleID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal)
	}
	return versions, nil
}

func (s *service) GetAuditLogs(ctx context.Context, userID int64, ruleID *int64, limit int) ([]AuditLog, error) {
	if s.versioning == nil {
		return nil, errors.ErrNotFound.WithDetail("audit", "audit logging is not enabled")
	}
	logs, err := s.versioning.GetAuditLogs(ctx, userID, ruleID, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal)
	}
	return logs, nil
}

func (s *service) GetRuleStats(ctx context.Context, userID, ruleID int64) (*execlog.RuleStats, error) {
	// Confirm ownership before touching the log store.
	if _, err := s.GetRule(ctx, userID, ruleID); err != nil {
		return nil, err
	}
	stats, err := s.logs.Stats(ctx, userID, ruleID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal)
	}
	return stats, nil
}

// snapshot and audit are best effort: the primary write already
// committed, a versioning failure must not fail the request.
func (s *service) snapshot(ctx context.Context, rule *rules.Rule) {
	if s.versioning == nil {
		return
	}

	data, err := ruleToJSON(rule)
	if err != nil {
		s.log.WarnwCtx(ctx, "Failed to serialize rule snapshot", "error", err, "rule_id", rule.ID)
		return
	}

	version := &RuleVersion{
		RuleID:   rule.ID,
		UserID:   rule.UserID,
		RuleData: data,
		Version:  rule.Version,
	}
	if err := s.versioning.CreateVersion(ctx, version); err != nil {
		s.log.WarnwCtx(ctx, "Failed to store rule snapshot", "error", err, "rule_id", rule.ID)
	}
}

func (s *service) audit(ctx context.Context, userID int64, ruleID *int64, action string, oldValue, newValue map[string]interface{}) {
	if s.versioning == nil {
		return
	}

	entry := &AuditLog{
		RuleID:   ruleID,
		UserID:   userID,
		Action:   action,
		OldValue: oldValue,
		NewValue: newValue,
	}
	if err := s.versioning.CreateAuditLog(ctx, entry); err != nil {
		s.log.WarnwCtx(ctx, "Failed to write audit log", "error", err, "action", action)
	}
}

func (s *service) publishChange(ctx context.Context, action string, rule *rules.Rule) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, models.RuleChangeEvent{
		Action:    action,
		RuleID:    rule.ID,
		GroupID:   rule.GroupID,
		UserID:    rule.UserID,
		Version:   rule.Version,
		Timestamp: time.Now().UTC(),
	})
}

func buildRule(userID int64, req CreateRuleRequest) *rules.Rule {
	rule := &rules.Rule{
		GroupID:         req.GroupID,
		UserID:          userID,
		Name:            req.Name,
		TriggerType:     rules.TriggerType(req.TriggerType),
		Order:           req.Order,
		IsActive:        true,
		StopProcessing:  req.StopProcessing,
		Expression:      req.Expression,
		ConditionGroups: buildConditionGroups(req.ConditionGroups),
		Actions:         buildActions(req.Actions),
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	return rule
}

func buildConditionGroups(reqs []CreateConditionGroupRequest) []rules.ConditionGroup {
	groups := make([]rules.ConditionGroup, 0, len(reqs))
	for _, cg := range reqs {
		group := rules.ConditionGroup{
			LogicOperator: rules.LogicOperator(cg.LogicOperator),
			Order:         cg.Order,
		}
		if group.LogicOperator == "" {
			group.LogicOperator = rules.LogicAnd
		}
		for _, c := range cg.Conditions {
			group.Conditions = append(group.Conditions, rules.RuleCondition{
				Field:           rules.ConditionField(c.Field),
				Operator:        rules.ConditionOperator(c.Operator),
				Value:           c.Value,
				IsCaseSensitive: c.IsCaseSensitive,
				IsNegated:       c.IsNegated,
				Order:           c.Order,
			})
		}
		groups = append(groups, group)
	}
	return groups
}

func buildActions(reqs []CreateActionRequest) []rules.RuleAction {
	actions := make([]rules.RuleAction, 0, len(reqs))
	for _, a := range reqs {
		action := rules.RuleAction{
			ActionType:     rules.ActionType(a.ActionType),
			RawValue:       a.Value,
			Order:          a.Order,
			StopProcessing: a.StopProcessing,
		}
		_ = action.Decode()
		actions = append(actions, action)
	}
	return actions
}

// toCreateRequest flattens an updated rule back into the request shape
// so create and update share one validation path.
func toCreateRequest(rule *rules.Rule) CreateRuleRequest {
	req := CreateRuleRequest{
		GroupID:        rule.GroupID,
		Name:           rule.Name,
		TriggerType:    string(rule.TriggerType),
		Order:          rule.Order,
		StopProcessing: rule.StopProcessing,
		Expression:     rule.Expression,
	}
	for _, cg := range rule.ConditionGroups {
		group := CreateConditionGroupRequest{
			LogicOperator: string(cg.LogicOperator),
			Order:         cg.Order,
		}
		for _, c := range cg.Conditions {
			group.Conditions = append(group.Conditions, CreateConditionRequest{
				Field:           string(c.Field),
				Operator:        string(c.Operator),
				Value:           c.Value,
				IsCaseSensitive: c.IsCaseSensitive,
				IsNegated:       c.IsNegated,
				Order:           c.Order,
			})
		}
		req.ConditionGroups = append(req.ConditionGroups, group)
	}
	for _, a := range rule.Actions {
		req.Actions = append(req.Actions, CreateActionRequest{
			ActionType:     string(a.ActionType),
			Value:          a.RawValue,
			Order:          a.Order,
			StopProcessing: a.StopProcessing,
		})
	}
	return req
}
