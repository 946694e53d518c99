package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/andrejvysny/spendly-sub003/internal/logger"
	"github.com/andrejvysny/spendly-sub003/pkg/errors"
	"github.com/andrejvysny/spendly-sub003/pkg/models"
)

// EntityResolver resolves and creates user-scoped categories, merchants
// and tags. Every lookup is keyed by the owning user; an id that exists
// but belongs to another user must come back as ErrNotFound.
type EntityResolver interface {
	ResolveCategory(ctx context.Context, userID, categoryID int64) (string, error)
	ResolveMerchant(ctx context.Context, userID, merchantID int64) (string, error)
	ResolveTag(ctx context.Context, userID, tagID int64) (string, error)

	FindCategoryByName(ctx context.Context, userID int64, name string) (int64, bool, error)
	FindMerchantByName(ctx context.Context, userID int64, name string) (int64, bool, error)
	FindTagByName(ctx context.Context, userID int64, name string) (int64, bool, error)

	CreateCategory(ctx context.Context, userID int64, name string) (int64, error)
	CreateMerchant(ctx context.Context, userID int64, name string) (int64, error)
	CreateTag(ctx context.Context, userID int64, name string) (int64, error)
}

// Notifier delivers fire-and-forget rule notifications. Delivery failures
// never fail the action.
type Notifier interface {
	Notify(ctx context.Context, event models.NotificationEvent)
}

type Executor struct {
	resolver EntityResolver
	notifier Notifier
	log      logger.Logger
}

func NewExecutor(resolver EntityResolver, notifier Notifier, log logger.Logger) *Executor {
	return &Executor{
		resolver: resolver,
		notifier: notifier,
		log:      log,
	}
}

// ExecOptions controls a single action application. In a dry run the
// transaction passed in is a scratch copy; actions mutate it so later
// rules in the same run see consistent state, but nothing is created in
// the datastore and no notification is sent.
type ExecOptions struct {
	DryRun bool
}

// Execute applies one action to the transaction and reports success. It
// never returns an error to the engine; failures are collapsed into the
// outcome, with the cause kept in Detail for the execution log.
func (x *Executor) Execute(ctx context.Context, rule *Rule, action RuleAction, tx *models.Transaction, opts ExecOptions) ActionOutcome {
	outcome := ActionOutcome{
		ActionID:    action.ID,
		ActionType:  action.ActionType,
		Description: x.Describe(ctx, tx.UserID, action),
	}

	detail, err := x.execute(ctx, rule, action, tx, opts)
	if err != nil {
		x.log.DebugwCtx(ctx, "Rule action failed",
			"rule_id", rule.ID,
			"action_id", action.ID,
			"action_type", action.ActionType,
			"transaction_id", tx.ID,
			"error", err,
		)
		outcome.Success = false
		outcome.Detail = err.Error()
		return outcome
	}

	outcome.Success = true
	outcome.Detail = detail
	return outcome
}

func (x *Executor) execute(ctx context.Context, rule *Rule, action RuleAction, tx *models.Transaction, opts ExecOptions) (string, error) {
	switch action.ActionType {
	case ActionSetCategory:
		return x.setCategory(ctx, action, tx)
	case ActionSetMerchant:
		return x.setMerchant(ctx, action, tx)
	case ActionAddTag:
		return x.addTag(ctx, action, tx)
	case ActionRemoveTag:
		return x.removeTag(ctx, action, tx)

	case ActionSetDescription, ActionAppendDescription, ActionPrependDescription:
		text, ok := action.Value.Text()
		if !ok {
			return "", fmt.Errorf("action %s has no text value", action.ActionType)
		}
		tx.Description = applyTextEdit(action.ActionType, tx.Description, text)
		return "", nil

	case ActionSetNote, ActionAppendNote, ActionPrependNote:
		text, ok := action.Value.Text()
		if !ok {
			return "", fmt.Errorf("action %s has no text value", action.ActionType)
		}
		tx.Note = applyTextEdit(action.ActionType, tx.Note, text)
		return "", nil

	case ActionSetType:
		text, ok := action.Value.Text()
		if !ok {
			return "", fmt.Errorf("action %s has no text value", action.ActionType)
		}
		t := strings.ToUpper(strings.TrimSpace(text))
		if !models.ValidTransactionType(t) {
			return "", fmt.Errorf("invalid transaction type: %q", text)
		}
		tx.Type = t
		return "", nil

	case ActionCreateCategoryIfNotExists:
		return x.createCategoryIfNotExists(ctx, action, tx, opts)
	case ActionCreateMerchantIfNotExists:
		return x.createMerchantIfNotExists(ctx, action, tx, opts)
	case ActionCreateTagIfNotExists:
		return x.createTagIfNotExists(ctx, action, tx, opts)

	case ActionSendNotification:
		text, _ := action.Value.Text()
		if !opts.DryRun && x.notifier != nil {
			x.notifier.Notify(ctx, models.NotificationEvent{
				UserID:        tx.UserID,
				RuleID:        rule.ID,
				RuleName:      rule.Name,
				TransactionID: tx.ID,
				Message:       text,
				Timestamp:     time.Now().UTC(),
			})
		}
		return "", nil

	case ActionRemoveAllTags:
		tx.Tags = nil
		return "", nil

	case ActionMarkReconciled:
		tx.Reconciled = true
		return "", nil
	}

	return "", fmt.Errorf("unknown action type: %s", action.ActionType)
}

func (x *Executor) setCategory(ctx context.Context, action RuleAction, tx *models.Transaction) (string, error) {
	id, ok := action.Value.Identifier()
	if !ok {
		return "", fmt.Errorf("action %s has no identifier value", action.ActionType)
	}
	name, err := x.resolver.ResolveCategory(ctx, tx.UserID, id)
	if err != nil {
		return "", fmt.Errorf("category %d: %w", id, err)
	}
	tx.CategoryID = &id
	tx.CategoryName = name
	return name, nil
}

func (x *Executor) setMerchant(ctx context.Context, action RuleAction, tx *models.Transaction) (string, error) {
	id, ok := action.Value.Identifier()
	if !ok {
		return "", fmt.Errorf("action %s has no identifier value", action.ActionType)
	}
	name, err := x.resolver.ResolveMerchant(ctx, tx.UserID, id)
	if err != nil {
		return "", fmt.Errorf("merchant %d: %w", id, err)
	}
	tx.MerchantID = &id
	tx.MerchantName = name
	return name, nil
}

// addTag is idempotent: attaching an already-present tag is a success
// with no state change.
func (x *Executor) addTag(ctx context.Context, action RuleAction, tx *models.Transaction) (string, error) {
	id, ok := action.Value.Identifier()
	if !ok {
		return "", fmt.Errorf("action %s has no identifier value", action.ActionType)
	}
	name, err := x.resolver.ResolveTag(ctx, tx.UserID, id)
	if err != nil {
		return "", fmt.Errorf("tag %d: %w", id, err)
	}
	if !tx.HasTag(name) {
		tx.Tags = append(tx.Tags, name)
	}
	return name, nil
}

// removeTag is idempotent: detaching an absent tag is a success.
func (x *Executor) removeTag(ctx context.Context, action RuleAction, tx *models.Transaction) (string, error) {
	id, ok := action.Value.Identifier()
	if !ok {
		return "", fmt.Errorf("action %s has no identifier value", action.ActionType)
	}
	name, err := x.resolver.ResolveTag(ctx, tx.UserID, id)
	if err != nil {
		return "", fmt.Errorf("tag %d: %w", id, err)
	}
	for i, tag := range tx.Tags {
		if tag == name {
			tx.Tags = append(tx.Tags[:i], tx.Tags[i+1:]...)
			break
		}
	}
	return name, nil
}

func (x *Executor) createCategoryIfNotExists(ctx context.Context, action RuleAction, tx *models.Transaction, opts ExecOptions) (string, error) {
	name, ok := action.Value.Text()
	if !ok {
		return "", fmt.Errorf("action %s has no text value", action.ActionType)
	}
	name = strings.TrimSpace(name)

	id, found, err := x.resolver.FindCategoryByName(ctx, tx.UserID, name)
	if err != nil {
		return "", fmt.Errorf("category lookup %q: %w", name, err)
	}
	if !found {
		if opts.DryRun {
			tx.CategoryID = nil
			tx.CategoryName = name
			return "would create category " + name, nil
		}
		id, err = x.resolver.CreateCategory(ctx, tx.UserID, name)
		if err != nil {
			return "", fmt.Errorf("create category %q: %w", name, err)
		}
	}
	tx.CategoryID = &id
	tx.CategoryName = name
	return name, nil
}

func (x *Executor) createMerchantIfNotExists(ctx context.Context, action RuleAction, tx *models.Transaction, opts ExecOptions) (string, error) {
	name, ok := action.Value.Text()
	if !ok {
		return "", fmt.Errorf("action %s has no text value", action.ActionType)
	}
	name = strings.TrimSpace(name)

	id, found, err := x.resolver.FindMerchantByName(ctx, tx.UserID, name)
	if err != nil {
		return "", fmt.Errorf("merchant lookup %q: %w", name, err)
	}
	if !found {
		if opts.DryRun {
			tx.MerchantID = nil
			tx.MerchantName = name
			return "would create merchant " + name, nil
		}
		id, err = x.resolver.CreateMerchant(ctx, tx.UserID, name)
		if err != nil {
			return "", fmt.Errorf("create merchant %q: %w", name, err)
		}
	}
	tx.MerchantID = &id
	tx.MerchantName = name
	return name, nil
}

func (x *Executor) createTagIfNotExists(ctx context.Context, action RuleAction, tx *models.Transaction, opts ExecOptions) (string, error) {
	name, ok := action.Value.Text()
	if !ok {
		return "", fmt.Errorf("action %s has no text value", action.ActionType)
	}
	name = strings.TrimSpace(name)

	_, found, err := x.resolver.FindTagByName(ctx, tx.UserID, name)
	if err != nil {
		return "", fmt.Errorf("tag lookup %q: %w", name, err)
	}
	if !found && !opts.DryRun {
		if _, err := x.resolver.CreateTag(ctx, tx.UserID, name); err != nil {
			return "", fmt.Errorf("create tag %q: %w", name, err)
		}
	}
	if !tx.HasTag(name) {
		tx.Tags = append(tx.Tags, name)
	}
	if !found && opts.DryRun {
		return "would create tag " + name, nil
	}
	return name, nil
}

func applyTextEdit(actionType ActionType, current, value string) string {
	switch actionType {
	case ActionAppendDescription, ActionAppendNote:
		if current == "" {
			return value
		}
		return current + " " + value
	case ActionPrependDescription, ActionPrependNote:
		if current == "" {
			return value
		}
		return value + " " + current
	default:
		return value
	}
}

// ValidateActionValue pre-checks a raw value for an action type without
// executing it. Used by the management API before persisting a rule.
func ValidateActionValue(actionType ActionType, raw string) error {
	if !ValidActionType(actionType) {
		return errors.ErrValidation.WithDetail("message", fmt.Sprintf("unknown action type: %s", actionType))
	}
	value, err := ParseActionValue(actionType, raw)
	if err != nil {
		return errors.ErrValidation.WithDetail("message", err.Error()).WithCause(err)
	}
	if actionType == ActionSetType {
		text, _ := value.Text()
		if !models.ValidTransactionType(strings.ToUpper(strings.TrimSpace(text))) {
			return errors.ErrValidation.WithDetail("message", fmt.Sprintf("invalid transaction type: %q", text))
		}
	}
	return nil
}

// Describe renders a human-readable summary of a configured action for
// audit and UI display, resolving referenced entity names where possible.
func (x *Executor) Describe(ctx context.Context, userID int64, action RuleAction) string {
	switch action.ActionType {
	case ActionSetCategory:
		if id, ok := action.Value.Identifier(); ok {
			if name, err := x.resolver.ResolveCategory(ctx, userID, id); err == nil {
				return "Set category to " + name
			}
			return fmt.Sprintf("Set category to #%d", id)
		}
	case ActionSetMerchant:
		if id, ok := action.Value.Identifier(); ok {
			if name, err := x.resolver.ResolveMerchant(ctx, userID, id); err == nil {
				return "Set merchant to " + name
			}
			return fmt.Sprintf("Set merchant to #%d", id)
		}
	case ActionAddTag:
		if id, ok := action.Value.Identifier(); ok {
			if name, err := x.resolver.ResolveTag(ctx, userID, id); err == nil {
				return "Add tag " + name
			}
			return fmt.Sprintf("Add tag #%d", id)
		}
	case ActionRemoveTag:
		if id, ok := action.Value.Identifier(); ok {
			if name, err := x.resolver.ResolveTag(ctx, userID, id); err == nil {
				return "Remove tag " + name
			}
			return fmt.Sprintf("Remove tag #%d", id)
		}
	case ActionSetDescription:
		text, _ := action.Value.Text()
		return fmt.Sprintf("Set description to %q", text)
	case ActionAppendDescription:
		text, _ := action.Value.Text()
		return fmt.Sprintf("Append %q to description", text)
	case ActionPrependDescription:
		text, _ := action.Value.Text()
		return fmt.Sprintf("Prepend %q to description", text)
	case ActionSetNote:
		text, _ := action.Value.Text()
		return fmt.Sprintf("Set note to %q", text)
	case ActionAppendNote:
		text, _ := action.Value.Text()
		return fmt.Sprintf("Append %q to note", text)
	case ActionPrependNote:
		text, _ := action.Value.Text()
		return fmt.Sprintf("Prepend %q to note", text)
	case ActionSetType:
		text, _ := action.Value.Text()
		return "Set type to " + strings.ToUpper(strings.TrimSpace(text))
	case ActionCreateCategoryIfNotExists:
		text, _ := action.Value.Text()
		return fmt.Sprintf("Set category to %q, creating it if missing", text)
	case ActionCreateMerchantIfNotExists:
		text, _ := action.Value.Text()
		return fmt.Sprintf("Set merchant to %q, creating it if missing", text)
	case ActionCreateTagIfNotExists:
		text, _ := action.Value.Text()
		return fmt.Sprintf("Add tag %q, creating it if missing", text)
	case ActionSendNotification:
		return "Send notification"
	case ActionRemoveAllTags:
		return "Remove all tags"
	case ActionMarkReconciled:
		return "Mark reconciled"
	}
	return string(action.ActionType)
}
