package rules

import (
	"context"
	"strconv"
	"time"

	"github.com/andrejvysny/spendly-sub003/internal/logger"
	"github.com/andrejvysny/spendly-sub003/pkg/cel"
	"github.com/andrejvysny/spendly-sub003/pkg/errors"
	"github.com/andrejvysny/spendly-sub003/pkg/metrics"
	"github.com/andrejvysny/spendly-sub003/pkg/models"
)

// Engine orchestrates rule evaluation over a batch of transactions. It
// performs no I/O itself: candidate rules and transactions are loaded by
// the caller, mutated transactions and execution log entries flow back
// for the caller to persist.
type Engine struct {
	evaluator *Evaluator
	executor  *Executor
	cel       *cel.Evaluator
	log       logger.Logger
}

func NewEngine(evaluator *Evaluator, executor *Executor, celEval *cel.Evaluator, log logger.Logger) *Engine {
	return &Engine{
		evaluator: evaluator,
		executor:  executor,
		cel:       celEval,
		log:       log,
	}
}

type RunOptions struct {
	Trigger TriggerType
	DryRun  bool
}

// Run evaluates every candidate rule against every transaction,
// sequentially per transaction so the stop_processing contract stays
// deterministic. Rules must arrive ordered (group order, then rule
// order); inactive rules are skipped without a log entry.
//
// In a dry run each transaction is processed on a scratch copy, so the
// caller's transactions are never mutated and repeated calls yield
// identical summaries.
func (e *Engine) Run(ctx context.Context, txs []*models.Transaction, candidates []Rule, opts RunOptions) (*ExecutionSummary, []ExecutionLogEntry) {
	started := time.Now()

	summary := &ExecutionSummary{
		Trigger:   opts.Trigger,
		DryRun:    opts.DryRun,
		StartedAt: started.UTC(),
		Results:   make([]TransactionResult, 0, len(txs)),
	}
	var entries []ExecutionLogEntry

	for _, tx := range txs {
		result, txEntries := e.processTransaction(ctx, tx, candidates, opts)
		summary.Results = append(summary.Results, result)
		entries = append(entries, txEntries...)

		summary.ProcessedCount++
		for _, r := range result.Rules {
			if r.Matched {
				summary.MatchedCount++
				break
			}
		}
	}

	summary.DurationMillis = time.Since(started).Milliseconds()
	return summary, entries
}

// processTransaction runs all candidate rules against one transaction.
// A panic while processing one transaction is caught and reported in the
// result so the rest of the batch continues.
func (e *Engine) processTransaction(ctx context.Context, tx *models.Transaction, candidates []Rule, opts RunOptions) (result TransactionResult, entries []ExecutionLogEntry) {
	result = TransactionResult{TransactionID: tx.ID}

	defer func() {
		if r := recover(); r != nil {
			err := errors.RecoverPanic(r)
			e.log.ErrorwCtx(ctx, "Panic while processing transaction, continuing with batch",
				"transaction_id", tx.ID,
				"user_id", tx.UserID,
				"trigger", opts.Trigger,
				"error", err,
			)
			result.Error = err.Error()
		}
	}()

	target := tx
	if opts.DryRun {
		target = tx.Clone()
	}

	for i := range candidates {
		rule := &candidates[i]
		if !rule.IsActive {
			continue
		}

		matched := e.ruleMatches(ctx, rule, target)
		metrics.RulesEvaluatedTotal.WithLabelValues(string(opts.Trigger), strconv.FormatBool(matched)).Inc()

		outcome := RuleOutcome{
			RuleID:   rule.ID,
			RuleName: rule.Name,
			Matched:  matched,
		}

		if matched {
			outcome.Actions = e.executeActions(ctx, rule, target, opts)
			if !opts.DryRun && anyStateChange(outcome.Actions) {
				result.Mutated = true
			}
		}

		result.Rules = append(result.Rules, outcome)
		entries = append(entries, ExecutionLogEntry{
			RuleID:          rule.ID,
			TransactionID:   tx.ID,
			UserID:          tx.UserID,
			Matched:         matched,
			ActionsExecuted: outcome.Actions,
			Context: map[string]interface{}{
				"trigger": string(opts.Trigger),
				"dry_run": opts.DryRun,
			},
			CreatedAt: time.Now().UTC(),
		})

		// A matching stop_processing rule ends evaluation for this
		// transaction. Skipped rules get no log entry: they were never
		// evaluated in this run.
		if matched && rule.StopProcessing {
			break
		}
	}

	return result, entries
}

// ruleMatches combines the condition groups (AND across groups) with the
// rule's optional CEL expression. A malformed expression makes the rule
// inert, mirroring the condition evaluator's failure policy.
func (e *Engine) ruleMatches(ctx context.Context, rule *Rule, tx *models.Transaction) bool {
	if !e.evaluator.RuleConditionsMatch(rule, tx) {
		return false
	}

	if rule.Expression == "" {
		return true
	}
	if e.cel == nil {
		e.log.WarnwCtx(ctx, "Rule has expression but no CEL evaluator is configured, treating as no match",
			"rule_id", rule.ID,
		)
		return false
	}

	matched, err := e.cel.Evaluate(ctx, rule.Expression, tx)
	if err != nil {
		e.log.DebugwCtx(ctx, "Rule expression evaluation failed, treating as no match",
			"rule_id", rule.ID,
			"error", err,
		)
		return false
	}
	return matched
}

// executeActions applies the rule's actions in order. A failing action
// aborts the remainder only when its own stop_processing flag is set.
func (e *Engine) executeActions(ctx context.Context, rule *Rule, tx *models.Transaction, opts RunOptions) []ActionOutcome {
	outcomes := make([]ActionOutcome, 0, len(rule.Actions))

	for _, action := range rule.Actions {
		outcome := e.executor.Execute(ctx, rule, action, tx, ExecOptions{DryRun: opts.DryRun})
		outcomes = append(outcomes, outcome)

		metrics.ActionsExecutedTotal.WithLabelValues(string(action.ActionType), statusLabel(outcome.Success)).Inc()

		if !outcome.Success && action.StopProcessing {
			e.log.DebugwCtx(ctx, "Action failed with stop_processing set, skipping remaining actions",
				"rule_id", rule.ID,
				"action_id", action.ID,
				"transaction_id", tx.ID,
			)
			break
		}
	}

	return outcomes
}

// anyStateChange reports whether at least one action succeeded and
// touches transaction state. Failed actions and notifications leave the
// transaction as it was, so they never flag it for persistence.
func anyStateChange(outcomes []ActionOutcome) bool {
	for _, o := range outcomes {
		if o.Success && o.ActionType != ActionSendNotification {
			return true
		}
	}
	return false
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
