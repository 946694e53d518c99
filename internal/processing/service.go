package processing

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/andrejvysny/spendly-sub003/internal/constants"
	"github.com/andrejvysny/spendly-sub003/internal/execlog"
	"github.com/andrejvysny/spendly-sub003/internal/logger"
	"github.com/andrejvysny/spendly-sub003/internal/rules"
	"github.com/andrejvysny/spendly-sub003/internal/transactions"
	"github.com/andrejvysny/spendly-sub003/pkg/errors"
	"github.com/andrejvysny/spendly-sub003/pkg/metrics"
	"github.com/andrejvysny/spendly-sub003/pkg/models"
)

// Service drives rule processing runs: it loads candidates, hands batches
// to the engine, persists mutations and execution logs, and reports
// metrics. The engine itself stays free of I/O.
type Service interface {
	ProcessTransactions(ctx context.Context, userID int64, transactionIDs []int64, trigger rules.TriggerType, dryRun bool) (*rules.ExecutionSummary, error)
	ProcessTransactionsForRules(ctx context.Context, userID int64, transactionIDs []int64, ruleIDs []int64, dryRun bool) (*rules.ExecutionSummary, error)
	ProcessDateRange(ctx context.Context, userID int64, start, end time.Time, ruleIDs []int64, dryRun bool) (*rules.ExecutionSummary, error)
	TestRule(ctx context.Context, userID int64, transactionIDs []int64, rule rules.Rule) (*rules.ExecutionSummary, error)
}

type service struct {
	engine    *rules.Engine
	ruleRepo  rules.Repository
	txRepo    transactions.Repository
	logRepo   execlog.Repository
	workers   int
	batchSize int
	log       logger.Logger
}

func NewService(
	engine *rules.Engine,
	ruleRepo rules.Repository,
	txRepo transactions.Repository,
	logRepo execlog.Repository,
	workers, batchSize int,
	log logger.Logger,
) Service {
	if workers <= 0 {
		workers = constants.DefaultEngineWorkers
	}
	if batchSize <= 0 {
		batchSize = constants.DefaultEngineBatchSize
	}
	return &service{
		engine:    engine,
		ruleRepo:  ruleRepo,
		txRepo:    txRepo,
		logRepo:   logRepo,
		workers:   workers,
		batchSize: batchSize,
		log:       log,
	}
}

func (s *service) ProcessTransactions(ctx context.Context, userID int64, transactionIDs []int64, trigger rules.TriggerType, dryRun bool) (*rules.ExecutionSummary, error) {
	if !rules.ValidTrigger(trigger) {
		return nil, errors.ErrValidation.WithDetail("trigger", fmt.Sprintf("unknown trigger type: %s", trigger))
	}

	candidates, err := s.ruleRepo.ActiveRulesForTrigger(ctx, userID, trigger)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal)
	}

	return s.run(ctx, userID, transactionIDs, candidates, trigger, dryRun, true)
}

func (s *service) ProcessTransactionsForRules(ctx context.Context, userID int64, transactionIDs []int64, ruleIDs []int64, dryRun bool) (*rules.ExecutionSummary, error) {
	if len(ruleIDs) == 0 {
		return nil, errors.ErrValidation.WithDetail("rule_ids", "at least one rule id is required")
	}

	candidates, err := s.ruleRepo.RulesByIDs(ctx, userID, ruleIDs)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal)
	}

	return s.run(ctx, userID, transactionIDs, candidates, rules.TriggerManual, dryRun, true)
}

func (s *service) ProcessDateRange(ctx context.Context, userID int64, start, end time.Time, ruleIDs []int64, dryRun bool) (*rules.ExecutionSummary, error) {
	if end.Before(start) {
		return nil, errors.ErrValidation.WithDetail("end", "end date precedes start date")
	}

	txs, err := s.txRepo.GetByDateRange(ctx, userID, start, end)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal)
	}

	var candidates []rules.Rule
	if len(ruleIDs) > 0 {
		candidates, err = s.ruleRepo.RulesByIDs(ctx, userID, ruleIDs)
	} else {
		candidates, err = s.ruleRepo.ActiveRulesForTrigger(ctx, userID, rules.TriggerManual)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal)
	}

	return s.runLoaded(ctx, txs, candidates, rules.TriggerManual, dryRun, true)
}

// TestRule evaluates an unsaved rule definition against real transactions
// in dry-run mode. Nothing is persisted, including execution logs.
func (s *service) TestRule(ctx context.Context, userID int64, transactionIDs []int64, rule rules.Rule) (*rules.ExecutionSummary, error) {
	rule.UserID = userID
	rule.IsActive = true
	for i := range rule.Actions {
		if err := rule.Actions[i].Decode(); err != nil {
			return nil, errors.ErrValidation.WithDetail("actions", err.Error()).WithCause(err)
		}
	}

	return s.run(ctx, userID, transactionIDs, []rules.Rule{rule}, rules.TriggerManual, true, false)
}

func (s *service) run(ctx context.Context, userID int64, transactionIDs []int64, candidates []rules.Rule, trigger rules.TriggerType, dryRun, persistLogs bool) (*rules.ExecutionSummary, error) {
	if len(transactionIDs) == 0 {
		return nil, errors.ErrValidation.WithDetail("transaction_ids", "at least one transaction id is required")
	}

	txs, err := s.txRepo.GetByIDs(ctx, userID, transactionIDs)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal)
	}

	return s.runLoaded(ctx, txs, candidates, trigger, dryRun, persistLogs)
}

// runLoaded splits the batch into chunks processed in parallel. Rules
// within one transaction always run sequentially; parallelism only
// crosses transaction boundaries, where no state is shared.
func (s *service) runLoaded(ctx context.Context, txs []*models.Transaction, candidates []rules.Rule, trigger rules.TriggerType, dryRun, persistLogs bool) (*rules.ExecutionSummary, error) {
	started := time.Now()
	opts := rules.RunOptions{Trigger: trigger, DryRun: dryRun}

	chunks := chunkTransactions(txs, s.batchSize)
	summaries := make([]*rules.ExecutionSummary, len(chunks))
	entryBatches := make([][]rules.ExecutionLogEntry, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			summary, entries := s.engine.Run(gctx, chunk, candidates, opts)
			summaries[i] = summary
			entryBatches[i] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := mergeSummaries(trigger, dryRun, started, summaries)

	var entries []rules.ExecutionLogEntry
	for _, batch := range entryBatches {
		entries = append(entries, batch...)
	}

	if err := s.persist(ctx, txs, summary, entries, dryRun, persistLogs); err != nil {
		return nil, err
	}

	metrics.ObserveProcessingDuration(time.Since(started), string(trigger), dryRun)
	s.log.InfowCtx(ctx, "Processing run finished",
		"trigger", trigger,
		"dry_run", dryRun,
		"transactions", summary.ProcessedCount,
		"matched", summary.MatchedCount,
		"duration_ms", summary.DurationMillis,
	)

	return summary, nil
}

// persist writes mutated transactions and execution log entries. Dry runs
// skip transaction writes but still record their (flagged) log entries;
// TestRule skips logs entirely.
func (s *service) persist(ctx context.Context, txs []*models.Transaction, summary *rules.ExecutionSummary, entries []rules.ExecutionLogEntry, dryRun, persistLogs bool) error {
	if !dryRun {
		mutated := make(map[int64]bool)
		for _, result := range summary.Results {
			if result.Mutated {
				mutated[result.TransactionID] = true
			}
		}
		for _, tx := range txs {
			if !mutated[tx.ID] {
				continue
			}
			if err := s.txRepo.SaveMutations(ctx, tx); err != nil {
				metrics.TransactionsProcessedTotal.WithLabelValues(string(summary.Trigger), "error").Inc()
				s.log.ErrorwCtx(ctx, "Failed to persist mutated transaction",
					"transaction_id", tx.ID,
					"user_id", tx.UserID,
					"error", err,
				)
				continue
			}
			metrics.TransactionsProcessedTotal.WithLabelValues(string(summary.Trigger), "mutated").Inc()
		}
	}

	if persistLogs {
		if err := s.logRepo.Record(ctx, entries); err != nil {
			// The run already happened; a failed audit write is logged, not
			// surfaced as a run failure.
			s.log.ErrorwCtx(ctx, "Failed to persist execution log entries",
				"entries", len(entries),
				"error", err,
			)
		}
	}

	return nil
}

func chunkTransactions(txs []*models.Transaction, size int) [][]*models.Transaction {
	if len(txs) == 0 {
		return nil
	}
	var chunks [][]*models.Transaction
	for start := 0; start < len(txs); start += size {
		end := start + size
		if end > len(txs) {
			end = len(txs)
		}
		chunks = append(chunks, txs[start:end])
	}
	return chunks
}

func mergeSummaries(trigger rules.TriggerType, dryRun bool, started time.Time, parts []*rules.ExecutionSummary) *rules.ExecutionSummary {
	merged := &rules.ExecutionSummary{
		Trigger:   trigger,
		DryRun:    dryRun,
		StartedAt: started.UTC(),
	}
	for _, part := range parts {
		if part == nil {
			continue
		}
		merged.ProcessedCount += part.ProcessedCount
		merged.MatchedCount += part.MatchedCount
		merged.Results = append(merged.Results, part.Results...)
	}
	merged.DurationMillis = time.Since(started).Milliseconds()
	return merged
}
