package processing

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/andrejvysny/spendly-sub003/internal/logger"
	"github.com/andrejvysny/spendly-sub003/internal/rules"
	"github.com/andrejvysny/spendly-sub003/pkg/logging"
	"github.com/andrejvysny/spendly-sub003/pkg/models"
)

// EventHandler consumes transaction lifecycle events and feeds them into
// a live processing run. Returning an error hands the message to the
// consumer's retry/DLQ machinery.
type EventHandler struct {
	service Service
	log     logger.Logger
}

func NewEventHandler(service Service, log logger.Logger) *EventHandler {
	return &EventHandler{
		service: service,
		log:     log,
	}
}

func (h *EventHandler) Handle(ctx context.Context, msg models.MessageEnvelope) error {
	switch msg.EventType {
	case models.EventTypeTransactionCreated:
		return h.handleTransaction(ctx, msg, rules.TriggerCreated)
	case models.EventTypeTransactionUpdated:
		return h.handleTransaction(ctx, msg, rules.TriggerUpdated)
	default:
		h.log.DebugwCtx(ctx, "Ignoring event of unknown type",
			"event_type", msg.EventType,
			"message_id", msg.ID,
		)
		return nil
	}
}

func (h *EventHandler) handleTransaction(ctx context.Context, msg models.MessageEnvelope, trigger rules.TriggerType) error {
	var event models.TransactionEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return fmt.Errorf("failed to decode transaction event: %w", err)
	}
	if event.Transaction == nil || event.Transaction.ID == 0 {
		return fmt.Errorf("transaction event %s carries no transaction", msg.ID)
	}

	ctx = logging.WithUserID(ctx, event.UserID)
	ctx = logging.WithTransactionID(ctx, event.Transaction.ID)

	// The transaction is reloaded from the store rather than trusted from
	// the event payload, so stale producers cannot overwrite newer data.
	summary, err := h.service.ProcessTransactions(ctx, event.UserID, []int64{event.Transaction.ID}, trigger, false)
	if err != nil {
		return fmt.Errorf("failed to process transaction %d: %w", event.Transaction.ID, err)
	}

	h.log.InfowCtx(ctx, "Processed transaction event",
		"trigger", trigger,
		"matched", summary.MatchedCount > 0,
	)
	return nil
}
