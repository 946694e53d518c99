package management

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/andrejvysny/spendly-sub003/internal/broker"
	"github.com/andrejvysny/spendly-sub003/internal/logger"
	"github.com/andrejvysny/spendly-sub003/pkg/models"
)

// RuleChangeProducer publishes rule change events so processing
// instances can invalidate any rule state they hold. Publishing is
// best effort: a failed publish is logged, never surfaced to the API
// caller, the write already committed.
type RuleChangeProducer struct {
	producer broker.Producer
	topic    string
	log      logger.Logger
}

func NewRuleChangeProducer(producer broker.Producer, topic string, log logger.Logger) *RuleChangeProducer {
	return &RuleChangeProducer{
		producer: producer,
		topic:    topic,
		log:      log,
	}
}

func (p *RuleChangeProducer) Publish(ctx context.Context, event models.RuleChangeEvent) {
	if p == nil || p.producer == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	msg, err := models.NewEnvelope(uuid.New().String(), "rule-engine", models.EventTypeRuleChanged, event)
	if err != nil {
		p.log.ErrorwCtx(ctx, "Failed to build rule change event", "error", err, "rule_id", event.RuleID)
		return
	}
	msg.Metadata.UserID = event.UserID

	if err := p.producer.Publish(ctx, p.topic, msg); err != nil {
		p.log.ErrorwCtx(ctx, "Failed to publish rule change event",
			"error", err, "action", event.Action, "rule_id", event.RuleID)
		return
	}

	p.log.DebugwCtx(ctx, "Published rule change event",
		"action", event.Action, "rule_id", event.RuleID, "version", event.Version)
}
