package processing

import (
	"context"

	"github.com/google/uuid"

	"github.com/andrejvysny/spendly-sub003/internal/broker"
	"github.com/andrejvysny/spendly-sub003/internal/logger"
	"github.com/andrejvysny/spendly-sub003/internal/rules"
	"github.com/andrejvysny/spendly-sub003/pkg/metrics"
	"github.com/andrejvysny/spendly-sub003/pkg/models"
)

// KafkaNotifier publishes send_notification actions to the notification
// topic. Delivery is fire-and-forget: a broker hiccup is logged and
// counted, never surfaced to the action executor.
type KafkaNotifier struct {
	producer broker.Producer
	topic    string
	log      logger.Logger
}

func NewKafkaNotifier(producer broker.Producer, topic string, log logger.Logger) *KafkaNotifier {
	return &KafkaNotifier{
		producer: producer,
		topic:    topic,
		log:      log,
	}
}

var _ rules.Notifier = (*KafkaNotifier)(nil)

func (n *KafkaNotifier) Notify(ctx context.Context, event models.NotificationEvent) {
	envelope, err := models.NewEnvelope(uuid.New().String(), "rule-engine", models.EventTypeRuleNotification, event)
	if err != nil {
		metrics.NotificationsPublishedTotal.WithLabelValues("error").Inc()
		n.log.ErrorwCtx(ctx, "Failed to build notification envelope",
			"rule_id", event.RuleID,
			"error", err,
		)
		return
	}
	envelope.Metadata.UserID = event.UserID

	if err := n.producer.Publish(ctx, n.topic, envelope); err != nil {
		metrics.NotificationsPublishedTotal.WithLabelValues("error").Inc()
		n.log.WarnwCtx(ctx, "Failed to publish notification",
			"rule_id", event.RuleID,
			"transaction_id", event.TransactionID,
			"error", err,
		)
		return
	}

	metrics.NotificationsPublishedTotal.WithLabelValues("success").Inc()
}

// NopNotifier is used when no broker is configured.
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, event models.NotificationEvent) {}
