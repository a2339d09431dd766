package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/canteen-checkout/internal/checkout/application"
	"github.com/dmehra2102/canteen-checkout/internal/checkout/domain"
	"github.com/dmehra2102/canteen-checkout/pkg/idempotency"
	"github.com/dmehra2102/canteen-checkout/pkg/metrics"
	"github.com/dmehra2102/canteen-checkout/pkg/money"
	"github.com/dmehra2102/canteen-checkout/pkg/tracing"
)

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewReader(brokers []string, topic, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
}

const maxAttempts = 3

// TopUpConsumer credits wallets from mocked top-up messages.
type TopUpConsumer struct {
	log     *slog.Logger
	reader  MessageReader
	wallets *application.WalletLedger
	idem    *idempotency.Store
	metrics *metrics.ServerMetrics
	tracer  trace.Tracer
	backoff time.Duration
}

func NewTopUpConsumer(log *slog.Logger, reader MessageReader, wallets *application.WalletLedger, idem *idempotency.Store, m *metrics.ServerMetrics) *TopUpConsumer {
	return &TopUpConsumer{
		log:     log,
		reader:  reader,
		wallets: wallets,
		idem:    idem,
		metrics: m,
		tracer:  otel.Tracer("topup-consumer"),
		backoff: 200 * time.Millisecond,
	}
}

func (c *TopUpConsumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		c.Handle(ctx, msg)
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Error("commit failed", "offset", msg.Offset, "err", err)
		}
	}
}

// Handle applies one message. Every message is committed afterwards; a
// transient failure is retried a few times first and its dedupe key released
// so that a redelivery can apply it.
func (c *TopUpConsumer) Handle(ctx context.Context, msg kafka.Message) {
	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "ConsumeTopUpRequested")
	defer span.End()

	var event domain.TopUpRequested
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.log.Error("unmarshal failed", "offset", msg.Offset, "err", err)
		c.outcome("malformed")
		return
	}
	amount, err := money.ParseMajor(event.Amount)
	if err != nil {
		c.log.Error("invalid top-up amount", "user_id", event.UserID, "amount", event.Amount, "err", err)
		c.outcome(string(domain.KindInvalidInput))
		return
	}
	span.SetAttributes(attribute.Int64("user_id", event.UserID), attribute.Int64("amount_minor", amount.Int64()))

	key := c.idem.Key(msg.Topic, msg.Partition, msg.Offset)
	if event.Ref != "" {
		key = "idem:topup:" + event.Ref
	}
	seen, err := c.idem.Seen(msgCtx, key)
	if err != nil {
		c.log.Error("idempotency check failed", "err", err)
		c.outcome(string(domain.KindInternal))
		return
	}
	if seen {
		c.log.Info("duplicate top-up skipped", "key", key)
		c.outcome("duplicate")
		return
	}

	ref := application.RefTopUp
	if event.Ref != "" {
		ref = fmt.Sprintf("%s:%s", application.RefTopUp, event.Ref)
	}
	for attempt := 1; ; attempt++ {
		wallet, err := c.wallets.Credit(msgCtx, event.UserID, amount, domain.TxTopUp, ref)
		if err == nil {
			c.log.Info("top-up applied", "user_id", event.UserID, "amount", amount.Int64(), "balance", wallet.Balance.Int64())
			c.outcome("committed")
			return
		}
		kind := domain.KindOf(err)
		retryable := kind == domain.KindConflict || kind == domain.KindInternal
		if !retryable || attempt == maxAttempts || errors.Is(err, context.Canceled) {
			c.log.Error("top-up failed", "user_id", event.UserID, "attempt", attempt, "err", err)
			span.RecordError(err)
			if retryable {
				if ferr := c.idem.Forget(context.WithoutCancel(msgCtx), key); ferr != nil {
					c.log.Warn("idempotency release failed", "key", key, "err", ferr)
				}
			}
			c.outcome(string(kind))
			return
		}
		select {
		case <-msgCtx.Done():
			return
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
}

func (c *TopUpConsumer) outcome(label string) {
	if c.metrics != nil {
		c.metrics.TopUps.WithLabelValues("kafka", label).Inc()
	}
}
