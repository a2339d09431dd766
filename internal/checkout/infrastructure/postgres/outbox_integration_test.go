//go:build integration

package postgres_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/canteen-checkout/internal/checkout/domain"
	checkoutkafka "github.com/dmehra2102/canteen-checkout/internal/checkout/infrastructure/kafka"
	"github.com/dmehra2102/canteen-checkout/internal/checkout/infrastructure/postgres"
	"github.com/dmehra2102/canteen-checkout/pkg/money"
	"github.com/dmehra2102/canteen-checkout/pkg/outbox"
)

const ordersTopic = "canteen.orders"

func TestOutboxRelayPublishesOrderPaid(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	require.NoError(t, s.env.WithKafka(ctx))

	_, err := s.wallets.TopUp(ctx, 1, money.Minor(5000))
	require.NoError(t, err)
	_, err = s.carts.AddOrIncrement(ctx, 1, 2, 3)
	require.NoError(t, err)
	order, err := s.coord.Checkout(ctx, 1, pickup())
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	writer := checkoutkafka.NewWriter(s.env.KAddr)
	writer.AllowAutoTopicCreation = true
	t.Cleanup(func() { _ = writer.Close() })

	relay := outbox.NewRelay(log, postgres.NewOutboxStore(log, s.pool), outbox.NewDispatcher(log, writer, ordersTopic), "it-relay")
	require.Eventually(t, func() bool {
		n, err := relay.Tick(ctx)
		return err == nil && n == 1
	}, 60*time.Second, time.Second)

	var status string
	require.NoError(t, s.pool.QueryRow(ctx, `SELECT status FROM outbox WHERE aggregate_id=$1`, order.ID.String()).Scan(&status))
	assert.Equal(t, string(outbox.StatusSent), status)

	reader := kafkago.NewReader(kafkago.ReaderConfig{Brokers: s.env.KAddr, Topic: ordersTopic, Partition: 0})
	t.Cleanup(func() { _ = reader.Close() })
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	msg, err := reader.ReadMessage(readCtx)
	require.NoError(t, err)

	assert.Equal(t, order.ID.String(), string(msg.Key))
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, domain.EventOrderPaid, headers["event_type"])
	assert.Equal(t, "canteen-checkout", headers["source"])
	assert.Contains(t, string(msg.Value), order.ID.String())
}
