package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/lyzr/toolcrib/common/logger"
	"github.com/lyzr/toolcrib/common/redis"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	exchange string
	key      string
	msg      amqp.Publishing
	err      error
}

func (f *fakePublisher) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return f.err
}

type captured struct {
	kinds []Kind
}

func (c *captured) Notify(ctx context.Context, kind Kind, payload map[string]any) {
	c.kinds = append(c.kinds, kind)
}

func TestAMQPNotifierPublishes(t *testing.T) {
	pub := &fakePublisher{}
	n := NewAMQPNotifier(pub, "toolcrib.notifications", logger.Discard())

	n.Notify(context.Background(), MaintenanceRequired, map[string]any{"assetId": "A1"})

	assert.Equal(t, "toolcrib.notifications", pub.exchange)
	assert.Equal(t, "toolcrib.maintenance_required", pub.key)
	assert.Equal(t, uint8(amqp.Persistent), pub.msg.DeliveryMode)

	var ev Event
	require.NoError(t, json.Unmarshal(pub.msg.Body, &ev))
	assert.Equal(t, MaintenanceRequired, ev.Kind)
	assert.Equal(t, "A1", ev.Payload["assetId"])
	assert.Equal(t, ev.ID, pub.msg.MessageId)
}

func TestAMQPNotifierSwallowsErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("channel closed")}
	n := NewAMQPNotifier(pub, "x", logger.Discard())

	assert.NotPanics(t, func() {
		n.Notify(context.Background(), ReservationExpired, nil)
	})
	assert.NoError(t, n.Close())
}

func TestRedisNotifierPublishes(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	mock.MatchExpectationsInOrder(true)
	mock.Regexp().ExpectPublish("toolcrib:notifications", `"kind":"reservation_reminder"`).SetVal(1)

	n := NewRedisNotifier(redis.NewClient(rdb, logger.Discard()), "toolcrib:notifications", logger.Discard())
	n.Notify(context.Background(), ReservationReminder, map[string]any{"reservationId": "R1"})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMultiFansOut(t *testing.T) {
	a, b := &captured{}, &captured{}
	m := Multi{a, NewLogNotifier(logger.Discard()), b}

	m.Notify(context.Background(), SyncRetryExhausted, nil)

	assert.Equal(t, []Kind{SyncRetryExhausted}, a.kinds)
	assert.Equal(t, []Kind{SyncRetryExhausted}, b.kinds)
}
