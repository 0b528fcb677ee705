package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/model"
)

func testChange() model.StatusChange {
	return model.StatusChange{
		ID:             model.PaymentID{0x44, 0x35, 0xa6, 0x47, 0x3c, 0xdc, 0x78, 0xbd},
		From:           model.StatusPartiallyReceived,
		To:             model.StatusConfirmed,
		AmountReceived: 1_000_000_000_000,
		Confirmations:  10,
		Applied:        true,
	}
}

func TestFromChange(t *testing.T) {
	at := time.Date(2024, 5, 1, 8, 30, 0, 0, time.FixedZone("X", 3600))
	ev := FromChange(testChange(), at)

	assert.Equal(t, TypeStatusChanged, ev.Type)
	assert.Equal(t, model.StatusConfirmed, ev.To)
	assert.Equal(t, "2024-05-01T07:30:00Z", ev.OccurredAt)
}

func TestKafkaPublisher_Publish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, "payments", msg.Topic)

		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "4435a6473cdc78bd", string(key))

		value, err := msg.Value.Encode()
		require.NoError(t, err)
		var ev map[string]interface{}
		require.NoError(t, json.Unmarshal(value, &ev))
		assert.Equal(t, "4435a6473cdc78bd", ev["payment_id"])
		assert.Equal(t, "confirmed", ev["to"])
		return nil
	})

	pub := NewKafkaPublisher(producer, "payments", zap.NewNop())
	require.NoError(t, pub.Publish(context.Background(), FromChange(testChange(), time.Now())))
	require.NoError(t, pub.Close())
}

func TestKafkaPublisher_PublishFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := NewKafkaPublisher(producer, "payments", zap.NewNop())
	err := pub.Publish(context.Background(), FromChange(testChange(), time.Now()))
	assert.True(t, errors.Is(err, sarama.ErrOutOfBrokers))
	require.NoError(t, pub.Close())
}

func TestKafkaPublisher_CanceledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	pub := NewKafkaPublisher(producer, "payments", zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pub.Publish(ctx, FromChange(testChange(), time.Now())), context.Canceled)
	require.NoError(t, pub.Close())
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), StatusEvent{}))
	assert.NoError(t, p.Close())
}
