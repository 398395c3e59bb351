package consumer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sli-cka/vikunja-voice-assistant/shared/idempotency"
	"github.com/sli-cka/vikunja-voice-assistant/shared/logging"
)

func newTestConsumer() *Consumer {
	return &Consumer{
		logger:  logging.Nop(),
		tracker: idempotency.NewTracker(time.Minute),
	}
}

func TestProcess_CallsHandler(t *testing.T) {
	c := newTestConsumer()
	var got *IntentMessage

	result := c.process(context.Background(),
		[]byte(`{"user_id":"+15551234567","utterance":"  buy milk tomorrow ","message_sid":"SM1","idempotency_key":"idem_1","language":"de"}`),
		func(ctx context.Context, msg *IntentMessage) error {
			got = msg
			return nil
		})

	assert.Equal(t, ack, result)
	require.NotNil(t, got)
	assert.Equal(t, "+15551234567", got.UserID)
	assert.Equal(t, "buy milk tomorrow", got.Utterance)
	assert.Equal(t, "de", got.Language)
}

func TestProcess_MalformedIsRejected(t *testing.T) {
	c := newTestConsumer()
	called := false
	handler := func(ctx context.Context, msg *IntentMessage) error {
		called = true
		return nil
	}

	assert.Equal(t, reject, c.process(context.Background(), []byte(`not json`), handler))
	assert.Equal(t, reject, c.process(context.Background(), []byte(`{"user_id":"u","utterance":"   "}`), handler))
	assert.False(t, called)
}

func TestProcess_DuplicateIsAckedWithoutProcessing(t *testing.T) {
	c := newTestConsumer()
	calls := 0
	handler := func(ctx context.Context, msg *IntentMessage) error {
		calls++
		return nil
	}
	body := []byte(`{"user_id":"u","utterance":"buy milk","idempotency_key":"idem_dup"}`)

	assert.Equal(t, ack, c.process(context.Background(), body, handler))
	assert.Equal(t, ack, c.process(context.Background(), body, handler))
	assert.Equal(t, 1, calls)
}

func TestProcess_HandlerErrorIsRejectedAndNotRetried(t *testing.T) {
	c := newTestConsumer()
	calls := 0
	handler := func(ctx context.Context, msg *IntentMessage) error {
		calls++
		return errors.New("publish failed")
	}
	body := []byte(`{"user_id":"u","utterance":"buy milk","idempotency_key":"idem_err"}`)

	assert.Equal(t, reject, c.process(context.Background(), body, handler))
	assert.Equal(t, ack, c.process(context.Background(), body, handler), "redelivery is treated as duplicate")
	assert.Equal(t, 1, calls)
}
