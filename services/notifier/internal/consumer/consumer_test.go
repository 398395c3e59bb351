package consumer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sli-cka/vikunja-voice-assistant/shared/logging"
)

func TestHandleReply(t *testing.T) {
	c := &Consumer{logger: logging.Nop()}
	var got *Reply

	result := c.handleReply(context.Background(),
		[]byte(`{"user_id":"+15551234567","message":"Successfully added task: Buy milk","success":true,"title":"Buy milk"}`),
		func(ctx context.Context, msg *Reply) error {
			got = msg
			return nil
		})

	assert.Equal(t, ack, result)
	require.NotNil(t, got)
	assert.Equal(t, "+15551234567", got.UserID)
	assert.True(t, got.Success)
	assert.Equal(t, "Buy milk", got.Title)
}

func TestHandleReply_SendFailureIsRequeued(t *testing.T) {
	c := &Consumer{logger: logging.Nop()}

	result := c.handleReply(context.Background(),
		[]byte(`{"user_id":"u","message":"hi"}`),
		func(ctx context.Context, msg *Reply) error { return errors.New("twilio down") })

	assert.Equal(t, requeue, result)
}

func TestHandleReply_MalformedIsDropped(t *testing.T) {
	c := &Consumer{logger: logging.Nop()}
	called := false
	handle := func(ctx context.Context, msg *Reply) error {
		called = true
		return nil
	}

	assert.Equal(t, drop, c.handleReply(context.Background(), []byte(`{`), handle))
	assert.Equal(t, drop, c.handleReply(context.Background(), []byte(`{"user_id":"u"}`), handle))
	assert.False(t, called)
}

func TestHandleEvent(t *testing.T) {
	c := &Consumer{logger: logging.Nop()}
	var got *Event

	result := c.handleEvent(context.Background(),
		[]byte(`{"type":"reauth_required","reason":"authentication failed (status 401)"}`),
		func(ctx context.Context, msg *Event) error {
			got = msg
			return nil
		})

	assert.Equal(t, ack, result)
	require.NotNil(t, got)
	assert.Equal(t, "reauth_required", got.Type)

	failed := c.handleEvent(context.Background(), []byte(`{"type":"x"}`),
		func(ctx context.Context, msg *Event) error { return errors.New("no admin") })
	assert.Equal(t, drop, failed)
}
