package outbox

import (
	"errors"
	"strings"
	"testing"
	"time"

	"ats-workflow/internal/config"
	"ats-workflow/internal/storage/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPublishResultSuccess(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	msg := &models.OutboxMessage{Status: models.OutboxStatusPending, RetryCount: 2, ErrorMessage: "earlier failure"}

	applyPublishResult(msg, nil, now, 5)

	assert.Equal(t, models.OutboxStatusSent, msg.Status)
	require.NotNil(t, msg.ProcessedAt)
	assert.Equal(t, now, *msg.ProcessedAt)
	assert.Empty(t, msg.ErrorMessage)
	assert.Equal(t, 2, msg.RetryCount)
}

func TestApplyPublishResultRetriesThenFails(t *testing.T) {
	now := time.Now()
	msg := &models.OutboxMessage{Status: models.OutboxStatusPending}
	publishErr := errors.New("channel closed")

	for i := 1; i < 3; i++ {
		applyPublishResult(msg, publishErr, now, 3)
		assert.Equal(t, models.OutboxStatusPending, msg.Status)
		assert.Equal(t, i, msg.RetryCount)
	}
	applyPublishResult(msg, publishErr, now, 3)
	assert.Equal(t, models.OutboxStatusFailed, msg.Status)
	assert.Equal(t, "channel closed", msg.ErrorMessage)
	assert.Nil(t, msg.ProcessedAt)
}

func TestApplyPublishResultTruncatesError(t *testing.T) {
	msg := &models.OutboxMessage{}
	applyPublishResult(msg, errors.New(strings.Repeat("x", 1000)), time.Now(), 5)
	assert.Less(t, len(msg.ErrorMessage), 1000)
}

func TestNewMessageRelayDefaults(t *testing.T) {
	r := NewMessageRelay(nil, nil, config.RabbitMQConfig{PollingInterval: "nonsense"}, zerolog.Nop())
	assert.Equal(t, defaultPollingInterval, r.pollingInterval)
	assert.Equal(t, defaultBatchSize, r.batchSize)
	assert.Equal(t, defaultMaxRetries, r.maxRetries)

	r = NewMessageRelay(nil, nil, config.RabbitMQConfig{PollingInterval: "2s", BatchSize: 50, MaxRetries: 3}, zerolog.Nop())
	assert.Equal(t, 2*time.Second, r.pollingInterval)
	assert.Equal(t, 50, r.batchSize)
	assert.Equal(t, 3, r.maxRetries)

	// 未启动时 Stop 直接返回
	r.Stop()
}
