package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ats-workflow/internal/config"
	"ats-workflow/internal/ratelimit"
	"ats-workflow/internal/storage/models"
	"ats-workflow/internal/types"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEnvelope() Envelope {
	return NewEnvelope(types.Notification{
		ID:             12,
		CandidateID:    7,
		CandidateName:  "Jane Doe",
		Position:       "Site Engineer",
		Type:           types.NotifyShortlistForApproval,
		Message:        "HR SHORTLISTED: Candidate Jane Doe shortlisted. Department Manager to SELECT.",
		Priority:       types.PriorityHigh,
		ActionRequired: true,
		ForRole:        "Department Manager",
		Timestamp:      "2024-05-01T08:00:00Z",
	}, "https://ats.example.invalid/candidate/7")
}

func TestNewEnvelope(t *testing.T) {
	env := sampleEnvelope()
	assert.Len(t, env.EventID, 36)
	assert.Equal(t, types.RecordID(12), env.NotificationID)
	assert.Equal(t, "2024-05-01T08:00:00Z", env.CreatedAt)
	assert.NotEqual(t, env.EventID, sampleEnvelope().EventID)
}

func TestCardTitle(t *testing.T) {
	assert.Equal(t, "Shortlist For Approval", cardTitle("shortlist_for_approval"))
	assert.Equal(t, "Reminder Pending Operations Hire", cardTitle("reminder_pending_operations_hire"))
	assert.Equal(t, "", cardTitle(""))
}

func TestTeamsChannelPostsAdaptiveCard(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewTeamsChannel(srv.URL, time.Second, nil)
	require.NoError(t, ch.Deliver(context.Background(), sampleEnvelope()))

	assert.Equal(t, "message", got["type"])
	att := got["attachments"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, adaptiveCardType, att["contentType"])
	assert.Nil(t, att["contentUrl"])
	card := att["content"].(map[string]interface{})
	assert.Equal(t, "1.4", card["version"])

	body := card["body"].([]interface{})
	require.Len(t, body, 3)
	assert.Equal(t, "Shortlist For Approval", body[0].(map[string]interface{})["text"])
	facts := body[2].(map[string]interface{})["facts"].([]interface{})
	assert.Equal(t, "Jane Doe", facts[0].(map[string]interface{})["value"])
	assert.Equal(t, "Yes", facts[3].(map[string]interface{})["value"])

	action := card["actions"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "Action.OpenUrl", action["type"])
	assert.Equal(t, "https://ats.example.invalid/candidate/7", action["url"])
}

func TestTeamsCardDefaults(t *testing.T) {
	msg := buildTeamsMessage(Envelope{Type: types.NotifyCandidateSelected})
	card := msg["attachments"].([]interface{})[0].(map[string]interface{})["content"].(map[string]interface{})
	facts := card["body"].([]interface{})[2].(map[string]interface{})["facts"].([]interface{})
	assert.Equal(t, "Unknown", facts[0].(map[string]string)["value"])
	assert.Equal(t, "N/A", facts[1].(map[string]string)["value"])
	assert.Equal(t, "No", facts[3].(map[string]string)["value"])
}

func TestTeamsChannelErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewTeamsChannel(srv.URL, time.Second, nil).Deliver(context.Background(), sampleEnvelope())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")

	// 未配置 webhook 时不发请求
	assert.NoError(t, NewTeamsChannel("", 0, nil).Deliver(context.Background(), sampleEnvelope()))
}

func TestTeamsChannelSingleAttemptByDefault(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Delivery.Channels = []string{"teams"}
	cfg.Teams.WebhookURL = srv.URL
	cfg.Teams.RatePerMinute = 6000
	fan, closeFn, err := Build(cfg, nil, zerolog.Nop())
	require.NoError(t, err)
	defer closeFn()

	assert.Error(t, fan.Deliver(context.Background(), sampleEnvelope()))
	assert.Equal(t, int32(1), calls.Load(), "默认配置下失败不重试")

	calls.Store(0)
	assert.Error(t, NewTeamsChannel(srv.URL, time.Second, ratelimit.NewLimiter(6000, 10)).Deliver(context.Background(), sampleEnvelope()))
	assert.Equal(t, int32(1), calls.Load())
}

func TestTeamsChannelRetriesWhenConfigured(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	limiter := ratelimit.NewLimiter(6000, 10).WithRetryPolicy(time.Millisecond, 2)
	require.NoError(t, NewTeamsChannel(srv.URL, time.Second, limiter).Deliver(context.Background(), sampleEnvelope()))
	assert.Equal(t, int32(2), calls.Load())
}

type fakeOutboxWriter struct {
	msgs []*models.OutboxMessage
}

func (f *fakeOutboxWriter) EnqueueOutbox(_ context.Context, msg *models.OutboxMessage) error {
	f.msgs = append(f.msgs, msg)
	return nil
}

func TestOutboxChannel(t *testing.T) {
	w := &fakeOutboxWriter{}
	ch := NewOutboxChannel(w, config.RabbitMQConfig{
		NotificationExchange:   "workflow.notifications.exchange",
		NotificationRoutingKey: "notification.created",
	})
	env := sampleEnvelope()
	require.NoError(t, ch.Deliver(context.Background(), env))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, env.EventID, msg.EventID)
	assert.Equal(t, "7", msg.AggregateID)
	assert.Equal(t, "shortlist_for_approval", msg.EventType)
	assert.Equal(t, models.OutboxStatusPending, msg.Status)
	assert.Equal(t, "notification.created", msg.TargetRoutingKey)

	var decoded Envelope
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &decoded))
	assert.Equal(t, env.Message, decoded.Message)
}

func TestKafkaChannel(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, _ := msg.Key.Encode()
		if string(key) != "7" {
			return errors.New("unexpected key " + string(key))
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	ch := NewKafkaChannel(producer, "workflow.notifications")
	require.NoError(t, ch.Deliver(context.Background(), sampleEnvelope()))
	assert.Error(t, ch.Deliver(context.Background(), sampleEnvelope()))
	require.NoError(t, ch.Close())
}

type recordingChannel struct {
	name string
	err  error
	mu   sync.Mutex
	got  []Envelope
}

func (r *recordingChannel) Name() string { return r.name }

func (r *recordingChannel) Deliver(_ context.Context, env Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, env)
	return r.err
}

func TestFanOutDeliversToAllChannels(t *testing.T) {
	ok := &recordingChannel{name: "ok"}
	bad := &recordingChannel{name: "bad", err: errors.New("down")}
	fan := NewFanOut([]Channel{ok, bad}, 1, time.Second, zerolog.Nop())

	err := fan.Deliver(context.Background(), sampleEnvelope())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	assert.Len(t, ok.got, 1, "失败的通道不影响其他通道")
	assert.Len(t, bad.got, 1)
	assert.Equal(t, []string{"ok", "bad"}, fan.Channels())

	assert.NoError(t, NewFanOut(nil, 0, 0, zerolog.Nop()).Deliver(context.Background(), sampleEnvelope()))
}

func TestBuildRejectsOutboxWithoutWriter(t *testing.T) {
	cfg := config.Default()
	cfg.Delivery.Channels = []string{"teams", "outbox"}
	_, _, err := Build(cfg, nil, zerolog.Nop())
	assert.Error(t, err)

	cfg.Delivery.Channels = []string{"teams"}
	fan, closeFn, err := Build(cfg, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"teams"}, fan.Channels())
	assert.NoError(t, closeFn())
}
