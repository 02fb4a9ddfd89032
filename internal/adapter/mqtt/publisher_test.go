package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/uavo-incident-aggregator/internal/config"
	"github.com/couchcryptid/uavo-incident-aggregator/internal/domain"
	"github.com/couchcryptid/uavo-incident-aggregator/internal/geo"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeClient overrides the calls Publisher makes; anything else panics on the nil embedded interface.
type fakeClient struct {
	mqtt.Client
	mu           sync.Mutex
	connected    bool
	failFor      string
	messages     []published
	disconnected bool
}

func (c *fakeClient) IsConnected() bool { return c.connected }

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload any) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := payload.([]byte)
	if c.failFor != "" && json.Valid(b) {
		var a Alert
		_ = json.Unmarshal(b, &a)
		if a.IncidentID == c.failFor {
			return completedToken(errors.New("broker refused"))
		}
	}
	c.messages = append(c.messages, published{topic: topic, qos: qos, payload: b})
	return completedToken(nil)
}

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func incident(id string, risk domain.RiskLevel) domain.Incident {
	start := time.Date(2025, 10, 4, 18, 30, 0, 0, time.UTC)
	return domain.Incident{
		IncidentID:     id,
		TimestampStart: start,
		TimestampEnd:   start.Add(2 * time.Minute),
		LocationCenter: geo.Point{Lat: 52.2297, Lng: 21.0122},
		RiskLevel:      risk,
		SourceTypes:    []domain.SourceType{domain.SourceAcoustic, domain.SourceVisual},
		Summary:        "Two detections near the river.",
		Confidence:     0.8,
	}
}

func TestPublish_FiltersByMinRisk(t *testing.T) {
	client := &fakeClient{connected: true}
	p := newPublisher(client, "uavo/alerts", domain.RiskHigh, discardLogger())

	err := p.Publish(context.Background(), []domain.Incident{
		incident("inc-low", domain.RiskLow),
		incident("inc-high", domain.RiskHigh),
		incident("inc-medium", domain.RiskMedium),
		incident("inc-critical", domain.RiskCritical),
	})
	require.NoError(t, err)

	require.Len(t, client.messages, 2)
	var ids []string
	for _, m := range client.messages {
		assert.Equal(t, "uavo/alerts", m.topic)
		assert.Equal(t, qos, m.qos)
		var a Alert
		require.NoError(t, json.Unmarshal(m.payload, &a))
		ids = append(ids, a.IncidentID)
	}
	assert.Equal(t, []string{"inc-high", "inc-critical"}, ids)
}

func TestPublish_AlertPayload(t *testing.T) {
	client := &fakeClient{connected: true}
	p := newPublisher(client, "uavo/alerts", domain.RiskLow, discardLogger())

	require.NoError(t, p.Publish(context.Background(), []domain.Incident{incident("inc-1", domain.RiskHigh)}))
	require.Len(t, client.messages, 1)

	var a Alert
	require.NoError(t, json.Unmarshal(client.messages[0].payload, &a))
	assert.Equal(t, "inc-1", a.IncidentID)
	assert.Equal(t, domain.RiskHigh, a.RiskLevel)
	assert.InDelta(t, 0.8, a.Confidence, 1e-9)
	assert.Equal(t, []domain.SourceType{domain.SourceAcoustic, domain.SourceVisual}, a.SourceTypes)
	assert.Equal(t, "Two detections near the river.", a.Summary)
}

func TestPublish_ContinuesPastFailures(t *testing.T) {
	client := &fakeClient{connected: true, failFor: "inc-a"}
	p := newPublisher(client, "uavo/alerts", domain.RiskHigh, discardLogger())

	err := p.Publish(context.Background(), []domain.Incident{
		incident("inc-a", domain.RiskHigh),
		incident("inc-b", domain.RiskCritical),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish alert inc-a")
	assert.Len(t, client.messages, 1)
}

func TestPublish_NotConnected(t *testing.T) {
	p := newPublisher(&fakeClient{}, "uavo/alerts", domain.RiskHigh, discardLogger())

	err := p.Publish(context.Background(), []domain.Incident{incident("inc-1", domain.RiskCritical)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestWait(t *testing.T) {
	t.Run("completed", func(t *testing.T) {
		require.NoError(t, wait(context.Background(), completedToken(nil), time.Second))
	})
	t.Run("token error", func(t *testing.T) {
		require.EqualError(t, wait(context.Background(), completedToken(errors.New("boom")), time.Second), "boom")
	})
	t.Run("timeout", func(t *testing.T) {
		pending := &fakeToken{done: make(chan struct{})}
		require.EqualError(t, wait(context.Background(), pending, 10*time.Millisecond), "timeout")
	})
	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		pending := &fakeToken{done: make(chan struct{})}
		require.ErrorIs(t, wait(ctx, pending, time.Minute), context.Canceled)
	})
}

func TestConnect_UnreachableBrokerFailsFast(t *testing.T) {
	cfg := &config.Config{
		MQTTBroker:   "tcp://127.0.0.1:1",
		MQTTClientID: "uavo-test",
		MQTTTopic:    "uavo/alerts",
		MQTTMinRisk:  domain.RiskHigh,
	}

	start := time.Now()
	p, err := Connect(context.Background(), cfg, discardLogger())

	require.Error(t, err)
	assert.Nil(t, p)
	assert.Less(t, time.Since(start), connectTimeout)
}

func TestClose(t *testing.T) {
	client := &fakeClient{connected: true}
	p := newPublisher(client, "uavo/alerts", domain.RiskHigh, discardLogger())

	require.NoError(t, p.Close())
	assert.True(t, client.disconnected)
}
