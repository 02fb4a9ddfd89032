// Package mqtt publishes alerts for high-risk incidents to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/couchcryptid/uavo-incident-aggregator/internal/config"
	"github.com/couchcryptid/uavo-incident-aggregator/internal/domain"
	"github.com/couchcryptid/uavo-incident-aggregator/internal/geo"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 10 * time.Second
	qos            = byte(1)
)

// Alert is the compact payload sent for each qualifying incident.
type Alert struct {
	IncidentID     string              `json:"incident_id"`
	RiskLevel      domain.RiskLevel    `json:"risk_level"`
	Confidence     float64             `json:"confidence"`
	LocationCenter geo.Point           `json:"location_center"`
	TimestampStart time.Time           `json:"timestamp_start"`
	TimestampEnd   time.Time           `json:"timestamp_end"`
	SourceTypes    []domain.SourceType `json:"source_types"`
	Summary        string              `json:"summary"`
}

// Publisher sends incident alerts at or above a minimum risk level.
// It implements pipeline.Publisher.
type Publisher struct {
	client  mqtt.Client
	topic   string
	minRisk domain.RiskLevel
	logger  *slog.Logger
}

// Connect dials the configured broker and returns a ready Publisher.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	// No retry on the first dial. AutoReconnect handles later drops.
	opts.SetConnectRetry(false)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "broker", cfg.MQTTBroker, "error", err)
	})

	client := mqtt.NewClient(opts)
	if err := wait(ctx, client.Connect(), connectTimeout); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.MQTTBroker, err)
	}
	logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "topic", cfg.MQTTTopic)
	return newPublisher(client, cfg.MQTTTopic, cfg.MQTTMinRisk, logger), nil
}

func newPublisher(client mqtt.Client, topic string, minRisk domain.RiskLevel, logger *slog.Logger) *Publisher {
	return &Publisher{client: client, topic: topic, minRisk: minRisk, logger: logger}
}

func (p *Publisher) Name() string { return "mqtt" }

// Publish sends one alert per incident whose risk level reaches the minimum.
// Every qualifying incident is attempted; failures are joined.
func (p *Publisher) Publish(ctx context.Context, incidents []domain.Incident) error {
	if !p.client.IsConnected() {
		return errors.New("not connected to mqtt broker")
	}
	var errs []error
	sent := 0
	for i := range incidents {
		if !incidents[i].RiskLevel.AtLeast(p.minRisk) {
			continue
		}
		payload, err := json.Marshal(alertFor(incidents[i]))
		if err != nil {
			errs = append(errs, fmt.Errorf("encode alert %s: %w", incidents[i].IncidentID, err))
			continue
		}
		if err := wait(ctx, p.client.Publish(p.topic, qos, false, payload), publishTimeout); err != nil {
			errs = append(errs, fmt.Errorf("publish alert %s: %w", incidents[i].IncidentID, err))
			continue
		}
		sent++
	}
	p.logger.Debug("alerts published", "sink", p.Name(), "sent", sent, "min_risk", p.minRisk)
	return errors.Join(errs...)
}

// Close disconnects, allowing 250ms for in-flight messages.
func (p *Publisher) Close() error {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
	return nil
}

func alertFor(inc domain.Incident) Alert {
	return Alert{
		IncidentID:     inc.IncidentID,
		RiskLevel:      inc.RiskLevel,
		Confidence:     inc.Confidence,
		LocationCenter: inc.LocationCenter,
		TimestampStart: inc.TimestampStart,
		TimestampEnd:   inc.TimestampEnd,
		SourceTypes:    inc.SourceTypes,
		Summary:        inc.Summary,
	}
}

// wait blocks until the token completes, the timeout passes or ctx is done.
func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return errors.New("timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}
