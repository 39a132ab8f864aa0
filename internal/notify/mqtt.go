package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/i474232898/weather-etl/internal/weather"
)

// Dataset is the name consumers subscribe to for new weather rows.
const Dataset = "weather_data"

// DatasetEvent announces that a new record landed in the weather_data table.
type DatasetEvent struct {
	Dataset     string            `json:"dataset"`
	RunID       string            `json:"runId"`
	Record      weather.Record    `json:"record"`
	Condition   weather.Condition `json:"condition"`
	PublishedAt time.Time         `json:"publishedAt"`
}

// NewDatasetEvent builds the event for a freshly loaded record.
func NewDatasetEvent(runID string, rec weather.Record) DatasetEvent {
	return DatasetEvent{
		Dataset:     Dataset,
		RunID:       runID,
		Record:      rec,
		Condition:   weather.ConditionFromCode(rec.WeatherCode),
		PublishedAt: time.Now().UTC(),
	}
}

// Noop drops events. Used when no broker is configured.
type Noop struct{}

func (Noop) PublishDatasetUpdate(ctx context.Context, runID string, rec weather.Record) error {
	return nil
}

func (Noop) Close() {}

// MQTTConfig configures the MQTT publisher.
type MQTTConfig struct {
	Broker   string
	Port     int
	ClientID string
	Topic    string
}

// MQTTPublisher publishes dataset events to a broker.
type MQTTPublisher struct {
	client    mqtt.Client
	topic     string
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

var errStopped = errors.New("mqtt publisher stopped")

// NewMQTTPublisher builds a publisher; call Connect before publishing.
func NewMQTTPublisher(cfg MQTTConfig) *MQTTPublisher {
	p := &MQTTPublisher{
		topic:  cfg.Topic,
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		p.setConnected(true)
		log.Info().Str("broker", cfg.Broker).Int("port", cfg.Port).Msg("mqtt connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.setConnected(false)
		log.Warn().Err(err).Msg("mqtt connection lost")
	})

	p.client = mqtt.NewClient(opts)
	return p
}

// Connect waits for the initial connection, honouring ctx and Close.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	select {
	case <-p.stopCh:
		return errStopped
	default:
	}

	if p.IsConnected() {
		return nil
	}

	token := p.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return errStopped
		default:
		}
	}
}

// PublishDatasetUpdate publishes a DatasetEvent at QoS 1.
func (p *MQTTPublisher) PublishDatasetUpdate(ctx context.Context, runID string, rec weather.Record) error {
	if !p.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}

	data, err := json.Marshal(NewDatasetEvent(runID, rec))
	if err != nil {
		return fmt.Errorf("marshal dataset event: %w", err)
	}

	token := p.client.Publish(p.topic, 1, false, data)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("publish timeout for topic %s", p.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish dataset event: %w", err)
	}

	log.Debug().Str("topic", p.topic).Int64("record_id", rec.ID).Msg("published dataset event")
	return nil
}

// IsConnected returns whether the client is connected.
func (p *MQTTPublisher) IsConnected() bool {
	p.mu.RLock()
	connected := p.connected
	p.mu.RUnlock()
	return connected && p.client.IsConnected()
}

// Close stops the publisher. Safe to call more than once.
func (p *MQTTPublisher) Close() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	if p.client != nil {
		p.client.Disconnect(250)
	}
	p.setConnected(false)
	log.Info().Msg("mqtt disconnected")
}

func (p *MQTTPublisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}
