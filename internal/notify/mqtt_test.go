package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/i474232898/weather-etl/internal/weather"
)

func TestNewDatasetEvent(t *testing.T) {
	rec := weather.Record{ID: 7, Timestamp: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC), Temperature: 12.3, WeatherCode: 61}
	ev := NewDatasetEvent("run-1", rec)

	if ev.Dataset != "weather_data" || ev.RunID != "run-1" || ev.Condition != weather.ConditionRain {
		t.Errorf("unexpected event: %+v", ev)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{`"dataset":"weather_data"`, `"runId":"run-1"`, `"temperature":12.3`, `"condition":"rain"`, `"publishedAt":`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("payload %s missing %s", data, key)
		}
	}
}

func TestMQTTPublisher_NotConnected(t *testing.T) {
	p := NewMQTTPublisher(MQTTConfig{Broker: "127.0.0.1", Port: 1, ClientID: "test", Topic: "datasets/weather_data"})
	defer p.Close()

	if err := p.PublishDatasetUpdate(context.Background(), "run", weather.Record{}); err == nil {
		t.Fatal("expected error when not connected")
	}
}

func TestMQTTPublisher_ConnectAfterClose(t *testing.T) {
	p := NewMQTTPublisher(MQTTConfig{Broker: "127.0.0.1", Port: 1, ClientID: "test", Topic: "t"})
	p.Close()
	p.Close()

	if err := p.Connect(context.Background()); !errors.Is(err, errStopped) {
		t.Fatalf("expected errStopped, got %v", err)
	}
}

func TestNoop(t *testing.T) {
	var n Noop
	if err := n.PublishDatasetUpdate(context.Background(), "run", weather.Record{}); err != nil {
		t.Fatalf("Noop returned %v", err)
	}
}
