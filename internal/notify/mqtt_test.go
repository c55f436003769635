package notify

import (
	"context"
	"testing"

	"github.com/aavetis/memory-poc/internal/config"
)

func TestTopicLayout(t *testing.T) {
	p := New(config.MQTTConfig{DeviceName: "den"}, nil)

	if got := p.baseTopic(); got != "memoryd/den" {
		t.Errorf("base topic: %q", got)
	}
	if got := p.availabilityTopic(); got != "memoryd/den/availability" {
		t.Errorf("availability topic: %q", got)
	}
	if got := p.nudgeTopic("u1"); got != "memoryd/den/nudge/u1" {
		t.Errorf("nudge topic: %q", got)
	}
}

func TestPublishNudgeRequiresStart(t *testing.T) {
	p := New(config.MQTTConfig{DeviceName: "den"}, nil)
	if err := p.PublishNudge(context.Background(), "u1", "hi", "r1"); err == nil {
		t.Fatal("expected error before Start")
	}
}

func TestStartRejectsBadBrokerURL(t *testing.T) {
	p := New(config.MQTTConfig{Broker: "://not-a-url", DeviceName: "den"}, nil)
	if err := p.Start(context.Background()); err == nil {
		t.Fatal("expected error for malformed broker URL")
	}
}

func TestStopWithoutStart(t *testing.T) {
	p := New(config.MQTTConfig{DeviceName: "den"}, nil)
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("stop before start must be a no-op: %v", err)
	}
}
