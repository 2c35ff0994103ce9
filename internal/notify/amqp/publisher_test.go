package amqp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/1kimnet/geo-ingest/internal/summary"
)

func TestRoutingKeyUsesConfiguredOverride(t *testing.T) {
	p := &Publisher{cfg: Config{RoutingKey: "custom.key"}}
	got := p.routingKey(summary.Event{Phase: summary.PhaseSource, Timestamp: time.Now()})
	assert.Equal(t, "custom.key", got)
}

func TestRoutingKeyDefaultsToIngestDotPhase(t *testing.T) {
	p := &Publisher{cfg: Config{}}
	got := p.routingKey(summary.Event{Phase: summary.PhaseStage, Timestamp: time.Now()})
	assert.Equal(t, "ingest.stage", got)
}
