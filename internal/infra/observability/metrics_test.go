package observability_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/boddenberg/shopbot-core/internal/infra/observability"
)

func TestMetrics_Snapshot(t *testing.T) {
	m := observability.NewMetrics()

	m.IncrMessage("reply")
	m.IncrMessage("reply")
	m.IncrMessage("apology")
	m.IncrMatchResult("PERFECT_MATCH")
	m.IncrMatchResult("NO_MATCH")
	m.IncrMatchResult("CLOSE_MATCH")
	m.IncrMatchResult("PERFECT_MATCH")
	m.IncrOrderCreated()
	m.IncrSweeperReset()
	m.IncrCacheHit("bot_control")
	m.IncrCacheHit("bot_control")
	m.IncrCacheHit("bot_control")
	m.IncrCacheMiss("bot_control")

	s := m.Snapshot()
	assert.Equal(t, int64(2), s.MessagesReplied)
	assert.Equal(t, int64(1), s.MessagesApologized)
	assert.Equal(t, int64(1), s.OrdersCreated)
	assert.Equal(t, int64(1), s.SweeperResets)
	assert.InDelta(t, 0.5, s.PerfectMatchRate, 1e-9)
	assert.InDelta(t, 0.75, s.BotControlHitRate, 1e-9)
}

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	a := observability.NewMetrics()
	b := observability.NewMetrics()

	a.IncrOrderCreated()

	assert.Equal(t, int64(1), a.Snapshot().OrdersCreated)
	assert.Equal(t, int64(0), b.Snapshot().OrdersCreated)
}
