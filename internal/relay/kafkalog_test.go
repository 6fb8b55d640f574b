package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// A restarted relay must not reissue sequence ids already written to the
// topic by its previous incarnation.
func TestKafkaLogSequenceSurvivesRestart(t *testing.T) {
	first := NewKafkaLog("localhost:9092", "events", zap.NewNop())
	lastIssued := first.seq.Add(1)

	time.Sleep(5 * time.Millisecond)

	second := NewKafkaLog("localhost:9092", "events", zap.NewNop())
	assert.Greater(t, second.seq.Load(), lastIssued)
}
