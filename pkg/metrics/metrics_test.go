package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSetStateIsOneHot(t *testing.T) {
	all := []string{"idle", "reading_metadata", "done"}
	SetState("reading_metadata", all)

	assert.Equal(t, 0.0, testutil.ToFloat64(PipelineState.WithLabelValues("idle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(PipelineState.WithLabelValues("reading_metadata")))

	SetState("done", all)
	assert.Equal(t, 0.0, testutil.ToFloat64(PipelineState.WithLabelValues("reading_metadata")))
	assert.Equal(t, 1.0, testutil.ToFloat64(PipelineState.WithLabelValues("done")))
}

func TestPointsDecodedCounter(t *testing.T) {
	before := testutil.ToFloat64(PointsDecoded.WithLabelValues("t_data_9.BIN"))
	PointsDecoded.WithLabelValues("t_data_9.BIN").Add(3)
	assert.Equal(t, before+3, testutil.ToFloat64(PointsDecoded.WithLabelValues("t_data_9.BIN")))
}

func TestTimer(t *testing.T) {
	timer := NewTimer("x")
	time.Sleep(time.Millisecond)
	assert.GreaterOrEqual(t, timer.Stop(), time.Millisecond)
}
