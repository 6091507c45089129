package metrics

import "time"

// Cycle failure kinds reported through ObserveFailure.
const (
	FailureCaptureUnavailable = "capture_unavailable"
	FailureEncode             = "encode"
	FailureConnect            = "connect"
	FailureIO                 = "io"
	FailureDecode             = "decode"
)

// BridgeMetrics 帧桥接指标收集器
//
// A nil *BridgeMetrics is valid and records nothing.
type BridgeMetrics struct {
	framesSent      Counter
	framesReceived  Counter
	framesEmpty     Counter
	framesApplied   Counter
	framesDropped   Counter
	bytesSent       Counter
	bytesReceived   Counter
	failures        Counter
	projectionSkips Counter
	reconnects      Counter

	connectionState Gauge
	maskCoverage    Gauge
	streamActive    Gauge

	roundTrip    Histogram
	cycleLatency Histogram
}

// NewBridgeMetrics 注册帧桥接指标
func NewBridgeMetrics(metrics Metrics) (*BridgeMetrics, error) {
	bm := &BridgeMetrics{}
	stream := []string{"stream"}

	counters := []struct {
		target *Counter
		name   string
		help   string
		labels []string
	}{
		{&bm.framesSent, "frames_sent_total", "Requests written to the processing service", stream},
		{&bm.framesReceived, "frames_received_total", "Non-empty responses read from the processing service", stream},
		{&bm.framesEmpty, "frames_empty_total", "Responses carrying no output frame", stream},
		{&bm.framesApplied, "frames_applied_total", "Responses decoded and published by the frame sink", stream},
		{&bm.framesDropped, "frames_dropped_total", "Responses overwritten in the frame slot before a tick consumed them", stream},
		{&bm.bytesSent, "bytes_sent_total", "Bytes written including headers", stream},
		{&bm.bytesReceived, "bytes_received_total", "Bytes read including headers", stream},
		{&bm.failures, "cycle_failures_total", "Abandoned cycles by failure kind", []string{"stream", "kind"}},
		{&bm.projectionSkips, "projection_skipped_total", "Skeleton points and segments that failed to project", stream},
		{&bm.reconnects, "connects_total", "Successful connections to the processing service", stream},
	}
	for _, c := range counters {
		counter, err := metrics.RegisterCounter(c.name, c.help, c.labels)
		if err != nil {
			return nil, err
		}
		*c.target = counter
	}

	gauges := []struct {
		target *Gauge
		name   string
		help   string
	}{
		{&bm.connectionState, "connection_state", "Connection state (0=disconnected, 1=connecting, 2=connected, 3=faulted)"},
		{&bm.maskCoverage, "mask_coverage_ratio", "Fraction of occluded pixels in the last transmitted mask"},
		{&bm.streamActive, "stream_active", "Whether the stream worker is running (1=active, 0=inactive)"},
	}
	for _, g := range gauges {
		gauge, err := metrics.RegisterGauge(g.name, g.help, stream)
		if err != nil {
			return nil, err
		}
		*g.target = gauge
	}

	latencyBuckets := []float64{1, 2, 5, 10, 20, 33, 50, 100, 200, 500, 1000}

	var err error
	bm.roundTrip, err = metrics.RegisterHistogram(
		"round_trip_milliseconds",
		"Write-to-response latency of one exchange in milliseconds",
		stream,
		latencyBuckets,
	)
	if err != nil {
		return nil, err
	}

	bm.cycleLatency, err = metrics.RegisterHistogram(
		"cycle_milliseconds",
		"Full capture to queue cycle duration in milliseconds",
		stream,
		latencyBuckets,
	)
	if err != nil {
		return nil, err
	}

	return bm, nil
}

// RecordExchange records one successful exchange.
func (bm *BridgeMetrics) RecordExchange(stream string, sent, received int, roundTrip time.Duration, gotFrame bool) {
	if bm == nil {
		return
	}
	bm.framesSent.Inc(stream)
	bm.bytesSent.Add(float64(sent), stream)
	bm.bytesReceived.Add(float64(received), stream)
	bm.roundTrip.Observe(float64(roundTrip.Microseconds())/1000, stream)
	if gotFrame {
		bm.framesReceived.Inc(stream)
	} else {
		bm.framesEmpty.Inc(stream)
	}
}

// ObserveCycle records the duration of a completed cycle.
func (bm *BridgeMetrics) ObserveCycle(stream string, d time.Duration) {
	if bm == nil {
		return
	}
	bm.cycleLatency.Observe(float64(d.Microseconds())/1000, stream)
}

// ObserveFailure counts an abandoned cycle.
func (bm *BridgeMetrics) ObserveFailure(stream, kind string) {
	if bm == nil {
		return
	}
	bm.failures.Inc(stream, kind)
}

// AddProjectionSkips counts primitives that failed to project.
func (bm *BridgeMetrics) AddProjectionSkips(stream string, n int) {
	if bm == nil || n <= 0 {
		return
	}
	bm.projectionSkips.Add(float64(n), stream)
}

// SetMaskCoverage records the occluded fraction of the last mask.
func (bm *BridgeMetrics) SetMaskCoverage(stream string, ratio float64) {
	if bm == nil {
		return
	}
	bm.maskCoverage.Set(ratio, stream)
}

// SetConnectionState records the numeric connection state.
func (bm *BridgeMetrics) SetConnectionState(stream string, state int) {
	if bm == nil {
		return
	}
	bm.connectionState.Set(float64(state), stream)
}

// IncConnects counts a successful connection.
func (bm *BridgeMetrics) IncConnects(stream string) {
	if bm == nil {
		return
	}
	bm.reconnects.Inc(stream)
}

// IncApplied counts a frame published by the sink.
func (bm *BridgeMetrics) IncApplied(stream string) {
	if bm == nil {
		return
	}
	bm.framesApplied.Inc(stream)
}

// AddDropped counts frames overwritten in the slot.
func (bm *BridgeMetrics) AddDropped(stream string, n int64) {
	if bm == nil || n <= 0 {
		return
	}
	bm.framesDropped.Add(float64(n), stream)
}

// SetActive marks the stream worker as running or stopped.
func (bm *BridgeMetrics) SetActive(stream string, active bool) {
	if bm == nil {
		return
	}
	v := 0.0
	if active {
		v = 1
	}
	bm.streamActive.Set(v, stream)
}
