package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRemoteWritePusherSendsCountersAndGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commissions_worker_submissions_processed_total",
	}, []string{"status"})
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{Name: "commissions_worker_in_flight"})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "commissions_worker_job_duration_seconds"})
	reg.MustRegister(processed, inFlight, latency)
	processed.WithLabelValues("COMPLETE").Add(3)
	inFlight.Set(2)
	latency.Observe(0.2)

	var got prompb.WriteRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "snappy", r.Header.Get("Content-Encoding"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		decoded, err := snappy.Decode(nil, body)
		require.NoError(t, err)
		require.NoError(t, got.Unmarshal(decoded))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	pusher := NewRemoteWritePusher(server.URL, " secret ")
	pusher.now = func() time.Time { return time.UnixMilli(1700000000000) }
	require.NoError(t, pusher.Push(context.Background(), reg))

	require.Len(t, got.Timeseries, 2)
	byName := map[string]prompb.TimeSeries{}
	for _, ts := range got.Timeseries {
		byName[ts.Labels[0].Value] = ts
	}
	counter := byName["commissions_worker_submissions_processed_total"]
	require.Len(t, counter.Samples, 1)
	assert.Equal(t, 3.0, counter.Samples[0].Value)
	assert.Equal(t, int64(1700000000000), counter.Samples[0].Timestamp)
	assert.Equal(t, []prompb.Label{
		{Name: "__name__", Value: "commissions_worker_submissions_processed_total"},
		{Name: "status", Value: "COMPLETE"},
	}, counter.Labels)
	assert.Equal(t, 2.0, byName["commissions_worker_in_flight"].Samples[0].Value)
}

func TestRemoteWritePusherReportsRejectedWrites(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "commissions_test_total"})
	reg.MustRegister(counter)
	counter.Inc()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	err := NewRemoteWritePusher(server.URL, "").Push(context.Background(), reg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestRemoteWritePusherSkipsEmptyRegistry(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	require.NoError(t, NewRemoteWritePusher(server.URL, "").Push(context.Background(), prometheus.NewRegistry()))
	assert.Zero(t, calls)
}

func TestNewPusher(t *testing.T) {
	log := zap.NewNop()

	assert.Nil(t, NewPusher(PushConfig{}, log))
	assert.Nil(t, NewPusher(PushConfig{Exporter: ExporterRemoteWrite}, log))
	assert.Nil(t, NewPusher(PushConfig{Exporter: ExporterRemoteWrite, Endpoint: "not a url"}, log))
	assert.Nil(t, NewPusher(PushConfig{Exporter: "statsd", Endpoint: "http://localhost"}, log))

	assert.IsType(t, &RemoteWritePusher{}, NewPusher(PushConfig{Exporter: "Prometheus_Remote_Write", Endpoint: "http://localhost:9090/api/v1/write"}, log))
	assert.IsType(t, &PushgatewayPusher{}, NewPusher(PushConfig{Exporter: ExporterPushgateway, Endpoint: "http://localhost:9091", Job: "commissions"}, log))
}

func TestPushgatewayPusherRequiresJob(t *testing.T) {
	err := NewPushgatewayPusher("http://localhost:9091", " ", nil).Push(context.Background(), prometheus.NewRegistry())
	require.EqualError(t, err, "pushgateway job is required")
}
