package otlpexport

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	collectorlogs "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	"google.golang.org/grpc"

	"github.com/aetherius/gcs-realtime/internal/logcodec"
	"github.com/aetherius/gcs-realtime/internal/storage"
)

// testCollector is an in-process OTLP logs service that records requests.
type testCollector struct {
	collectorlogs.UnimplementedLogsServiceServer

	mu       sync.Mutex
	requests []*collectorlogs.ExportLogsServiceRequest
	rejected int64
}

func (c *testCollector) Export(_ context.Context, req *collectorlogs.ExportLogsServiceRequest) (*collectorlogs.ExportLogsServiceResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)

	resp := &collectorlogs.ExportLogsServiceResponse{}
	if c.rejected > 0 {
		resp.PartialSuccess = &collectorlogs.ExportLogsPartialSuccess{
			RejectedLogRecords: c.rejected,
			ErrorMessage:       "quota",
		}
	}
	return resp, nil
}

func (c *testCollector) records() []*logspb.LogRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*logspb.LogRecord
	for _, req := range c.requests {
		for _, rl := range req.ResourceLogs {
			for _, sl := range rl.ScopeLogs {
				out = append(out, sl.LogRecords...)
			}
		}
	}
	return out
}

func (c *testCollector) requestCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func startCollector(t *testing.T) (*testCollector, string) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	c := &testCollector{}
	collectorlogs.RegisterLogsServiceServer(srv, c)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	return c, lis.Addr().String()
}

var testTemplates = logcodec.NewTemplateSet(map[string]string{
	"GC0001": "ground control started",
	"NW1201": "link degraded: {rssi} dBm",
})

func TestExporterBatchesBySize(t *testing.T) {
	c, addr := startCollector(t)

	x, err := New(Config{Endpoint: addr, BatchSize: 2, FlushInterval: time.Hour}, testTemplates)
	require.NoError(t, err)
	x.Start()

	x.Enqueue(storage.LogEntry{Identifier: "GC0001", TimestampNanos: 1})
	x.Enqueue(storage.LogEntry{Identifier: "NW1201", TimestampNanos: 2, Variables: map[string]any{"rssi": -92.0}})
	x.Enqueue(storage.LogEntry{Identifier: "GC0001", TimestampNanos: 3})

	require.Eventually(t, func() bool { return c.requestCount() == 1 },
		5*time.Second, 10*time.Millisecond)

	// Stop flushes the partial batch.
	x.Stop()
	x.Stop()

	records := c.records()
	require.Len(t, records, 3)
	assert.Equal(t, 2, c.requestCount())
	assert.Equal(t, uint64(3), x.Stats().Exported)

	warn := records[1]
	assert.Equal(t, uint64(2), warn.TimeUnixNano)
	assert.Equal(t, logspb.SeverityNumber_SEVERITY_NUMBER_WARN, warn.SeverityNumber)
	assert.Equal(t, "link degraded: -92 dBm", warn.Body.GetStringValue())
}

func TestExporterFlushesOnInterval(t *testing.T) {
	c, addr := startCollector(t)

	x, err := New(Config{Endpoint: addr, BatchSize: 100, FlushInterval: 50 * time.Millisecond}, testTemplates)
	require.NoError(t, err)
	x.Start()
	defer x.Stop()

	x.Enqueue(storage.LogEntry{Identifier: "GC0001", TimestampNanos: 1})

	require.Eventually(t, func() bool { return len(c.records()) == 1 },
		5*time.Second, 10*time.Millisecond)
}

func TestExporterCountsPartialRejects(t *testing.T) {
	c, addr := startCollector(t)
	c.mu.Lock()
	c.rejected = 1
	c.mu.Unlock()

	x, err := New(Config{Endpoint: addr, BatchSize: 2, FlushInterval: time.Hour}, testTemplates)
	require.NoError(t, err)
	x.Start()

	x.Enqueue(storage.LogEntry{Identifier: "GC0001", TimestampNanos: 1})
	x.Enqueue(storage.LogEntry{Identifier: "GC0001", TimestampNanos: 2})
	x.Stop()

	stats := x.Stats()
	assert.Equal(t, uint64(1), stats.Exported)
	assert.Equal(t, uint64(1), stats.Failed)
}

func TestExporterUnreachableCollector(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	lis.Close()

	x, err := New(Config{Endpoint: addr, BatchSize: 1, ExportTimeout: 200 * time.Millisecond}, testTemplates)
	require.NoError(t, err)
	x.Start()

	assert.NotPanics(t, func() {
		x.Enqueue(storage.LogEntry{Identifier: "GC0001", TimestampNanos: 1})
	})
	x.Stop()

	assert.Equal(t, uint64(1), x.Stats().Failed)

	// Enqueue after Stop is dropped, not blocked.
	x.Enqueue(storage.LogEntry{Identifier: "GC0001", TimestampNanos: 2})
	assert.Equal(t, uint64(1), x.Stats().Dropped)
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)
}

func TestToLogRecord(t *testing.T) {
	rec := ToLogRecord(storage.LogEntry{
		Identifier:     "EX2042",
		TimestampNanos: 1723456789000000000,
		Variables:      map[string]any{"msg": "boom", "count": 3.0, "ratio": 0.5, "ok": false, "nested": map[string]any{"a": 1.0}},
	}, nil)

	assert.Equal(t, uint64(1723456789000000000), rec.TimeUnixNano)
	assert.Equal(t, logspb.SeverityNumber_SEVERITY_NUMBER_ERROR, rec.SeverityNumber)
	assert.Equal(t, "ERROR", rec.SeverityText)
	assert.Equal(t, "EX2042", rec.Body.GetStringValue(), "no template falls back to the identifier")

	attrs := map[string]string{}
	for _, kv := range rec.Attributes {
		if v := kv.Value.GetStringValue(); v != "" {
			attrs[kv.Key] = v
		}
	}
	assert.Equal(t, "EX", attrs[AttrCategory])
	assert.Equal(t, "minor", attrs[AttrImportance])
	assert.Equal(t, "42", attrs[AttrSequence])
	assert.Equal(t, "boom", attrs["gcs.log.var.msg"])
	assert.Equal(t, `{"a":1}`, attrs["gcs.log.var.nested"])

	for _, kv := range rec.Attributes {
		switch kv.Key {
		case "gcs.log.var.count":
			assert.Equal(t, int64(3), kv.Value.GetIntValue())
		case "gcs.log.var.ratio":
			assert.Equal(t, 0.5, kv.Value.GetDoubleValue())
		case "gcs.log.var.ok":
			_, isBool := kv.Value.Value.(*commonpb.AnyValue_BoolValue)
			assert.True(t, isBool)
		}
	}
}

func TestMarshalJSON(t *testing.T) {
	data, err := MarshalJSON([]storage.LogEntry{
		{Identifier: "GC0001", TimestampNanos: 100},
	}, testTemplates, "gcs-test")
	require.NoError(t, err)

	s := string(data)
	assert.True(t, strings.Contains(s, `"resourceLogs"`), s)
	assert.Contains(t, s, `"gcs-test"`)
	assert.Contains(t, s, `"ground control started"`)
	assert.Contains(t, s, `SEVERITY_NUMBER_INFO`)
}
