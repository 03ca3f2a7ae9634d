package otlpexport

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	collectorlogs "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/aetherius/gcs-realtime/internal/logcodec"
	"github.com/aetherius/gcs-realtime/internal/storage"
)

// Config configures an Exporter.
type Config struct {
	Endpoint      string // collector gRPC address, e.g. 127.0.0.1:4317
	ServiceName   string
	BatchSize     int
	FlushInterval time.Duration
	QueueSize     int
	ExportTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "gcs-realtime"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 128
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 4096
	}
	if c.ExportTimeout <= 0 {
		c.ExportTimeout = 10 * time.Second
	}
}

// Exporter batches log entries and sends them to a collector over gRPC.
// Export failures are logged and counted; they never reach the caller.
type Exporter struct {
	cfg       Config
	templates *logcodec.TemplateSet

	conn   *grpc.ClientConn
	client collectorlogs.LogsServiceClient

	queue    chan storage.LogEntry
	stopCh   chan struct{}
	stopping atomic.Bool
	started  atomic.Bool
	stopOnce sync.Once
	wg       sync.WaitGroup

	exported     atomic.Uint64
	failed       atomic.Uint64
	droppedQueue atomic.Uint64
}

// New creates an exporter for cfg.Endpoint. The connection is established
// lazily by gRPC on first export.
func New(cfg Config, templates *logcodec.TemplateSet) (*Exporter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("OTLP endpoint is required")
	}
	cfg.applyDefaults()

	conn, err := grpc.NewClient(cfg.Endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP client for %s: %w", cfg.Endpoint, err)
	}

	return &Exporter{
		cfg:       cfg,
		templates: templates,
		conn:      conn,
		client:    collectorlogs.NewLogsServiceClient(conn),
		queue:     make(chan storage.LogEntry, cfg.QueueSize),
		stopCh:    make(chan struct{}),
	}, nil
}

// Start launches the batching loop.
func (x *Exporter) Start() {
	if !x.started.CompareAndSwap(false, true) {
		return
	}
	x.wg.Add(1)
	go x.run()
	log.Printf("📡 otlpexport: mirroring logs to %s\n", x.cfg.Endpoint)
}

// Enqueue hands entry to the batching loop without blocking. Entries are
// dropped and counted when the queue is full or the exporter is stopping.
func (x *Exporter) Enqueue(entry storage.LogEntry) {
	if x.stopping.Load() {
		x.droppedQueue.Add(1)
		return
	}
	select {
	case x.queue <- entry:
	default:
		x.droppedQueue.Add(1)
	}
}

// Stop flushes queued entries, waits for the loop and closes the connection.
// Safe to call more than once.
func (x *Exporter) Stop() {
	x.stopOnce.Do(func() {
		x.stopping.Store(true)
		close(x.stopCh)
		x.wg.Wait()
		x.conn.Close()
	})
}

func (x *Exporter) run() {
	defer x.wg.Done()

	ticker := time.NewTicker(x.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]storage.LogEntry, 0, x.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		x.export(batch)
		batch = batch[:0]
	}

	for {
		select {
		case e := <-x.queue:
			batch = append(batch, e)
			if len(batch) >= x.cfg.BatchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-x.stopCh:
			for {
				select {
				case e := <-x.queue:
					batch = append(batch, e)
					if len(batch) >= x.cfg.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (x *Exporter) export(batch []storage.LogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), x.cfg.ExportTimeout)
	defer cancel()

	req := BuildRequest(batch, x.templates, x.cfg.ServiceName)
	resp, err := x.client.Export(ctx, req)
	if err != nil {
		x.failed.Add(uint64(len(batch)))
		log.Printf("⚠️  otlpexport: export of %d records failed: %v\n", len(batch), err)
		return
	}

	rejected := uint64(0)
	if ps := resp.GetPartialSuccess(); ps != nil && ps.GetRejectedLogRecords() > 0 {
		rejected = min(uint64(ps.GetRejectedLogRecords()), uint64(len(batch)))
		log.Printf("⚠️  otlpexport: collector rejected %d records: %s\n", rejected, ps.GetErrorMessage())
	}
	x.failed.Add(rejected)
	x.exported.Add(uint64(len(batch)) - rejected)
}

// Stats counts exporter outcomes.
type Stats struct {
	Endpoint string `json:"endpoint"`
	Exported uint64 `json:"exported"`
	Failed   uint64 `json:"failed"`
	Dropped  uint64 `json:"dropped"`
	Queued   int    `json:"queued"`
}

// Stats returns exporter counters.
func (x *Exporter) Stats() Stats {
	return Stats{
		Endpoint: x.cfg.Endpoint,
		Exported: x.exported.Load(),
		Failed:   x.failed.Load(),
		Dropped:  x.droppedQueue.Load(),
		Queued:   len(x.queue),
	}
}
