package recorder

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/gwsession/internal/callback"
)

const insertEvent = `
	INSERT INTO gateway_events (session_id, event, event_key, req_id, fields, received_at)
	VALUES ($1, $2, $3, $4, $5, $6)
`

// DB is the subset of *pgxpool.Pool the writer needs.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Config holds writer settings.
type Config struct {
	Events        []string
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// DefaultConfig returns the default writer config with no events selected.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// Stats holds writer counters.
type Stats struct {
	Inserts int64
	Dropped int64 // handler saw a full buffer
	Flushes int64
	Errors  int64
}

type eventRow struct {
	SessionID  uuid.UUID
	Event      string
	EventKey   string
	ReqID      *int64
	Fields     []byte
	ReceivedAt int64 // unix micros
}

// Writer batches recorded events into gateway_events.
type Writer struct {
	cfg       Config
	sessionID uuid.UUID
	logger    *slog.Logger

	input chan callback.Message

	db DB

	batch       []eventRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stats Stats
}

// New creates a Writer for one session.
func New(cfg Config, sessionID uuid.UUID, db DB, logger *slog.Logger) *Writer {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		cfg:       cfg,
		sessionID: sessionID,
		db:        db,
		logger:    logger.With("component", "recorder"),
		input:     make(chan callback.Message, cfg.BufferSize),
		batch:     make([]eventRow, 0, cfg.BatchSize),
		ctx:       context.Background(),
	}
}

// Handlers returns one handler per configured event, ready for
// Session.RegisterCallbacks.
func (w *Writer) Handlers() map[callback.Key]callback.Handler {
	out := make(map[callback.Key]callback.Handler, len(w.cfg.Events))
	for _, name := range w.cfg.Events {
		out[callback.EventKey(name)] = w.handle
	}
	return out
}

func (w *Writer) handle(_ context.Context, msg callback.Message) error {
	w.Record(msg)
	return nil
}

// Record enqueues msg without blocking. It reports false when the buffer
// is full and the message was dropped.
func (w *Writer) Record(msg callback.Message) bool {
	select {
	case w.input <- msg:
		return true
	default:
		w.batchMu.Lock()
		w.stats.Dropped++
		w.batchMu.Unlock()
		return false
	}
}

// Start begins consuming recorded messages and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("recorder started",
		"events", w.cfg.Events,
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop shuts down the writer, draining buffered messages into a final flush.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping recorder")

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("recorder stop timed out")
	}

	w.drain()
	w.flushWith(ctx)

	w.logger.Info("recorder stopped", "inserts", w.Stats().Inserts)
	return nil
}

// Stats returns current counters.
func (w *Writer) Stats() Stats {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.stats
}

func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case msg := <-w.input:
			w.handleMessage(msg)
		}
	}
}

func (w *Writer) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flushWith(w.ctx)
		}
	}
}

// drain moves whatever is still buffered into the batch.
func (w *Writer) drain() {
	for {
		select {
		case msg := <-w.input:
			w.append(w.transform(msg))
		default:
			return
		}
	}
}

func (w *Writer) handleMessage(msg callback.Message) {
	if w.append(w.transform(msg)) {
		w.flushWith(w.ctx)
	}
}

// append adds a row and reports whether the batch is full.
func (w *Writer) append(row eventRow) bool {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, row)
	return len(w.batch) >= w.cfg.BatchSize
}

func (w *Writer) transform(msg callback.Message) eventRow {
	fields := []byte("[]")
	if len(msg.Fields) > 0 {
		fields, _ = json.Marshal(msg.Fields)
	}

	row := eventRow{
		SessionID:  w.sessionID,
		Event:      msg.Name,
		EventKey:   msg.Key.String(),
		Fields:     fields,
		ReceivedAt: msg.ReceivedAt.UnixMicro(),
	}
	if msg.Key.IsRequest() {
		id := msg.Key.ReqID
		row.ReqID = &id
	}
	return row
}

func (w *Writer) flushWith(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	batch := w.batch
	w.batch = make([]eventRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	if err := w.batchInsert(ctx, batch); err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.stats.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.stats.Inserts += int64(len(batch))
	w.stats.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed events",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

func (w *Writer) batchInsert(ctx context.Context, rows []eventRow) error {
	// A canceled run context must not lose the final flush.
	ctx = context.WithoutCancel(ctx)

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertEvent, r.SessionID, r.Event, r.EventKey, r.ReqID, r.Fields, r.ReceivedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}
