package collector

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/optiinfra/optiinfra/internal/apperrors"
	"github.com/optiinfra/optiinfra/internal/concurrency"
	"github.com/optiinfra/optiinfra/internal/config"
	"github.com/optiinfra/optiinfra/internal/credentials"
	"github.com/optiinfra/optiinfra/internal/events"
	"github.com/optiinfra/optiinfra/internal/logger"
	"github.com/optiinfra/optiinfra/internal/providers"
	"github.com/optiinfra/optiinfra/internal/storage/relational"
	"github.com/optiinfra/optiinfra/internal/storage/timeseries"
	"github.com/optiinfra/optiinfra/internal/telemetry"
)

// tuple identifies one scheduled collection unit.
type tuple struct {
	CustomerID uuid.UUID
	Provider   string
	DataType   string
}

// Scheduler drives the collection pipeline: it enumerates enabled
// (customer, provider, data type) tuples, fans pulls out over a bounded
// worker pool with per-provider limits, and records every attempt.
type Scheduler struct {
	cfg      config.SchedulerConfig
	timeouts config.TimeoutConfig

	creds    *credentials.Service
	registry *providers.Registry
	writer   *Writer
	store    *relational.Store
	rec      *events.Recorder

	pool        *concurrency.WorkerPool
	perProvider *concurrency.KeyedSemaphore

	mu      sync.Mutex
	lastRun map[tuple]time.Time

	log    logger.Logger
	tracer trace.Tracer
}

// NewScheduler wires the collection engine.
func NewScheduler(cfg config.SchedulerConfig, timeouts config.TimeoutConfig, creds *credentials.Service, registry *providers.Registry, writer *Writer, store *relational.Store, rec *events.Recorder) *Scheduler {
	return &Scheduler{
		cfg:         cfg,
		timeouts:    timeouts,
		creds:       creds,
		registry:    registry,
		writer:      writer,
		store:       store,
		rec:         rec,
		pool:        concurrency.NewWorkerPool(cfg.Workers),
		perProvider: concurrency.NewKeyedSemaphore(cfg.PerProviderLimit),
		lastRun:     make(map[tuple]time.Time),
		log:         logger.New("scheduler"),
		tracer:      telemetry.Tracer("scheduler"),
	}
}

// Run ticks once a minute and enqueues every due tuple until ctx ends.
// The tick is an internal timer; no external scheduler is involved.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	s.enqueueDue(ctx)
	for {
		select {
		case <-ticker.C:
			s.enqueueDue(ctx)
		case <-ctx.Done():
			s.pool.Shutdown(30 * time.Second)
			return
		}
	}
}

// enqueueDue submits a collection task for every enabled, verified tuple
// whose interval has elapsed.
func (s *Scheduler) enqueueDue(ctx context.Context) {
	rows, err := s.creds.ListEnabled(ctx)
	if err != nil {
		s.log.Error("enumerate credentials failed", logger.Error(err))
		return
	}

	now := time.Now()
	for _, row := range rows {
		if !row.IsVerified {
			continue
		}
		for _, dataType := range s.registry.DataTypes(row.Provider) {
			t := tuple{CustomerID: row.CustomerID, Provider: row.Provider, DataType: dataType}

			s.mu.Lock()
			last, seen := s.lastRun[t]
			due := !seen || now.Sub(last) >= s.cfg.Interval(t.Provider, t.DataType)
			if due {
				s.lastRun[t] = now
			}
			s.mu.Unlock()
			if !due {
				continue
			}

			if err := s.pool.Submit(func() {
				s.collect(ctx, t.CustomerID, t.Provider, []string{t.DataType}, relational.TriggerScheduled)
			}); err != nil {
				return
			}
		}
	}
}

// TriggerRequest is one on-demand collection request.
type TriggerRequest struct {
	CustomerID uuid.UUID `json:"customer_id"`
	Provider   string    `json:"provider"`
	DataTypes  []string  `json:"data_types"`
	AsyncMode  bool      `json:"async_mode"`
}

// TriggerResult is returned to the HTTP edge. Async triggers carry only
// the history id; sync triggers block and carry the full outcome.
type TriggerResult struct {
	HistoryID        uuid.UUID `json:"history_id"`
	Status           string    `json:"status"`
	MetricsCollected int       `json:"metrics_collected"`
	RowsRejected     int       `json:"rows_rejected"`
	Errors           []string  `json:"errors,omitempty"`
}

// Trigger runs one on-demand collection. With AsyncMode the attempt runs
// on the pool and the history id returns immediately.
func (s *Scheduler) Trigger(ctx context.Context, req TriggerRequest) (*TriggerResult, error) {
	if req.Provider == "" {
		return nil, apperrors.New(apperrors.KindValidation, "scheduler", "provider is required")
	}
	if len(req.DataTypes) == 0 {
		req.DataTypes = s.registry.DataTypes(req.Provider)
	}
	for _, dt := range req.DataTypes {
		if !timeseries.ValidDataType(dt) {
			return nil, apperrors.Newf(apperrors.KindValidation, "scheduler", "unknown data type %q", dt)
		}
		if _, err := s.registry.Get(req.Provider, dt); err != nil {
			return nil, err
		}
	}
	// The credential must exist before we accept the trigger.
	if _, err := s.creds.GetRow(ctx, req.CustomerID, req.Provider); err != nil {
		return nil, err
	}

	if req.AsyncMode {
		historyID := uuid.New()
		if err := s.pool.Submit(func() {
			s.collectWithID(context.Background(), historyID, req.CustomerID, req.Provider, req.DataTypes, relational.TriggerOnDemand)
		}); err != nil {
			return nil, apperrors.Wrap(err, apperrors.KindUnavailable, "scheduler", "submit collection")
		}
		return &TriggerResult{HistoryID: historyID, Status: relational.CollectionRunning}, nil
	}

	rec := s.collect(ctx, req.CustomerID, req.Provider, req.DataTypes, relational.TriggerOnDemand)
	if rec == nil {
		return nil, apperrors.New(apperrors.KindInternal, "scheduler", "collection produced no record")
	}
	result := &TriggerResult{
		HistoryID:        rec.ID,
		Status:           rec.Status,
		MetricsCollected: rec.MetricsCollected,
		RowsRejected:     rec.RowsRejected,
	}
	if rec.Error != nil {
		result.Errors = strings.Split(*rec.Error, "; ")
	}
	return result, nil
}

func (s *Scheduler) collect(ctx context.Context, customerID uuid.UUID, provider string, dataTypes []string, triggerKind string) *relational.CollectionRecord {
	return s.collectWithID(ctx, uuid.New(), customerID, provider, dataTypes, triggerKind)
}

// collectWithID runs one collection attempt end to end: history row,
// per-provider pacing, adapter pulls, writer batches, terminal status.
func (s *Scheduler) collectWithID(ctx context.Context, historyID uuid.UUID, customerID uuid.UUID, provider string, dataTypes []string, triggerKind string) *relational.CollectionRecord {
	ctx, span := s.tracer.Start(ctx, "collect",
		trace.WithAttributes(
			attribute.String("provider", provider),
			attribute.StringSlice("data_types", dataTypes),
		))
	defer span.End()

	rec := &relational.CollectionRecord{
		ID:          historyID,
		CustomerID:  customerID,
		Provider:    provider,
		DataTypes:   pq.StringArray(dataTypes),
		TriggerKind: triggerKind,
		StartedAt:   time.Now().UTC(),
	}
	if err := s.store.StartCollection(ctx, rec); err != nil {
		s.log.Error("start collection failed", logger.Error(err))
		return nil
	}

	s.rec.Publish(events.New(events.CollectionStarted, "scheduler", map[string]interface{}{
		"history_id": historyID.String(),
		"provider":   provider,
		"data_types": dataTypes,
	}).ForCustomer(customerID))

	status, collected, rejected, errSummary := s.collectAll(ctx, customerID, provider, dataTypes)

	rec.Status = status
	rec.MetricsCollected = collected
	rec.RowsRejected = rejected
	if errSummary != "" {
		rec.Error = &errSummary
	}
	if err := s.store.CompleteCollection(ctx, historyID, status, collected, rejected, errSummary); err != nil {
		s.log.Error("complete collection failed", logger.Error(err))
	}

	for _, dt := range dataTypes {
		telemetry.CollectionsTotal.WithLabelValues(provider, dt, status).Inc()
		telemetry.CollectionDuration.WithLabelValues(provider, dt).
			Observe(time.Since(rec.StartedAt).Seconds())
	}

	eventType := events.CollectionCompleted
	switch status {
	case relational.CollectionPartial:
		eventType = events.CollectionPartial
	case relational.CollectionFailed:
		eventType = events.CollectionFailed
	}
	s.rec.Publish(events.New(eventType, "scheduler", map[string]interface{}{
		"history_id":        historyID.String(),
		"provider":          provider,
		"status":            status,
		"metrics_collected": collected,
	}).ForCustomer(customerID))

	return rec
}

// collectAll pulls every requested data type and aggregates the outcome.
func (s *Scheduler) collectAll(ctx context.Context, customerID uuid.UUID, provider string, dataTypes []string) (status string, collected, rejected int, errSummary string) {
	cred, err := s.creds.FetchByProvider(ctx, customerID, provider)
	if err != nil {
		return relational.CollectionFailed, 0, 0, err.Error()
	}
	if !cred.IsVerified && !cred.Demo() {
		return relational.CollectionFailed, 0, 0,
			fmt.Sprintf("credential for %s is not verified", provider)
	}

	var errs *multierror.Error
	partial := false

	for _, dataType := range dataTypes {
		w, r, derr, dpartial := s.collectOne(ctx, cred, provider, dataType)
		collected += w
		rejected += r
		partial = partial || dpartial
		if derr != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", dataType, derr))
		}
	}

	if errs != nil {
		errSummary = joinErrors(errs)
	}
	status, errSummary = summarize(collected, rejected, partial, errSummary)
	return status, collected, rejected, errSummary
}

// summarize maps an aggregated pull outcome to a terminal history
// status. Success always implies at least one stored row: a clean pull
// over an empty window lands as partial with an explanatory summary.
func summarize(collected, rejected int, partial bool, errSummary string) (string, string) {
	clean := errSummary == "" && !partial
	switch {
	case clean && collected > 0:
		return relational.CollectionSuccess, ""
	case clean:
		return relational.CollectionPartial, "no rows in collection window"
	case collected > 0:
		return relational.CollectionPartial, errSummary
	default:
		return relational.CollectionFailed, errSummary
	}
}

// collectOne runs a single (provider, data type) pull under the
// per-provider limit and the adapter deadline.
func (s *Scheduler) collectOne(ctx context.Context, cred *credentials.Decrypted, provider, dataType string) (written, rejected int, err error, partial bool) {
	adapter, err := s.registry.Get(provider, dataType)
	if err != nil {
		return 0, 0, err, false
	}

	if err := s.perProvider.Acquire(ctx, provider); err != nil {
		return 0, 0, err, false
	}
	defer s.perProvider.Release(provider)

	cursor, err := s.store.GetCursor(ctx, cred.CustomerID, provider, dataType)
	if err != nil {
		return 0, 0, err, false
	}
	since, until := s.window(ctx, cred.CustomerID, provider, dataType)

	adapterCtx, cancel := context.WithTimeout(ctx, s.timeouts.Adapter)
	defer cancel()

	result, err := adapter.Collect(adapterCtx, providers.Request{
		Credential: cred,
		Since:      since,
		Until:      until,
		Cursor:     cursor,
	})
	if err != nil {
		if apperrors.IsCredential(err) {
			s.creds.MarkInvalid(ctx, cred.ID, err)
		}
		return 0, 0, err, false
	}

	writeResult, err := s.writer.Write(ctx, &result.Batch)
	if err != nil {
		return 0, 0, err, false
	}

	if result.NextCursor != "" {
		if cerr := s.store.SaveCursor(ctx, cred.CustomerID, provider, dataType, result.NextCursor); cerr != nil {
			s.log.Error("save cursor failed", logger.Error(cerr))
		}
	}

	partial = result.Partial || writeResult.Rejected > 0
	if len(result.Errors) > 0 || len(writeResult.Errors) > 0 {
		all := append(append([]string{}, result.Errors...), writeResult.Errors...)
		err = apperrors.Newf(apperrors.KindPartial, "scheduler", "%s", strings.Join(all, "; "))
	}
	return writeResult.Written, writeResult.Rejected, err, partial
}

// window computes [since, now]: the last successful end, capped at the
// configured max lookback.
func (s *Scheduler) window(ctx context.Context, customerID uuid.UUID, provider, dataType string) (time.Time, time.Time) {
	now := time.Now().UTC()
	since := now.Add(-s.cfg.MaxLookback)

	last, err := s.store.LastSuccessfulCollection(ctx, customerID, provider, dataType)
	if err != nil {
		s.log.Warn("last collection lookup failed", logger.Error(err))
	} else if last != nil && last.After(since) {
		since = *last
	}
	return since, now
}

func joinErrors(errs *multierror.Error) string {
	parts := make([]string, 0, len(errs.Errors))
	for _, e := range errs.Errors {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}
