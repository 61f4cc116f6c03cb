// Package telemetry delivers lifecycle analytics events to the store without
// ever blocking or failing the pipeline that emits them. Events go through a
// bounded channel drained by one goroutine; when the buffer is full the event
// is dropped and counted instead of stalling a stage.
package telemetry

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/you/faceoff/internal/store"
)

// Event is one fire-and-forget analytics record.
type Event struct {
	UserID      string
	JobID       string
	EventName   string
	StageNumber *int
	Properties  map[string]any
}

type Emitter struct {
	st      store.Store
	log     *zap.Logger
	ch      chan Event
	quit    chan struct{}
	dropped atomic.Uint64
	wg      sync.WaitGroup
	closing atomic.Bool
}

func NewEmitter(st store.Store, log *zap.Logger, buffer int) *Emitter {
	if buffer < 1 {
		buffer = 1
	}
	return &Emitter{st: st, log: log, ch: make(chan Event, buffer), quit: make(chan struct{})}
}

// Start launches the consumer. It returns immediately; the consumer stops when
// Close is called or ctx is cancelled. The event channel is never closed, so a
// producer racing a shutdown can only be dropped, never panic.
func (e *Emitter) Start(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.quit:
				e.drain(ctx)
				return
			case ev := <-e.ch:
				e.insert(ctx, ev)
			}
		}
	}()
}

// drain flushes whatever is already buffered at shutdown.
func (e *Emitter) drain(ctx context.Context) {
	for {
		select {
		case ev := <-e.ch:
			e.insert(ctx, ev)
		default:
			return
		}
	}
}

// Emit enqueues an event without blocking. A full buffer or a closed emitter
// drops the event and bumps the counter.
func (e *Emitter) Emit(ev Event) {
	if ev.UserID == "" || e.closing.Load() {
		return
	}
	select {
	case e.ch <- ev:
	default:
		e.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded due to backpressure.
func (e *Emitter) Dropped() uint64 { return e.dropped.Load() }

// Close stops accepting events and waits for the consumer to drain.
func (e *Emitter) Close() {
	if e.closing.Swap(true) {
		return
	}
	close(e.quit)
	e.wg.Wait()
}

func (e *Emitter) insert(ctx context.Context, ev Event) {
	row := map[string]any{
		"user_id":    ev.UserID,
		"event_name": ev.EventName,
		"properties": ev.Properties,
	}
	if ev.Properties == nil {
		row["properties"] = map[string]any{}
	}
	if ev.JobID != "" {
		row["job_id"] = ev.JobID
	}
	if ev.StageNumber != nil {
		row["stage_number"] = *ev.StageNumber
	}
	if _, err := e.st.InsertOne(ctx, store.TableAnalyticsEvents, row); err != nil {
		e.dropped.Add(1)
		e.log.Debug("analytics event insert failed", zap.String("event", ev.EventName), zap.Error(err))
	}
}
