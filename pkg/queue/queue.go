// Package queue provides lane-based task scheduling. Each lane executes its
// tasks with bounded concurrency (one by default), so enqueueing runs on a
// per-session lane serializes them while separate lanes proceed in parallel.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/flexygent/flexygent/internal/metrics"
	"github.com/flexygent/flexygent/internal/tracing"
)

// DefaultLane receives tasks enqueued without an explicit lane.
const DefaultLane = "main"

// ErrClosed is returned by Enqueue after Close has been called.
var ErrClosed = errors.New("queue is closed")

// Task is an asynchronous operation executed on a lane. The context is
// cancelled when the queue shuts down hard.
type Task func(ctx context.Context) error

type taskRecord struct {
	id         string
	name       string
	fn         Task
	ctx        context.Context
	enqueuedAt time.Time
}

type laneState struct {
	concurrency int
	queue       []*taskRecord
	running     int
	mu          sync.Mutex
}

// Queue dispatches tasks across named lanes. Enqueue returns as soon as the
// task is accepted; execution happens on the lane in FIFO order.
type Queue struct {
	lanes  map[string]*laneState
	seq    int
	closed bool
	mu     sync.RWMutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a queue with the default lane initialized.
func New() *Queue {
	metrics.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
	}
	q.initLane(DefaultLane, 1)

	return q
}

func (q *Queue) initLane(lane string, concurrency int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.lanes[lane]; !exists {
		q.lanes[lane] = &laneState{
			concurrency: concurrency,
			queue:       make([]*taskRecord, 0),
		}
		log.Debug().Str("lane", lane).Int("concurrency", concurrency).Msg("Lane initialized")
	}
}

func (q *Queue) ensureLane(lane string) {
	q.mu.RLock()
	_, exists := q.lanes[lane]
	q.mu.RUnlock()

	if !exists {
		q.initLane(lane, 1)
	}
}

// Enqueue accepts a task for the given lane. An empty lane means the default
// lane. The task starts once the lane has capacity; enqueue order is
// preserved within a lane.
func (q *Queue) Enqueue(ctx context.Context, lane, name string, fn Task) error {
	if fn == nil {
		return errors.New("task fn is required")
	}
	if lane == "" {
		lane = DefaultLane
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"flexygent.queue",
		"queue.enqueue",
		attribute.String("lane", lane),
		attribute.String("task", name),
	)
	defer span.End()

	if tracing.GetSession(ctx) == "" {
		ctx = tracing.WithSession(ctx, lane)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		span.SetStatus(codes.Error, ErrClosed.Error())
		return ErrClosed
	}
	q.seq++
	taskID := fmt.Sprintf("%s-%d", lane, q.seq)
	// Registering under the same lock as the closed check keeps Close's
	// Wait from racing an accepted task.
	q.wg.Add(1)
	q.mu.Unlock()

	q.ensureLane(lane)

	record := &taskRecord{
		id:         taskID,
		name:       name,
		fn:         fn,
		ctx:        ctx,
		enqueuedAt: time.Now(),
	}

	q.mu.RLock()
	ls := q.lanes[lane]
	q.mu.RUnlock()

	ls.mu.Lock()
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	tracing.LoggerFromContext(ctx, log.Logger).Debug().
		Str("lane", lane).
		Str("task_id", taskID).
		Str("task", name).
		Int("queue_size", queueSize).
		Msg("Task enqueued")

	metrics.RecordQueueEnqueue(lane, queueSize)

	go q.processLane(lane)

	return nil
}

// processLane starts queued tasks while the lane has capacity.
func (q *Queue) processLane(lane string) {
	q.mu.RLock()
	ls := q.lanes[lane]
	q.mu.RUnlock()
	if ls == nil {
		return
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]
		ls.running++

		go q.executeTask(lane, record)
	}
}

func (q *Queue) executeTask(lane string, record *taskRecord) {
	defer q.wg.Done()

	taskCtx, span := tracing.StartSpan(
		record.ctx,
		"flexygent.queue",
		"queue.execute_task",
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
		attribute.String("task", record.name),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(taskCtx, log.Logger)

	// A hard shutdown cancels in-flight tasks through their context.
	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(q.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	logger.Debug().
		Str("lane", lane).
		Str("task_id", record.id).
		Dur("waited", time.Since(record.enqueuedAt)).
		Msg("Task started")

	start := time.Now()
	err := record.fn(runCtx)
	duration := time.Since(start)

	q.mu.RLock()
	ls := q.lanes[lane]
	q.mu.RUnlock()

	ls.mu.Lock()
	ls.running--
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().
			Str("lane", lane).
			Str("task_id", record.id).
			Str("task", record.name).
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
	} else {
		logger.Debug().
			Str("lane", lane).
			Str("task_id", record.id).
			Dur("duration", duration).
			Msg("Task completed")
	}

	metrics.RecordQueueCompletion(lane, duration, err == nil, queueSize)

	go q.processLane(lane)
}

// SetConcurrency updates a lane's concurrency limit, creating the lane if
// needed.
func (q *Queue) SetConcurrency(lane string, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	q.ensureLane(lane)

	q.mu.RLock()
	ls := q.lanes[lane]
	q.mu.RUnlock()

	ls.mu.Lock()
	old := ls.concurrency
	ls.concurrency = concurrency
	ls.mu.Unlock()

	log.Info().
		Str("lane", lane).
		Int("old", old).
		Int("new", concurrency).
		Msg("Lane concurrency updated")

	if concurrency > old {
		go q.processLane(lane)
	}
}

// QueueSize returns the number of queued (not yet running) tasks on a lane.
func (q *Queue) QueueSize(lane string) int {
	q.mu.RLock()
	ls, exists := q.lanes[lane]
	q.mu.RUnlock()
	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// RunningCount returns the number of currently executing tasks on a lane.
func (q *Queue) RunningCount(lane string) int {
	q.mu.RLock()
	ls, exists := q.lanes[lane]
	q.mu.RUnlock()
	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.running
}

// Stats reports queued/running/concurrency per lane.
func (q *Queue) Stats() map[string]map[string]int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := make(map[string]map[string]int)
	for lane, ls := range q.lanes {
		ls.mu.Lock()
		stats[lane] = map[string]int{
			"queued":      len(ls.queue),
			"running":     ls.running,
			"concurrency": ls.concurrency,
		}
		ls.mu.Unlock()
	}
	return stats
}

// Close stops accepting tasks and drains accepted ones. If ctx expires
// before the drain finishes, in-flight tasks are cancelled and the context
// error is returned.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		log.Info().Msg("Queue drained")
		return nil
	case <-ctx.Done():
		q.cancel()
		log.Warn().Msg("Queue drain interrupted")
		return fmt.Errorf("queue drain interrupted: %w", ctx.Err())
	}
}
