package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/agentapi/internal/observability"
	"github.com/harun/agentapi/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrClosed is returned for tasks enqueued after, or still queued at, Close.
var ErrClosed = errors.New("command queue closed")

// Task represents an operation to be executed in a lane
type Task func(ctx context.Context) (interface{}, error)

// TaskOptions provides configuration for task execution
type TaskOptions struct {
	// WarnAfter logs a warning if the task is still queued after this long.
	WarnAfter time.Duration
	OnWait    func(wait time.Duration, queuePos int)
}

// taskRecord tracks a task's execution state
type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	options    TaskOptions
	result     chan taskResult
}

type taskResult struct {
	value interface{}
	err   error
}

// laneState holds the FIFO of one lane. At most one task per lane runs.
type laneState struct {
	queue   []*taskRecord
	running bool
}

// CommandQueue serializes tasks that share a lane name. Different lanes run
// concurrently. A lane exists only while it has queued or running work.
type CommandQueue struct {
	mu     sync.Mutex
	lanes  map[string]*laneState
	seq    int
	closed bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an empty CommandQueue.
func New() *CommandQueue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())
	return &CommandQueue{
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Enqueue adds a task to the specified lane and waits for its result.
func (cq *CommandQueue) Enqueue(lane string, task Task, options *TaskOptions) (interface{}, error) {
	return cq.EnqueueWithContext(context.Background(), lane, task, options)
}

// EnqueueWithContext adds a task to lane and waits for its result. If ctx is
// done while the task is still queued, the task is dropped and ctx.Err() is
// returned. A running task receives ctx and is waited for.
func (cq *CommandQueue) EnqueueWithContext(ctx context.Context, lane string, task Task, options *TaskOptions) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if task == nil {
		return nil, errors.New("task is required")
	}

	ctx, span := tracing.StartSpan(ctx, tracing.TracerQueue, "commandqueue.enqueue",
		attribute.String("lane", lane),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("lane", lane).Logger()

	opts := TaskOptions{}
	if options != nil {
		opts = *options
	}

	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return nil, ErrClosed
	}
	cq.seq++
	record := &taskRecord{
		id:         fmt.Sprintf("%s-%d", lane, cq.seq),
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		options:    opts,
		result:     make(chan taskResult, 1),
	}
	ls, ok := cq.lanes[lane]
	if !ok {
		ls = &laneState{}
		cq.lanes[lane] = ls
	}
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	cq.mu.Unlock()

	observability.SetQueueDepth(lane, queueSize)
	logger.Debug().
		Str("taskId", record.id).
		Int("queueSize", queueSize).
		Msg("Task enqueued")

	if opts.WarnAfter > 0 {
		go cq.startWarnTimer(record, lane)
	}

	cq.processLane(lane)

	var result taskResult
	select {
	case result = <-record.result:
	case <-ctx.Done():
		if cq.dequeue(lane, record) {
			logger.Debug().Str("taskId", record.id).Msg("Task abandoned while queued")
			result = taskResult{err: ctx.Err()}
		} else {
			result = <-record.result
		}
	}

	if result.err != nil {
		span.RecordError(result.err)
		span.SetStatus(codes.Error, result.err.Error())
	}
	return result.value, result.err
}

// processLane starts the lane head if nothing in the lane is running.
func (cq *CommandQueue) processLane(lane string) {
	cq.mu.Lock()
	ls, ok := cq.lanes[lane]
	if !ok || ls.running || len(ls.queue) == 0 {
		cq.mu.Unlock()
		return
	}
	record := ls.queue[0]
	ls.queue = ls.queue[1:]
	ls.running = true
	queueSize := len(ls.queue)
	cq.wg.Add(1)
	cq.mu.Unlock()

	observability.SetQueueDepth(lane, queueSize)
	go cq.executeTask(lane, record)
}

// executeTask executes a single task
func (cq *CommandQueue) executeTask(lane string, record *taskRecord) {
	defer cq.wg.Done()

	taskCtx, span := tracing.StartSpan(record.ctx, tracing.TracerQueue, "commandqueue.execute_task",
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(taskCtx, log.Logger).With().Str("lane", lane).Logger()

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	startTime := time.Now()
	value, err := runTask(runCtx, record.task)
	duration := time.Since(startTime)

	cq.mu.Lock()
	ls := cq.lanes[lane]
	ls.running = false
	if len(ls.queue) == 0 {
		delete(cq.lanes, lane)
		observability.DeleteQueueLane(lane)
	}
	cq.mu.Unlock()

	record.result <- taskResult{value: value, err: err}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Debug().
			Str("taskId", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
	} else {
		logger.Debug().
			Str("taskId", record.id).
			Dur("duration", duration).
			Msg("Task completed")
	}
	observability.RecordQueueTask(duration, err == nil)

	cq.processLane(lane)
}

func runTask(ctx context.Context, task Task) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

// dequeue removes a still-queued record. It reports false if the record
// already started or was rejected.
func (cq *CommandQueue) dequeue(lane string, record *taskRecord) bool {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	ls, ok := cq.lanes[lane]
	if !ok {
		return false
	}
	for i, r := range ls.queue {
		if r == record {
			ls.queue = append(ls.queue[:i], ls.queue[i+1:]...)
			observability.SetQueueDepth(lane, len(ls.queue))
			if len(ls.queue) == 0 && !ls.running {
				delete(cq.lanes, lane)
				observability.DeleteQueueLane(lane)
			}
			return true
		}
	}
	return false
}

// startWarnTimer warns when a task waits in its lane longer than expected
func (cq *CommandQueue) startWarnTimer(record *taskRecord, lane string) {
	timer := time.NewTimer(record.options.WarnAfter)
	defer timer.Stop()

	select {
	case <-timer.C:
		queuePos := -1
		cq.mu.Lock()
		if ls, ok := cq.lanes[lane]; ok {
			for i, r := range ls.queue {
				if r == record {
					queuePos = i
					break
				}
			}
		}
		cq.mu.Unlock()

		if queuePos >= 0 {
			wait := time.Since(record.enqueuedAt)
			log.Warn().
				Str("lane", lane).
				Str("taskId", record.id).
				Dur("wait", wait).
				Int("queuePos", queuePos).
				Msg("Task waiting longer than expected")

			if record.options.OnWait != nil {
				record.options.OnWait(wait, queuePos)
			}
		}
	case <-record.ctx.Done():
	case <-cq.ctx.Done():
	}
}

// GetQueueSize returns the number of queued tasks for a lane
func (cq *CommandQueue) GetQueueSize(lane string) int {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	if ls, ok := cq.lanes[lane]; ok {
		return len(ls.queue)
	}
	return 0
}

// IsRunning reports whether a task in lane is executing.
func (cq *CommandQueue) IsRunning(lane string) bool {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	ls, ok := cq.lanes[lane]
	return ok && ls.running
}

// LaneCount returns the number of lanes with queued or running work.
func (cq *CommandQueue) LaneCount() int {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	return len(cq.lanes)
}

// WaitForActive waits until no lane has work, or timeout elapses.
func (cq *CommandQueue) WaitForActive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if cq.LaneCount() == 0 {
			return true
		}
		if time.Now().After(deadline) {
			log.Warn().Dur("timeout", timeout).Msg("Timeout waiting for active tasks")
			return false
		}
		<-ticker.C
	}
}

// Close rejects queued tasks with ErrClosed, cancels running tasks and waits
// for them to return.
func (cq *CommandQueue) Close() error {
	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return nil
	}
	cq.closed = true
	var rejected []*taskRecord
	for lane, ls := range cq.lanes {
		rejected = append(rejected, ls.queue...)
		ls.queue = nil
		if !ls.running {
			delete(cq.lanes, lane)
			observability.DeleteQueueLane(lane)
		}
	}
	cq.mu.Unlock()

	for _, record := range rejected {
		record.result <- taskResult{err: ErrClosed}
	}

	cq.cancel()
	cq.wg.Wait()
	return nil
}
