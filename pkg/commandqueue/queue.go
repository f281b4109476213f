// Package commandqueue serializes agent turns per conversation. Each
// conversation key gets its own lane running one turn at a time, so two
// messages on the same conversation never interleave tool execution or
// transcript writes, while different conversations proceed in parallel.
package commandqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/taskdeck/taskdeck/internal/tracing"
)

// Turn is a unit of work executed on a lane.
type Turn func(ctx context.Context) (interface{}, error)

type turnRecord struct {
	id         string
	turn       Turn
	ctx        context.Context
	enqueuedAt time.Time
	result     chan turnResult
}

type turnResult struct {
	value interface{}
	err   error
}

type laneState struct {
	queue   []*turnRecord
	running bool
	mu      sync.Mutex
}

// Queue dispatches turns onto per-conversation lanes.
type Queue struct {
	lanes  map[string]*laneState
	idSeq  int
	mu     sync.Mutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an empty Queue. Lanes are created on first use.
func New() *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Enqueue places a turn on the lane for the given conversation key and
// blocks until the turn has run. Turns on the same lane run in enqueue
// order, one at a time.
func (q *Queue) Enqueue(ctx context.Context, lane string, turn Turn) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"taskdeck.commandqueue",
		"commandqueue.enqueue",
		attribute.String("lane", lane),
	)
	defer span.End()

	if tracing.GetConversationKey(ctx) == "" {
		ctx = tracing.WithConversationKey(ctx, lane)
	}
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("lane", lane).Logger()

	q.mu.Lock()
	ls, ok := q.lanes[lane]
	if !ok {
		ls = &laneState{}
		q.lanes[lane] = ls
	}
	q.idSeq++
	record := &turnRecord{
		id:         fmt.Sprintf("%s-%d", lane, q.idSeq),
		turn:       turn,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		result:     make(chan turnResult, 1),
	}
	q.mu.Unlock()

	ls.mu.Lock()
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	logger.Debug().Str("turn_id", record.id).Int("queue_size", queueSize).Msg("Turn enqueued")

	go q.processLane(lane, ls)

	result := <-record.result
	if result.err != nil {
		span.RecordError(result.err)
		span.SetStatus(codes.Error, result.err.Error())
	}
	return result.value, result.err
}

func (q *Queue) processLane(lane string, ls *laneState) {
	ls.mu.Lock()
	if ls.running || len(ls.queue) == 0 {
		ls.mu.Unlock()
		return
	}
	record := ls.queue[0]
	ls.queue = ls.queue[1:]
	ls.running = true
	ls.mu.Unlock()

	q.wg.Add(1)
	go q.runTurn(lane, ls, record)
}

func (q *Queue) runTurn(lane string, ls *laneState, record *turnRecord) {
	defer q.wg.Done()

	runCtx, cancel := context.WithCancel(record.ctx)
	stopCancel := context.AfterFunc(q.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	logger := tracing.LoggerFromContext(runCtx, log.Logger).With().Str("lane", lane).Logger()
	start := time.Now()

	value, err := record.turn(runCtx)
	duration := time.Since(start)

	ls.mu.Lock()
	ls.running = false
	ls.mu.Unlock()

	record.result <- turnResult{value: value, err: err}
	close(record.result)

	if err != nil {
		logger.Error().Str("turn_id", record.id).Dur("duration", duration).Err(err).Msg("Turn failed")
	} else {
		logger.Debug().Str("turn_id", record.id).Dur("duration", duration).Msg("Turn completed")
	}

	go q.processLane(lane, ls)
}

// QueueSize returns the number of waiting turns on a lane.
func (q *Queue) QueueSize(lane string) int {
	q.mu.Lock()
	ls, ok := q.lanes[lane]
	q.mu.Unlock()
	if !ok {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// Stats reports queued and running counts per lane.
func (q *Queue) Stats() map[string]map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := make(map[string]map[string]int)
	for lane, ls := range q.lanes {
		ls.mu.Lock()
		running := 0
		if ls.running {
			running = 1
		}
		stats[lane] = map[string]int{
			"queued":  len(ls.queue),
			"running": running,
		}
		ls.mu.Unlock()
	}
	return stats
}

// Close cancels in-flight turn contexts and waits for running turns to
// return.
func (q *Queue) Close() error {
	q.cancel()
	q.wg.Wait()
	return nil
}
