package director

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/dotsetgreg/chatstore/pkg/logger"
)

// ErrQueueFull is reported to the failure sink when a job could not be
// queued before the enqueue timeout.
var ErrQueueFull = errors.New("background queue full")

// ErrClosed is reported when a job is submitted after Close.
var ErrClosed = errors.New("director closed")

// FailureSink receives every background write that did not complete.
type FailureSink func(job string, err error)

func logFailure(job string, err error) {
	logger.ErrorCF("director", "Background write failed", map[string]interface{}{
		"job":   job,
		"error": err.Error(),
	})
}

type job struct {
	key  string
	name string
	run  func(ctx context.Context) error
}

// backgroundWriter runs fire-and-forget writes on a fixed set of workers.
// Jobs sharing a key land on the same worker, so they apply in submission
// order.
type backgroundWriter struct {
	shards         []chan job
	enqueueTimeout time.Duration
	jobTimeout     time.Duration
	sink           FailureSink

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func newBackgroundWriter(workers, queueSize int, enqueueTimeout, jobTimeout time.Duration, sink FailureSink) *backgroundWriter {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if sink == nil {
		sink = logFailure
	}
	w := &backgroundWriter{
		shards:         make([]chan job, workers),
		enqueueTimeout: enqueueTimeout,
		jobTimeout:     jobTimeout,
		sink:           sink,
	}
	for i := range w.shards {
		ch := make(chan job, queueSize)
		w.shards[i] = ch
		w.wg.Add(1)
		go w.runWorker(ch)
	}
	return w
}

func (w *backgroundWriter) shardFor(key string) chan job {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return w.shards[h.Sum32()%uint32(len(w.shards))]
}

// submit queues j. When the shard stays full past the enqueue timeout the
// job is dropped and reported.
func (w *backgroundWriter) submit(j job) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		backgroundDropped.Inc()
		w.sink(j.name, ErrClosed)
		return false
	}

	ch := w.shardFor(j.key)
	select {
	case ch <- j:
		return true
	default:
	}

	timer := time.NewTimer(w.enqueueTimeout)
	defer timer.Stop()
	select {
	case ch <- j:
		return true
	case <-timer.C:
		backgroundDropped.Inc()
		w.sink(j.name, ErrQueueFull)
		return false
	}
}

func (w *backgroundWriter) runWorker(ch chan job) {
	defer w.wg.Done()
	for j := range ch {
		if err := w.execute(j); err != nil {
			backgroundFailed.Inc()
			w.sink(j.name, err)
			continue
		}
		backgroundSucceeded.Inc()
	}
}

func (w *backgroundWriter) execute(j job) (err error) {
	ctx := context.Background()
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return j.run(ctx)
}

// close stops intake and waits until every queued job has run.
func (w *backgroundWriter) close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	for _, ch := range w.shards {
		close(ch)
	}
	w.mu.Unlock()
	w.wg.Wait()
}
