package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrDispatcherClosed is returned by Submit after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Defaults for NewDispatcher.
const (
	DefaultQueueSize   = 16
	DefaultIdleTimeout = time.Minute
)

// Job is one unit of work for a chat.
type Job func(ctx context.Context)

// Dispatcher runs jobs in submission order per chat, with different chats
// in parallel. A chat's goroutine exits after sitting idle.
type Dispatcher struct {
	ctx       context.Context
	queueSize int
	idle      time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	closed  bool
	workers map[int64]*worker
	sending sync.WaitGroup
	wg      sync.WaitGroup
}

type worker struct {
	jobs    chan Job
	pending int // submitters between lookup and send
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

func WithQueueSize(n int) DispatcherOption { return func(d *Dispatcher) { d.queueSize = n } }

func WithIdleTimeout(t time.Duration) DispatcherOption { return func(d *Dispatcher) { d.idle = t } }

func WithDispatcherLogger(l *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher returns a dispatcher whose jobs run with ctx.
func NewDispatcher(ctx context.Context, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		ctx:       ctx,
		queueSize: DefaultQueueSize,
		idle:      DefaultIdleTimeout,
		logger:    zap.NewNop(),
		workers:   map[int64]*worker{},
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("dispatcher")
	return d
}

// Submit queues job behind earlier jobs of the same chat. It blocks while
// that chat's queue is full.
func (d *Dispatcher) Submit(chatID int64, job Job) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	w, ok := d.workers[chatID]
	if !ok {
		w = &worker{jobs: make(chan Job, d.queueSize)}
		d.workers[chatID] = w
		d.wg.Add(1)
		go d.run(chatID, w)
	}
	w.pending++
	d.sending.Add(1)
	d.mu.Unlock()

	w.jobs <- job

	d.mu.Lock()
	w.pending--
	d.mu.Unlock()
	d.sending.Done()
	return nil
}

func (d *Dispatcher) run(chatID int64, w *worker) {
	defer d.wg.Done()
	timer := time.NewTimer(d.idle)
	defer timer.Stop()
	for {
		select {
		case job, ok := <-w.jobs:
			if !ok {
				return
			}
			d.runJob(chatID, job)
			timer.Reset(d.idle)
		case <-timer.C:
			d.mu.Lock()
			if !d.closed && len(w.jobs) == 0 && w.pending == 0 {
				delete(d.workers, chatID)
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			timer.Reset(d.idle)
		}
	}
}

func (d *Dispatcher) runJob(chatID int64, job Job) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("job panicked", zap.Int64("chat_id", chatID), zap.Any("panic", rec))
		}
	}()
	job(d.ctx)
}

// Active reports how many chats currently own a goroutine.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.workers)
}

// Close stops accepting jobs, lets queued jobs finish and waits for every
// chat goroutine to exit.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.sending.Wait()

	d.mu.Lock()
	for id, w := range d.workers {
		close(w.jobs)
		delete(d.workers, id)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
