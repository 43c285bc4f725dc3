package notify

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"smart-doorbell-go/config"
	"smart-doorbell-go/internal/core/models"

	log "github.com/sirupsen/logrus"
)

// DeliveryRecorder persists the outcome of each job
type DeliveryRecorder interface {
	SaveDelivery(delivery *models.Delivery) error
}

// WorkerPool gives every sink its own queue and workers, so a hung sink only
// ever backs up its own jobs
type WorkerPool struct {
	queues   []*sinkQueue
	recorder DeliveryRecorder
	timeout  time.Duration
	workers  int

	// guards closing the queues against concurrent Dispatch
	closeMutex sync.RWMutex
	closed     bool
	wg         sync.WaitGroup
}

// sinkQueue is the queue and counters of one sink
type sinkQueue struct {
	notifier Notifier
	jobs     chan *job

	active    atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

type job struct {
	event      Event
	enqueuedAt time.Time
}

// SinkStats is the state of one sink queue
type SinkStats struct {
	Name          string `json:"name"`
	QueueCapacity int    `json:"queue_capacity"`
	Queued        int    `json:"queued"`
	Active        int    `json:"active"`
	Delivered     int64  `json:"delivered"`
	Failed        int64  `json:"failed"`
	Dropped       int64  `json:"dropped"`
}

// Stats is a snapshot of the pool. The totals sum up the sinks.
type Stats struct {
	Workers       int         `json:"workers_per_sink"`
	QueueCapacity int         `json:"queue_capacity"`
	Queued        int         `json:"queued"`
	Active        int         `json:"active"`
	Delivered     int64       `json:"delivered"`
	Failed        int64       `json:"failed"`
	Dropped       int64       `json:"dropped"`
	Sinks         []SinkStats `json:"sinks"`
}

// NewWorkerPool starts cfg.Workers goroutines per sink, each sink with a queue
// of cfg.QueueSize jobs. recorder may be nil.
func NewWorkerPool(cfg config.NotifyConfig, recorder DeliveryRecorder, notifiers ...Notifier) *WorkerPool {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	queueSize := cfg.QueueSize
	if queueSize < 1 {
		queueSize = workers * 2
	}

	pool := &WorkerPool{
		recorder: recorder,
		timeout:  time.Duration(cfg.TimeoutSeconds) * time.Second,
		workers:  workers,
	}

	names := make([]string, len(notifiers))
	for i, n := range notifiers {
		names[i] = n.Name()
		pool.queues = append(pool.queues, &sinkQueue{
			notifier: n,
			jobs:     make(chan *job, queueSize),
		})
	}
	log.Infof("Initializing notification worker pool: sinks %v, %d workers and queue %d per sink", names, workers, queueSize)

	pool.startWorkers()
	return pool
}

func (p *WorkerPool) startWorkers() {
	for _, q := range p.queues {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go func(q *sinkQueue, workerID int) {
				defer p.wg.Done()
				log.Debugf("Notification worker %s/%d started", q.notifier.Name(), workerID)
				for j := range q.jobs {
					p.run(q, workerID, j)
				}
				log.Debugf("Notification worker %s/%d shutting down (job channel closed)", q.notifier.Name(), workerID)
			}(q, i)
		}
	}
}

// Dispatch queues one job per sink and returns how many were accepted. It
// never blocks: a sink whose queue is full drops its job.
func (p *WorkerPool) Dispatch(ev Event) int {
	p.closeMutex.RLock()
	defer p.closeMutex.RUnlock()

	if p.closed {
		log.Warnf("Notification pool is shut down, dropping event for %s", ev.Filename)
		for _, q := range p.queues {
			q.dropped.Add(1)
		}
		return 0
	}

	accepted := 0
	for _, q := range p.queues {
		select {
		case q.jobs <- &job{event: ev, enqueuedAt: time.Now()}:
			accepted++
		default:
			q.dropped.Add(1)
			log.Warnf("Notification queue of %s full, dropping job for %s", q.notifier.Name(), ev.Filename)
		}
	}
	return accepted
}

func (p *WorkerPool) run(q *sinkQueue, workerID int, j *job) {
	q.active.Add(1)
	defer q.active.Add(-1)

	ctx := context.Background()
	var cancel context.CancelFunc = func() {}
	if p.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
	}
	defer cancel()

	start := time.Now()
	err := safeNotify(ctx, q.notifier, j.event)
	elapsed := time.Since(start)

	entry := log.WithFields(log.Fields{
		"worker":   workerID,
		"sink":     q.notifier.Name(),
		"filename": j.event.Filename,
		"label":    j.event.Label,
		"duration": elapsed,
		"queued":   start.Sub(j.enqueuedAt),
	})
	if err != nil {
		q.failed.Add(1)
		entry.WithError(err).Warn("Notification failed")
	} else {
		q.delivered.Add(1)
		entry.Info("Notification delivered")
	}

	p.record(q.notifier.Name(), j.event, err, elapsed)
}

// safeNotify turns a panic inside a sink into an error
func safeNotify(ctx context.Context, n Notifier, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Notification sink %s panicked: %v\n%s", n.Name(), r, debug.Stack())
			err = fmt.Errorf("sink %s panicked: %v", n.Name(), r)
		}
	}()
	return n.Notify(ctx, ev)
}

func (p *WorkerPool) record(sink string, ev Event, err error, elapsed time.Duration) {
	if p.recorder == nil || ev.CaptureID == 0 {
		return
	}
	d := &models.Delivery{
		CaptureID:  ev.CaptureID,
		Sink:       sink,
		Success:    err == nil,
		DurationMs: elapsed.Milliseconds(),
	}
	if err != nil {
		d.Error = err.Error()
	}
	if rerr := p.recorder.SaveDelivery(d); rerr != nil {
		log.WithError(rerr).Warnf("Failed to record %s delivery for capture %d", d.Sink, d.CaptureID)
	}
}

// ActiveJobCount returns the number of jobs currently running across all sinks
func (p *WorkerPool) ActiveJobCount() int {
	n := 0
	for _, q := range p.queues {
		n += int(q.active.Load())
	}
	return n
}

// Stats returns a snapshot of the pool counters
func (p *WorkerPool) Stats() Stats {
	s := Stats{
		Workers: p.workers,
		Sinks:   make([]SinkStats, len(p.queues)),
	}
	for i, q := range p.queues {
		ss := SinkStats{
			Name:          q.notifier.Name(),
			QueueCapacity: cap(q.jobs),
			Queued:        len(q.jobs),
			Active:        int(q.active.Load()),
			Delivered:     q.delivered.Load(),
			Failed:        q.failed.Load(),
			Dropped:       q.dropped.Load(),
		}
		s.Sinks[i] = ss
		s.QueueCapacity += ss.QueueCapacity
		s.Queued += ss.Queued
		s.Active += ss.Active
		s.Delivered += ss.Delivered
		s.Failed += ss.Failed
		s.Dropped += ss.Dropped
	}
	return s
}

// Shutdown stops accepting events and waits for queued jobs until ctx expires
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.closeMutex.Lock()
	if !p.closed {
		p.closed = true
		for _, q := range p.queues {
			close(q.jobs)
		}
	}
	p.closeMutex.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("Notification worker pool stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notification pool did not drain: %w", ctx.Err())
	}
}
