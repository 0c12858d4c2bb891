package controller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-lookup-service/internal/history"
	"github.com/kjstillabower/weather-lookup-service/internal/models"
	"github.com/kjstillabower/weather-lookup-service/internal/observability"
)

type saveJob struct {
	reading models.WeatherReading
	done    func()
}

// Forwarder persists readings to a history.Store on a fixed pool of workers.
// Save failures are logged and counted, never reported back to the publisher.
type Forwarder struct {
	store       history.Store
	logger      *zap.Logger
	saveTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan saveJob
	wg     sync.WaitGroup
}

func NewForwarder(store history.Store, queueSize, workers int, saveTimeout time.Duration, logger *zap.Logger) *Forwarder {
	if queueSize <= 0 {
		queueSize = 64
	}
	if workers <= 0 {
		workers = 1
	}
	if saveTimeout <= 0 {
		saveTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Forwarder{
		store:       store,
		logger:      logger,
		saveTimeout: saveTimeout,
		queue:       make(chan saveJob, queueSize),
	}
	f.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go f.worker()
	}
	return f
}

// Enqueue never blocks. It returns false when the queue is full or the forwarder is closed.
func (f *Forwarder) Enqueue(reading models.WeatherReading, done func()) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return false
	}
	select {
	case f.queue <- saveJob{reading: reading, done: done}:
		return true
	default:
		observability.HistoryArchiveDroppedTotal.Inc()
		f.logger.Warn("history queue full, dropping reading",
			zap.String("userId", reading.UserID),
			zap.String("city", reading.CityName),
		)
		return false
	}
}

func (f *Forwarder) worker() {
	defer f.wg.Done()
	for job := range f.queue {
		f.save(job)
	}
}

func (f *Forwarder) save(job saveJob) {
	if job.done != nil {
		defer job.done()
	}
	ctx, cancel := context.WithTimeout(context.Background(), f.saveTimeout)
	defer cancel()

	if err := f.store.Save(ctx, job.reading); err != nil {
		observability.HistorySavesTotal.WithLabelValues("error").Inc()
		f.logger.Error("failed to save reading to history",
			zap.String("userId", job.reading.UserID),
			zap.String("city", job.reading.CityName),
			zap.Error(err),
		)
		return
	}
	observability.HistorySavesTotal.WithLabelValues("success").Inc()
}

// Close stops accepting readings and waits, bounded by ctx, for queued ones to be saved.
func (f *Forwarder) Close(ctx context.Context) error {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.queue)
	}
	f.mu.Unlock()
	return waitGroup(ctx, &f.wg)
}
