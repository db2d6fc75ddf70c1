package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pharmledger/backend/internal/domain"
	"pharmledger/backend/internal/logger"
)

const defaultInterval = time.Minute

// Housekeeper is the maintenance surface of the service.
type Housekeeper interface {
	SweepExpiredStock(ctx context.Context) (domain.ExpirySweepResponse, error)
	ReleaseExpiredReservations(ctx context.Context) (int, error)
}

// Worker periodically writes off expired stock and releases lapsed cart
// reservations.
type Worker struct {
	housekeeper Housekeeper
	interval    time.Duration
}

func New(housekeeper Housekeeper, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Worker{housekeeper: housekeeper, interval: interval}
}

// Start runs the loop in a goroutine. The returned channel is closed once the
// loop has exited after ctx is cancelled.
func (w *Worker) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	return done
}

// Run executes one pass immediately and then one per interval until ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context) {
	log := logger.FromContext(ctx).With(zap.String("component", "worker"))
	log.Info("worker started", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.RunOnce(ctx)
		select {
		case <-ctx.Done():
			log.Info("worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single maintenance pass. Failures are logged and retried
// on the next tick.
func (w *Worker) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	log := logger.FromContext(ctx)

	sweep, err := w.housekeeper.SweepExpiredStock(ctx)
	if err != nil {
		log.Warn("[worker] expiry sweep failed", zap.Error(err))
	} else if len(sweep.WrittenOff) > 0 {
		log.Info("expiry sweep wrote off stock", zap.Int("items", len(sweep.WrittenOff)), zap.String("as_of", sweep.AsOf))
	}

	released, err := w.housekeeper.ReleaseExpiredReservations(ctx)
	if err != nil {
		log.Warn("[worker] reservation release failed", zap.Error(err))
	} else if released > 0 {
		log.Info("released lapsed cart reservations", zap.Int("lines", released))
	}
}
