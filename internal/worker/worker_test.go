package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pharmledger/backend/internal/domain"
)

type fakeHousekeeper struct {
	mu       sync.Mutex
	sweeps   int
	releases int
	sweepErr error
}

func (f *fakeHousekeeper) SweepExpiredStock(context.Context) (domain.ExpirySweepResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	if f.sweepErr != nil {
		return domain.ExpirySweepResponse{}, f.sweepErr
	}
	return domain.ExpirySweepResponse{AsOf: "2026-10-18", WrittenOff: []domain.ExpiredWriteOff{{ItemID: "itm-ors"}}}, nil
}

func (f *fakeHousekeeper) ReleaseExpiredReservations(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	return 1, nil
}

func (f *fakeHousekeeper) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sweeps, f.releases
}

func TestRunOnceContinuesAfterSweepFailure(t *testing.T) {
	h := &fakeHousekeeper{sweepErr: errors.New("database locked")}
	New(h, time.Second).RunOnce(context.Background())

	sweeps, releases := h.counts()
	if sweeps != 1 || releases != 1 {
		t.Fatalf("expected one sweep and one release, got %d/%d", sweeps, releases)
	}
}

func TestRunOnceSkipsCancelledContext(t *testing.T) {
	h := &fakeHousekeeper{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	New(h, time.Second).RunOnce(ctx)
	if sweeps, releases := h.counts(); sweeps != 0 || releases != 0 {
		t.Fatalf("expected no work after cancellation, got %d/%d", sweeps, releases)
	}
}

func TestStartTicksUntilCancelled(t *testing.T) {
	h := &fakeHousekeeper{}
	ctx, cancel := context.WithCancel(context.Background())

	done := New(h, 5*time.Millisecond).Start(ctx)
	deadline := time.After(2 * time.Second)
	for {
		if sweeps, _ := h.counts(); sweeps >= 3 {
			break
		}
		select {
		case <-deadline:
			cancel()
			t.Fatalf("worker did not tick")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop after cancellation")
	}
}

func TestNewDefaultsInterval(t *testing.T) {
	if w := New(&fakeHousekeeper{}, 0); w.interval != defaultInterval {
		t.Fatalf("expected default interval, got %s", w.interval)
	}
}
