package lot_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brewline/lot-engine/lot"
	"github.com/brewline/lot-engine/lot/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type fixture struct {
	ctx    context.Context
	store  *store.Memory
	engine *lot.Engine
}

// sequence hands out deterministic ids and a clock that ticks one minute per call.
type sequence struct {
	mu  sync.Mutex
	n   int
	now time.Time
}

func (s *sequence) id() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%03d", s.n)
}

func (s *sequence) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(time.Minute)
	return s.now
}

func newFixture(t *testing.T, opts ...lot.Option) *fixture {
	t.Helper()
	seq := &sequence{now: time.Date(2025, time.March, 1, 8, 0, 0, 0, time.UTC)}
	mem := store.NewMemory()
	opts = append([]lot.Option{lot.WithIDs(seq.id), lot.WithClock(seq.clock)}, opts...)
	return &fixture{
		ctx:    context.Background(),
		store:  mem,
		engine: lot.NewEngine(mem, opts...),
	}
}

// fermenting plans a batch and starts fermentation in vessel "FV-<number>".
func (f *fixture) fermenting(t *testing.T, number string, liters float64) (*lot.Batch, *lot.Lot) {
	t.Helper()
	b, err := f.engine.CreateBatch(f.ctx, lot.NewBatch{
		Number:        number,
		PlannedVolume: lot.Liters(liters),
		TargetOG:      1.050,
		TargetFG:      1.010,
	})
	require.NoError(t, err)
	l, err := f.engine.StartFermentation(f.ctx, lot.FermentationStart{
		BatchID:  b.ID,
		VesselID: lot.VesselID("FV-" + number),
	})
	require.NoError(t, err)
	return b, l
}

// advanceTo walks a lot forward one phase at a time until it reaches target.
func (f *fixture) advanceTo(t *testing.T, id lot.LotID, target lot.Phase) *lot.Lot {
	t.Helper()
	l, err := f.engine.GetLot(f.ctx, id)
	require.NoError(t, err)
	for l.Phase != target {
		next, ok := l.Phase.Next()
		require.True(t, ok, "no phase after %s", l.Phase)
		l, err = f.engine.AdvanceLotPhase(f.ctx, id, next, "tester")
		require.NoError(t, err)
	}
	return l
}

func (f *fixture) batch(t *testing.T, id lot.BatchID) *lot.Batch {
	t.Helper()
	b, err := f.engine.GetBatch(f.ctx, id)
	require.NoError(t, err)
	return b
}

func (f *fixture) lot(t *testing.T, id lot.LotID) *lot.Lot {
	t.Helper()
	l, err := f.engine.GetLot(f.ctx, id)
	require.NoError(t, err)
	return l
}

func assertLiters(t *testing.T, want float64, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Truef(t, lot.Liters(want).Equal(got), "want %v L, got %s L %v", want, got, msgAndArgs)
}

// fakeVessels is an in-memory vessel registry for exercising reservations.
type fakeVessels struct {
	mu    sync.Mutex
	holds map[lot.VesselID]lot.LotID
}

func newFakeVessels() *fakeVessels {
	return &fakeVessels{holds: make(map[lot.VesselID]lot.LotID)}
}

func (v *fakeVessels) Reserve(_ context.Context, id lot.VesselID, holder lot.LotID) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if h, ok := v.holds[id]; ok && h != holder {
		return fmt.Errorf("%w: %s held by %s", lot.ErrVesselUnavailable, id, h)
	}
	v.holds[id] = holder
	return nil
}

func (v *fakeVessels) Release(_ context.Context, id lot.VesselID, holder lot.LotID) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.holds[id] == holder {
		delete(v.holds, id)
	}
	return nil
}

func (v *fakeVessels) holder(id lot.VesselID) lot.LotID {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.holds[id]
}
