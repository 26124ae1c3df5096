// Package store provides in-memory lot.TxStore implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/brewline/lot-engine/lot"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	st *state
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

type state struct {
	batches     map[lot.BatchID]lot.Batch
	batchOrder  []lot.BatchID
	lots        map[lot.LotID]lot.Lot
	lotOrder    []lot.LotID
	lotBatches  []lot.LotBatch
	runs        []lot.PackagingRun
	idempotency map[string]int // key -> index in runs
	readings    []lot.GravityReading
	timeline    []lot.TimelineEntry
}

func newState() *state {
	return &state{
		batches:     make(map[lot.BatchID]lot.Batch),
		lots:        make(map[lot.LotID]lot.Lot),
		idempotency: make(map[string]int),
	}
}

func (s *state) clone() *state {
	c := &state{
		batches:     make(map[lot.BatchID]lot.Batch, len(s.batches)),
		batchOrder:  append([]lot.BatchID{}, s.batchOrder...),
		lots:        make(map[lot.LotID]lot.Lot, len(s.lots)),
		lotOrder:    append([]lot.LotID{}, s.lotOrder...),
		lotBatches:  append([]lot.LotBatch{}, s.lotBatches...),
		runs:        append([]lot.PackagingRun{}, s.runs...),
		idempotency: make(map[string]int, len(s.idempotency)),
		readings:    append([]lot.GravityReading{}, s.readings...),
		timeline:    append([]lot.TimelineEntry{}, s.timeline...),
	}
	for k, v := range s.batches {
		c.batches[k] = v
	}
	for k, v := range s.lots {
		c.lots[k] = v
	}
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	return c
}

// =============================================================================
// STATE OPERATIONS - Callers hold the lock
// =============================================================================

func (s *state) SaveBatch(_ context.Context, b lot.Batch) error {
	if _, ok := s.batches[b.ID]; !ok {
		s.batchOrder = append(s.batchOrder, b.ID)
	}
	s.batches[b.ID] = b
	return nil
}

func (s *state) GetBatch(_ context.Context, id lot.BatchID) (*lot.Batch, error) {
	b, ok := s.batches[id]
	if !ok {
		return nil, &lot.NotFoundError{Kind: "batch", ID: string(id)}
	}
	return &b, nil
}

func (s *state) GetBatchByNumber(_ context.Context, number string) (*lot.Batch, error) {
	for _, id := range s.batchOrder {
		if b := s.batches[id]; b.Number == number {
			return &b, nil
		}
	}
	return nil, nil
}

func (s *state) ListBatches(_ context.Context) ([]lot.Batch, error) {
	out := make([]lot.Batch, 0, len(s.batchOrder))
	for _, id := range s.batchOrder {
		out = append(out, s.batches[id])
	}
	return out, nil
}

func (s *state) InsertLot(_ context.Context, l lot.Lot) error {
	if _, ok := s.lots[l.ID]; ok {
		return lot.ErrConcurrentModification
	}
	s.lots[l.ID] = l
	s.lotOrder = append(s.lotOrder, l.ID)
	return nil
}

func (s *state) UpdateLot(_ context.Context, l lot.Lot, expectedVersion int) error {
	cur, ok := s.lots[l.ID]
	if !ok {
		return &lot.NotFoundError{Kind: "lot", ID: string(l.ID)}
	}
	if cur.Version != expectedVersion {
		return lot.ErrConcurrentModification
	}
	s.lots[l.ID] = l
	return nil
}

func (s *state) GetLot(_ context.Context, id lot.LotID) (*lot.Lot, error) {
	l, ok := s.lots[id]
	if !ok {
		return nil, &lot.NotFoundError{Kind: "lot", ID: string(id)}
	}
	return &l, nil
}

func (s *state) GetLotByCode(_ context.Context, code string) (*lot.Lot, error) {
	for _, id := range s.lotOrder {
		if l := s.lots[id]; l.Code == code {
			return &l, nil
		}
	}
	return nil, nil
}

func (s *state) ListLots(_ context.Context, f lot.LotFilter) ([]lot.Lot, error) {
	var linked map[lot.LotID]bool
	if f.BatchID != "" {
		linked = make(map[lot.LotID]bool)
		for _, lb := range s.lotBatches {
			if lb.BatchID == f.BatchID {
				linked[lb.LotID] = true
			}
		}
	}
	var out []lot.Lot
	for _, id := range s.lotOrder {
		l := s.lots[id]
		if linked != nil && !linked[id] {
			continue
		}
		if f.Matches(l) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *state) InsertLotBatch(_ context.Context, lb lot.LotBatch) error {
	s.lotBatches = append(s.lotBatches, lb)
	return nil
}

func (s *state) LotBatches(_ context.Context, lotID lot.LotID) ([]lot.LotBatch, error) {
	var out []lot.LotBatch
	for _, lb := range s.lotBatches {
		if lb.LotID == lotID {
			out = append(out, lb)
		}
	}
	return out, nil
}

func (s *state) BatchLots(ctx context.Context, batchID lot.BatchID) ([]lot.Lot, error) {
	return s.ListLots(ctx, lot.LotFilter{BatchID: batchID})
}

func (s *state) InsertPackagingRun(_ context.Context, run lot.PackagingRun) error {
	if run.IdempotencyKey != "" {
		if _, ok := s.idempotency[run.IdempotencyKey]; ok {
			return lot.ErrDuplicateIdempotencyKey
		}
		s.idempotency[run.IdempotencyKey] = len(s.runs)
	}
	s.runs = append(s.runs, run)
	return nil
}

func (s *state) PackagingRunByKey(_ context.Context, key string) (*lot.PackagingRun, error) {
	i, ok := s.idempotency[key]
	if !ok {
		return nil, nil
	}
	run := s.runs[i]
	return &run, nil
}

func (s *state) PackagingRuns(_ context.Context, lotID lot.LotID, lotCode string) ([]lot.PackagingRun, error) {
	var out []lot.PackagingRun
	for _, r := range s.runs {
		if r.LotID == lotID || (r.LotID == "" && lotCode != "" && r.LotCode == lotCode) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *state) LegacyPackagingRuns(_ context.Context) ([]lot.PackagingRun, error) {
	var out []lot.PackagingRun
	for _, r := range s.runs {
		if r.LotID == "" {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *state) SetPackagingRunLot(_ context.Context, runID lot.RunID, lotID lot.LotID) error {
	for i := range s.runs {
		if s.runs[i].ID == runID {
			s.runs[i].LotID = lotID
			return nil
		}
	}
	return &lot.NotFoundError{Kind: "packaging run", ID: string(runID)}
}

func (s *state) AppendReading(_ context.Context, r lot.GravityReading) error {
	s.readings = append(s.readings, r)
	return nil
}

func (s *state) Readings(_ context.Context, batchID lot.BatchID) ([]lot.GravityReading, error) {
	var out []lot.GravityReading
	for _, r := range s.readings {
		if r.BatchID == batchID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	return out, nil
}

func (s *state) AppendTimeline(_ context.Context, e lot.TimelineEntry) error {
	s.timeline = append(s.timeline, e)
	return nil
}

func (s *state) Timeline(_ context.Context, lotID lot.LotID) ([]lot.TimelineEntry, error) {
	var out []lot.TimelineEntry
	for _, e := range s.timeline {
		if e.LotID == lotID {
			out = append(out, e)
		}
	}
	return out, nil
}

// =============================================================================
// LOCKED ACCESSORS - lot.Store on *Memory
// =============================================================================

func (m *Memory) SaveBatch(ctx context.Context, b lot.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveBatch(ctx, b)
}

func (m *Memory) GetBatch(ctx context.Context, id lot.BatchID) (*lot.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetBatch(ctx, id)
}

func (m *Memory) GetBatchByNumber(ctx context.Context, number string) (*lot.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetBatchByNumber(ctx, number)
}

func (m *Memory) ListBatches(ctx context.Context) ([]lot.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListBatches(ctx)
}

func (m *Memory) InsertLot(ctx context.Context, l lot.Lot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertLot(ctx, l)
}

func (m *Memory) UpdateLot(ctx context.Context, l lot.Lot, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.UpdateLot(ctx, l, expectedVersion)
}

func (m *Memory) GetLot(ctx context.Context, id lot.LotID) (*lot.Lot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetLot(ctx, id)
}

func (m *Memory) GetLotByCode(ctx context.Context, code string) (*lot.Lot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetLotByCode(ctx, code)
}

func (m *Memory) ListLots(ctx context.Context, f lot.LotFilter) ([]lot.Lot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListLots(ctx, f)
}

func (m *Memory) InsertLotBatch(ctx context.Context, lb lot.LotBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertLotBatch(ctx, lb)
}

func (m *Memory) LotBatches(ctx context.Context, lotID lot.LotID) ([]lot.LotBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.LotBatches(ctx, lotID)
}

func (m *Memory) BatchLots(ctx context.Context, batchID lot.BatchID) ([]lot.Lot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.BatchLots(ctx, batchID)
}

func (m *Memory) InsertPackagingRun(ctx context.Context, run lot.PackagingRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertPackagingRun(ctx, run)
}

func (m *Memory) PackagingRunByKey(ctx context.Context, key string) (*lot.PackagingRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.PackagingRunByKey(ctx, key)
}

func (m *Memory) PackagingRuns(ctx context.Context, lotID lot.LotID, lotCode string) ([]lot.PackagingRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.PackagingRuns(ctx, lotID, lotCode)
}

func (m *Memory) LegacyPackagingRuns(ctx context.Context) ([]lot.PackagingRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.LegacyPackagingRuns(ctx)
}

func (m *Memory) SetPackagingRunLot(ctx context.Context, runID lot.RunID, lotID lot.LotID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SetPackagingRunLot(ctx, runID, lotID)
}

func (m *Memory) AppendReading(ctx context.Context, r lot.GravityReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AppendReading(ctx, r)
}

func (m *Memory) Readings(ctx context.Context, batchID lot.BatchID) ([]lot.GravityReading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.Readings(ctx, batchID)
}

func (m *Memory) AppendTimeline(ctx context.Context, e lot.TimelineEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AppendTimeline(ctx, e)
}

func (m *Memory) Timeline(ctx context.Context, lotID lot.LotID) ([]lot.TimelineEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.Timeline(ctx, lotID)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn against a working copy of the state. The copy replaces
// the live state only when fn succeeds, which gives all-or-nothing writes.
// The write lock is held for the whole of fn, so transactions serialize.
func (m *Memory) WithTx(ctx context.Context, fn func(lot.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	working := m.st.clone()
	if err := fn(working); err != nil {
		return err
	}
	m.st = working
	return nil
}

// Reset clears all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = newState()
	return nil
}

var (
	_ lot.TxStore  = (*Memory)(nil)
	_ lot.Resetter = (*Memory)(nil)
	_ lot.Store    = (*state)(nil)
)
