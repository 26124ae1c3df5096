package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brewline/lot-engine/gravity"
	"github.com/brewline/lot-engine/lot"
	"github.com/brewline/lot-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func fermenting(t *testing.T, ctx context.Context, e *lot.Engine, number string, liters float64) (*lot.Batch, *lot.Lot) {
	t.Helper()
	b, err := e.CreateBatch(ctx, lot.NewBatch{Number: number, PlannedVolume: lot.Liters(liters)})
	require.NoError(t, err)
	l, err := e.StartFermentation(ctx, lot.FermentationStart{BatchID: b.ID, VesselID: lot.VesselID("FV-" + number)})
	require.NoError(t, err)
	return b, l
}

func TestStore_RoundTripsLot(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	now := time.Date(2025, time.March, 1, 8, 30, 0, 123, time.UTC)
	require.NoError(t, store.SaveBatch(ctx, lot.Batch{
		ID: "b1", Number: "B100", PlannedVolume: lot.Liters(1000.5), TargetOG: 1.05,
		Status: lot.BatchPlanned, CreatedAt: now, UpdatedAt: now,
	}))

	in := lot.Lot{
		ID: "lot-1", Code: "B100", Type: lot.TypeSingle, Phase: lot.PhaseFermentation,
		Status: lot.StatusActive, TotalVolume: lot.Liters(1000.5), VesselID: "FV-1", BatchCount: 1,
		CreatedAt: now, SplitAt: &now, Version: 1, UpdatedAt: now,
	}
	require.NoError(t, store.InsertLot(ctx, in))

	out, err := store.GetLot(ctx, "lot-1")
	require.NoError(t, err)
	assert.True(t, in.TotalVolume.Equal(out.TotalVolume))
	assert.Equal(t, in.VesselID, out.VesselID)
	assert.True(t, now.Equal(out.CreatedAt))
	require.NotNil(t, out.SplitAt)
	assert.Nil(t, out.CompletedAt)

	b, err := store.GetBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "1000.5", b.PlannedVolume.String())
	assert.True(t, b.BrewDate.IsZero())

	_, err = store.GetLot(ctx, "missing")
	assert.True(t, lot.IsNotFound(err))
	byCode, err := store.GetLotByCode(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, byCode)
}

func TestStore_UpdateLotVersionCheck(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	l := lot.Lot{ID: "lot-1", Code: "B100", Type: lot.TypeSingle, Phase: lot.PhaseFermentation,
		Status: lot.StatusActive, TotalVolume: lot.Liters(10), Version: 1}
	require.NoError(t, store.InsertLot(ctx, l))

	l.Phase = lot.PhaseConditioning
	l.Version = 2
	require.NoError(t, store.UpdateLot(ctx, l, 1))

	l.Version = 3
	assert.ErrorIs(t, store.UpdateLot(ctx, l, 1), lot.ErrConcurrentModification)
	assert.True(t, lot.IsNotFound(store.UpdateLot(ctx, lot.Lot{ID: "ghost"}, 1)))
}

func TestStore_WithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(s lot.Store) error {
		if err := s.SaveBatch(ctx, lot.Batch{ID: "b1", Number: "B100", PlannedVolume: lot.Liters(1), Status: lot.BatchPlanned}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.GetBatch(ctx, "b1")
	assert.ErrorIs(t, err, lot.ErrNotFound)
}

func TestStore_IdempotencyKeyUnique(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	run := lot.PackagingRun{ID: "r1", LotID: "lot-1", PackageType: "keg-50", Quantity: 1, Volume: lot.Liters(50), IdempotencyKey: "k"}
	require.NoError(t, store.InsertPackagingRun(ctx, run))

	run.ID = "r2"
	assert.ErrorIs(t, store.InsertPackagingRun(ctx, run), lot.ErrDuplicateIdempotencyKey)

	// Runs without a key never collide.
	require.NoError(t, store.InsertPackagingRun(ctx, lot.PackagingRun{ID: "r3", LotID: "lot-1", PackageType: "keg-50", Quantity: 1, Volume: lot.Liters(1)}))
	require.NoError(t, store.InsertPackagingRun(ctx, lot.PackagingRun{ID: "r4", LotID: "lot-1", PackageType: "keg-50", Quantity: 1, Volume: lot.Liters(1)}))
}

func TestStore_EngineSplitBlendPackage(t *testing.T) {
	// GIVEN: The engine running on SQLite
	// WHEN: Splitting one batch, blending two others and packaging the blend
	// THEN: Lineage, volumes and the msgpack timeline payloads survive the round-trip
	ctx := context.Background()
	store := newStore(t)
	e := lot.NewEngine(store)

	b1, src := fermenting(t, ctx, e, "B100", 1000)
	split, err := e.SplitBatch(ctx, lot.SplitRequest{
		BatchID: b1.ID,
		Targets: []lot.SplitTarget{
			{VesselID: "FV-A", Percentage: lot.Liters(60)},
			{VesselID: "FV-B", Percentage: lot.Liters(40)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "B100-A", split.Children[0].Code)

	srcLot, err := e.GetLot(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, lot.StatusCompleted, srcLot.Status)
	assert.Equal(t, lot.SupersededSplit, srcLot.Superseded)

	b2, _ := fermenting(t, ctx, e, "B101", 500)
	b3, l3 := fermenting(t, ctx, e, "B102", 300)
	_, err = e.AdvanceLotPhase(ctx, l3.ID, lot.PhaseConditioning, "brewer")
	require.NoError(t, err)

	blend, err := e.BlendBatches(ctx, lot.BlendRequest{BatchIDs: []lot.BatchID{b2.ID, b3.ID}, VesselID: "BT-1"})
	require.NoError(t, err)
	assert.True(t, lot.Liters(800).Equal(blend.Blend.TotalVolume))
	assert.Equal(t, lot.PhaseFermentation, blend.Blend.Phase)

	lineage, err := e.Lineage(ctx, blend.Blend.ID)
	require.NoError(t, err)
	assert.Len(t, lineage.Sources, 2)
	assert.Len(t, lineage.Batches, 2)

	_, err = e.AdvanceLotPhase(ctx, l3.ID, lot.PhaseBright, "brewer")
	assert.ErrorIs(t, err, lot.ErrBlendMembershipConflict)

	res, err := e.RecordPackagingRun(ctx, lot.PackagingRequest{
		LotID: blend.Blend.ID, PackageType: "keg-50", Quantity: 6, Volume: lot.Liters(300), IdempotencyKey: "run-1",
	})
	require.NoError(t, err)
	assert.True(t, lot.Liters(500).Equal(res.Summary.RemainingVolume))

	again, err := e.RecordPackagingRun(ctx, lot.PackagingRequest{
		LotID: blend.Blend.ID, PackageType: "keg-50", Quantity: 6, Volume: lot.Liters(300), IdempotencyKey: "run-1",
	})
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, 1, again.Summary.RunCount)

	entries, err := e.Timeline(ctx, blend.Blend.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, lot.ActionBlended, entries[0].Action)
	assert.Equal(t, "2", entries[0].Payload["batch_count"])
	assert.Equal(t, "300", entries[1].Payload["volume"])
}

func TestStore_ReadingsAndLegacyRuns(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	e := lot.NewEngine(store)
	b, l := fermenting(t, ctx, e, "B100", 800)
	start := time.Date(2025, time.March, 2, 9, 0, 0, 0, time.UTC)

	_, err := e.RecordGravityReading(ctx, lot.ReadingRequest{BatchID: b.ID, Value: 1.010, RecordedAt: start.Add(time.Hour)})
	require.NoError(t, err)
	_, err = e.RecordGravityReading(ctx, lot.ReadingRequest{BatchID: b.ID, Value: 1.050, Kind: gravity.KindOriginal, RecordedAt: start})
	require.NoError(t, err)

	readings, err := e.Readings(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, readings, 2)
	assert.Equal(t, gravity.KindOriginal, readings[0].Kind)
	assert.Equal(t, l.ID, readings[0].LotID)

	m, err := e.BatchMetrics(ctx, b.ID)
	require.NoError(t, err)
	assert.InDelta(t, 5.25, m.ABV, 0.01)

	require.NoError(t, store.InsertPackagingRun(ctx, lot.PackagingRun{
		ID: "legacy", LotCode: "B100", PackageType: "keg-50", Quantity: 2, Volume: lot.Liters(100), PackagedAt: start,
	}))
	status, err := e.GetLotStatus(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, lot.Liters(700).Equal(status.Volume.RemainingVolume))

	fixed, err := e.BackfillPackagingLotRefs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fixed)
	legacy, err := store.LegacyPackagingRuns(ctx)
	require.NoError(t, err)
	assert.Empty(t, legacy)
}

func TestStore_Reset(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	e := lot.NewEngine(store)
	fermenting(t, ctx, e, "B100", 800)

	require.NoError(t, store.Reset(ctx))

	batches, err := store.ListBatches(ctx)
	require.NoError(t, err)
	assert.Empty(t, batches)
	lots, err := store.ListLots(ctx, lot.LotFilter{})
	require.NoError(t, err)
	assert.Empty(t, lots)
}
