/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario sets up the expected state on the SQLite store:
	- Batches are planned and fermenting
	- Splits, blends and packaging runs land with the right volumes
	- Reloading a scenario starts from a clean store and free vessels

These tests double as integration tests for the engine over SQLite.
*/
package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brewline/lot-engine/external"
	"github.com/brewline/lot-engine/lot"
	"github.com/brewline/lot-engine/store/sqlite"
)

func setupTestHandler(t *testing.T) (*Handler, *lot.Engine) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	vessels := external.NewStaticVessels(external.DemoVessels()...)
	engine := lot.NewEngine(store,
		lot.WithVessels(vessels),
		lot.WithRecipes(external.NewStaticRecipes(external.DemoRecipes()...)),
	)
	return NewHandler(engine, WithResetter(store), WithVesselRegistry(vessels)), engine
}

func lotByCode(t *testing.T, lots []lot.Lot, code string) lot.Lot {
	t.Helper()
	for _, l := range lots {
		if l.Code == code {
			return l
		}
	}
	t.Fatalf("no lot with code %s", code)
	return lot.Lot{}
}

func TestScenario_Split(t *testing.T) {
	// GIVEN: The split-60-40 scenario
	// WHEN: Loading it
	// THEN: The 1000 L source is completed and two children hold 600 and 400 L
	_, engine := setupTestHandler(t)
	ctx := context.Background()

	require.NoError(t, loadSplitScenario(ctx, engine))

	lots, err := engine.ListLots(ctx, lot.LotFilter{})
	require.NoError(t, err)
	require.Len(t, lots, 3)

	source := lotByCode(t, lots, "B-1001")
	assert.Equal(t, lot.StatusCompleted, source.Status)
	assert.Equal(t, lot.SupersededSplit, source.Superseded)

	a := lotByCode(t, lots, "B-1001-A")
	assert.Equal(t, "600", a.TotalVolume.String())
	assert.Equal(t, lot.VesselID("FV-2"), a.VesselID)
	b := lotByCode(t, lots, "B-1001-B")
	assert.Equal(t, "400", b.TotalVolume.String())
	assert.Equal(t, source.ID, b.ParentLotID)

	view, err := engine.GetLotStatus(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, "0", view.Volume.RemainingVolume.String())
	assert.Equal(t, "1000", view.Volume.TransferredVolume.String())

	batches, err := engine.ListBatches(ctx)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, lot.BatchFermenting, batches[0].Status)
}

func TestScenario_Blend(t *testing.T) {
	// GIVEN: The blend-two-batches scenario
	// WHEN: Loading it
	// THEN: An 800 L blend in the least advanced phase replaces both lots
	_, engine := setupTestHandler(t)
	ctx := context.Background()

	require.NoError(t, loadBlendScenario(ctx, engine))

	lots, err := engine.ListLots(ctx, lot.LotFilter{})
	require.NoError(t, err)

	blend := lotByCode(t, lots, "BLEND-B-2001-B-2002")
	assert.Equal(t, "800", blend.TotalVolume.String())
	assert.Equal(t, lot.PhaseFermentation, blend.Phase)
	assert.Equal(t, 2, blend.BatchCount)
	assert.Equal(t, lot.VesselID("BT-1"), blend.VesselID)

	for _, code := range []string{"B-2001", "B-2002"} {
		src := lotByCode(t, lots, code)
		assert.Equal(t, lot.StatusCompleted, src.Status, code)
		assert.Equal(t, blend.ID, src.SupersededBy, code)
	}

	lineage, err := engine.Lineage(ctx, blend.ID)
	require.NoError(t, err)
	assert.Len(t, lineage.Sources, 2)
	assert.Len(t, lineage.Batches, 2)
}

func TestScenario_PackagingOvershoot(t *testing.T) {
	// GIVEN: The packaging-overshoot scenario
	_, engine := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, loadPackagingOvershootScenario(ctx, engine))

	lots, err := engine.ListLots(ctx, lot.LotFilter{})
	require.NoError(t, err)
	l := lotByCode(t, lots, "B-3001")
	assert.Equal(t, lot.PhasePackaging, l.Phase)

	view, err := engine.GetLotStatus(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "500", view.Volume.RemainingVolume.String())

	// WHEN: A 600 L run is attempted
	_, err = engine.RecordPackagingRun(ctx, lot.PackagingRequest{
		LotID:       l.ID,
		PackageType: "can-440ml",
		Quantity:    1363,
		Volume:      lot.Liters(600),
	})

	// THEN: The operator is asked to confirm the overshoot
	var vx *lot.VolumeExceededError
	require.True(t, errors.As(err, &vx))
	assert.Equal(t, "500", vx.Remaining.String())
	assert.Equal(t, "100", vx.Overshoot().String())
}

func TestScenario_AllScenariosLoadWithoutError(t *testing.T) {
	// GIVEN: All available scenarios
	// WHEN: Loading each scenario twice through the API
	// THEN: None should error and each load starts from an empty store
	h, engine := setupTestHandler(t)
	router := NewRouter(h, nil)

	for _, s := range scenarios {
		t.Run(s.ID, func(t *testing.T) {
			for i := 0; i < 2; i++ {
				req := httptest.NewRequest(http.MethodPost, "/api/scenarios/load", strings.NewReader(`{"scenario_id":"`+s.ID+`"}`))
				rec := httptest.NewRecorder()
				router.ServeHTTP(rec, req)
				require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			}

			batches, err := engine.ListBatches(context.Background())
			require.NoError(t, err)
			assert.NotEmpty(t, batches)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/scenarios/current", nil))
			assert.Contains(t, rec.Body.String(), s.ID)
		})
	}
}

func TestScenario_ResetAndUnknown(t *testing.T) {
	h, engine := setupTestHandler(t)
	router := NewRouter(h, nil)
	ctx := context.Background()
	require.NoError(t, loadSplitScenario(ctx, engine))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/scenarios/reset", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	lots, err := engine.ListLots(ctx, lot.LotFilter{})
	require.NoError(t, err)
	assert.Empty(t, lots)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/scenarios/load", strings.NewReader(`{"scenario_id":"nope"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/scenarios", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "packaging-overshoot")
}
