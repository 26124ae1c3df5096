/*
handlers_test.go - HTTP tests for the lot API

Tests drive the router end to end over an in-memory store:
- Batch planning, brewing, fermentation and readings
- Splits, blends and lineage
- Packaging with overshoot confirmation and idempotent replay
- Error envelope and status mapping
*/
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brewline/lot-engine/external"
	"github.com/brewline/lot-engine/lot"
	"github.com/brewline/lot-engine/lot/store"
)

type testAPI struct {
	srv       *httptest.Server
	inventory *external.StaticInventory
	vessels   *external.StaticVessels
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	mem := store.NewMemory()
	inv := external.NewStaticInventory(external.DemoStock())
	vessels := external.NewStaticVessels(external.DemoVessels()...)
	engine := lot.NewEngine(mem,
		lot.WithInventory(inv),
		lot.WithVessels(vessels),
		lot.WithRecipes(external.NewStaticRecipes(external.DemoRecipes()...)),
	)
	h := NewHandler(engine,
		WithResetter(mem),
		WithVesselRegistry(vessels),
		WithDefaultActor("api-test"),
	)
	srv := httptest.NewServer(NewRouter(h, nil))
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, inventory: inv, vessels: vessels}
}

// call sends a JSON request and decodes the response into out when non-nil.
func (a *testAPI) call(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req, err := http.NewRequest(method, a.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// fermenting plans a batch and starts fermentation through the API.
func (a *testAPI) fermenting(t *testing.T, number string, liters float64, vessel string) (BatchDTO, LotDTO) {
	t.Helper()
	var b BatchDTO
	status := a.call(t, http.MethodPost, "/api/batches", map[string]any{
		"batch_number":   number,
		"planned_volume": liters,
		"target_og":      1.050,
		"target_fg":      1.010,
	}, &b)
	require.Equal(t, http.StatusCreated, status)

	var l LotDTO
	status = a.call(t, http.MethodPost, "/api/batches/"+b.ID+"/ferment", map[string]any{"vessel_id": vessel}, &l)
	require.Equal(t, http.StatusCreated, status)
	return b, l
}

func (a *testAPI) advanceTo(t *testing.T, lotID string, phases ...string) {
	t.Helper()
	for _, p := range phases {
		status := a.call(t, http.MethodPost, "/api/lots/"+lotID+"/advance", AdvanceRequest{Phase: p}, nil)
		require.Equal(t, http.StatusOK, status, "advance to %s", p)
	}
}

func TestAPI_Health(t *testing.T) {
	api := newTestAPI(t)

	var body map[string]string
	assert.Equal(t, http.StatusOK, api.call(t, http.MethodGet, "/api/health", nil, &body))
	assert.Equal(t, "ok", body["status"])
}

func TestAPI_BatchLifecycle(t *testing.T) {
	// GIVEN: A recipe-backed batch request
	api := newTestAPI(t)

	// WHEN: The batch is planned
	var b BatchDTO
	status := api.call(t, http.MethodPost, "/api/batches", map[string]any{
		"batch_number":   "B100",
		"recipe_id":      "pale-ale",
		"planned_volume": "500",
		"brew_date":      "2025-03-01",
	}, &b)

	// THEN: Targets default from the recipe
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "planned", b.Status)
	assert.Equal(t, 1.052, b.TargetOG)
	assert.Equal(t, "2025-03-01", b.BrewDate)

	// WHEN: Brewing starts
	status = api.call(t, http.MethodPost, "/api/batches/"+b.ID+"/brew", nil, &b)

	// THEN: Ingredients are deducted at half the recipe scale
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "brewing", b.Status)
	assert.Equal(t, "4890", api.inventory.OnHand("malt-pale").String())

	// WHEN: Fermentation starts in FV-1
	var l LotDTO
	status = api.call(t, http.MethodPost, "/api/batches/"+b.ID+"/ferment", map[string]any{"vessel_id": "FV-1"}, &l)

	// THEN: A single lot holds the planned volume and the vessel
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "B100", l.Code)
	assert.Equal(t, "single", l.Type)
	assert.Equal(t, "FERMENTATION", l.Phase)
	assert.Equal(t, "500", l.TotalVolume.String())
	assert.Equal(t, lot.LotID(l.ID), api.vessels.Holder("FV-1"))

	api.call(t, http.MethodGet, "/api/batches/"+b.ID, nil, &b)
	assert.Equal(t, "fermenting", b.Status)

	var batches []BatchDTO
	assert.Equal(t, http.StatusOK, api.call(t, http.MethodGet, "/api/batches", nil, &batches))
	assert.Len(t, batches, 1)
}

func TestAPI_DuplicateBatchNumber(t *testing.T) {
	api := newTestAPI(t)
	api.fermenting(t, "B100", 500, "FV-1")

	var errResp ErrorResponse
	status := api.call(t, http.MethodPost, "/api/batches", map[string]any{"batch_number": "B100", "planned_volume": 100}, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_argument", errResp.Code)
}

func TestAPI_ValidationErrors(t *testing.T) {
	api := newTestAPI(t)

	t.Run("missing fields", func(t *testing.T) {
		var errResp struct {
			Code    string            `json:"code"`
			Details map[string]string `json:"details"`
		}
		status := api.call(t, http.MethodPost, "/api/batches", map[string]any{"planned_volume": 0}, &errResp)
		assert.Equal(t, http.StatusUnprocessableEntity, status)
		assert.Equal(t, "validation_failed", errResp.Code)
		assert.Equal(t, "required", errResp.Details["batch_number"])
		assert.Equal(t, "gt", errResp.Details["planned_volume"])
	})

	t.Run("nested split target", func(t *testing.T) {
		var errResp struct {
			Details map[string]string `json:"details"`
		}
		status := api.call(t, http.MethodPost, "/api/batches/x/split", map[string]any{
			"targets": []map[string]any{{"percentage": 50}},
		}, &errResp)
		assert.Equal(t, http.StatusUnprocessableEntity, status)
		assert.Equal(t, "required", errResp.Details["targets[0].vessel_id"])
	})

	t.Run("malformed body", func(t *testing.T) {
		var errResp ErrorResponse
		status := api.call(t, http.MethodPost, "/api/batches", "{not json", &errResp)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "invalid_body", errResp.Code)
	})
}

func TestAPI_NotFound(t *testing.T) {
	api := newTestAPI(t)

	for _, path := range []string{"/api/lots/nope", "/api/batches/nope", "/api/lots/nope/timeline", "/api/batches/nope/metrics"} {
		var errResp ErrorResponse
		assert.Equal(t, http.StatusNotFound, api.call(t, http.MethodGet, path, nil, &errResp), path)
		assert.Equal(t, "not_found", errResp.Code, path)
	}
}

func TestAPI_VesselUnavailable(t *testing.T) {
	api := newTestAPI(t)
	api.fermenting(t, "B100", 500, "FV-1")

	var b BatchDTO
	api.call(t, http.MethodPost, "/api/batches", map[string]any{"batch_number": "B101", "planned_volume": 300}, &b)

	var errResp ErrorResponse
	status := api.call(t, http.MethodPost, "/api/batches/"+b.ID+"/ferment", map[string]any{"vessel_id": "FV-1"}, &errResp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "vessel_unavailable", errResp.Code)
}

func TestAPI_AdvancePhase(t *testing.T) {
	api := newTestAPI(t)
	_, l := api.fermenting(t, "B100", 500, "FV-1")

	t.Run("unknown phase", func(t *testing.T) {
		var errResp ErrorResponse
		status := api.call(t, http.MethodPost, "/api/lots/"+l.ID+"/advance", AdvanceRequest{Phase: "LAGERING"}, &errResp)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "invalid_argument", errResp.Code)
	})

	t.Run("skipping a phase", func(t *testing.T) {
		var errResp struct {
			Code    string            `json:"code"`
			Details map[string]string `json:"details"`
		}
		status := api.call(t, http.MethodPost, "/api/lots/"+l.ID+"/advance", AdvanceRequest{Phase: "BRIGHT"}, &errResp)
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "invalid_transition", errResp.Code)
		assert.Equal(t, "FERMENTATION", errResp.Details["from"])
	})

	t.Run("next phase", func(t *testing.T) {
		var out LotDTO
		status := api.call(t, http.MethodPost, "/api/lots/"+l.ID+"/advance", AdvanceRequest{Phase: "conditioning"}, &out)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "CONDITIONING", out.Phase)
		assert.Equal(t, 2, out.Version)
	})

	t.Run("complete before packaging", func(t *testing.T) {
		var errResp ErrorResponse
		status := api.call(t, http.MethodPost, "/api/lots/"+l.ID+"/complete", nil, &errResp)
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "invalid_transition", errResp.Code)
	})

	var timeline []TimelineEntryDTO
	require.Equal(t, http.StatusOK, api.call(t, http.MethodGet, "/api/lots/"+l.ID+"/timeline", nil, &timeline))
	require.Len(t, timeline, 2)
	assert.Equal(t, "created", timeline[0].Action)
	assert.Equal(t, "phase_advanced", timeline[1].Action)
	assert.Equal(t, "api-test", timeline[1].Actor)
}

func TestAPI_SplitAndLineage(t *testing.T) {
	// GIVEN: A 1000 L fermenting batch
	api := newTestAPI(t)
	b, source := api.fermenting(t, "B100", 1000, "FV-1")

	// WHEN: Over-allocating percentages
	var errResp ErrorResponse
	status := api.call(t, http.MethodPost, "/api/batches/"+b.ID+"/split", map[string]any{
		"targets": []map[string]any{
			{"vessel_id": "FV-2", "percentage": 70},
			{"vessel_id": "FV-3", "percentage": 40},
		},
	}, &errResp)

	// THEN: The split is rejected and nothing changes
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "split_volume_mismatch", errResp.Code)
	assert.Equal(t, lot.LotID(source.ID), api.vessels.Holder("FV-1"))

	// WHEN: Splitting 60/40
	var res SplitResultDTO
	status = api.call(t, http.MethodPost, "/api/batches/"+b.ID+"/split", map[string]any{
		"targets": []map[string]any{
			{"vessel_id": "FV-2", "percentage": 60},
			{"vessel_id": "FV-3", "percentage": "40"},
		},
	}, &res)

	// THEN: Two children carry 600 and 400 L and the source is completed
	require.Equal(t, http.StatusCreated, status)
	require.Len(t, res.Children, 2)
	assert.Equal(t, "B100-A", res.Children[0].Code)
	assert.Equal(t, "600", res.Children[0].TotalVolume.String())
	assert.Equal(t, "B100-B", res.Children[1].Code)
	assert.Equal(t, "400", res.Children[1].TotalVolume.String())
	assert.Equal(t, "COMPLETED", res.Source.Status)
	assert.Equal(t, "split", res.Source.Superseded)
	assert.Empty(t, api.vessels.Holder("FV-1"))

	var splits []LotDTO
	require.Equal(t, http.StatusOK, api.call(t, http.MethodGet, "/api/lots?type=split&status=active", nil, &splits))
	assert.Len(t, splits, 2)

	var lineage LineageDTO
	require.Equal(t, http.StatusOK, api.call(t, http.MethodGet, "/api/lots/"+res.Children[0].ID+"/lineage", nil, &lineage))
	require.NotNil(t, lineage.Parent)
	assert.Equal(t, source.ID, lineage.Parent.ID)

	require.Equal(t, http.StatusOK, api.call(t, http.MethodGet, "/api/lots/"+source.ID+"/lineage", nil, &lineage))
	assert.Len(t, lineage.Children, 2)

	// WHEN: Splitting a split child's batch again
	status = api.call(t, http.MethodPost, "/api/batches/"+b.ID+"/split", map[string]any{
		"targets": []map[string]any{
			{"vessel_id": "FV-4", "percentage": 50},
			{"vessel_id": "FV-5", "percentage": 50},
		},
	}, &errResp)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "unsupported_lot_operation", errResp.Code)
}

func TestAPI_ListLotsRejectsUnknownFilters(t *testing.T) {
	api := newTestAPI(t)

	assert.Equal(t, http.StatusBadRequest, api.call(t, http.MethodGet, "/api/lots?status=paused", nil, nil))
	assert.Equal(t, http.StatusBadRequest, api.call(t, http.MethodGet, "/api/lots?type=keg", nil, nil))
}

func TestAPI_Blend(t *testing.T) {
	// GIVEN: 500 L in FERMENTATION and 300 L in CONDITIONING
	api := newTestAPI(t)
	b1, l1 := api.fermenting(t, "B100", 500, "FV-1")
	b2, l2 := api.fermenting(t, "B101", 300, "FV-2")
	api.advanceTo(t, l2.ID, "CONDITIONING")

	// WHEN: Blending into BT-1
	var res BlendResultDTO
	status := api.call(t, http.MethodPost, "/api/blends", BlendRequest{
		BatchIDs: []string{b1.ID, b2.ID},
		VesselID: "BT-1",
	}, &res)

	// THEN: One 800 L blend lot in the least advanced phase
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "BLEND-B100-B101", res.Blend.Code)
	assert.Equal(t, "800", res.Blend.TotalVolume.String())
	assert.Equal(t, "FERMENTATION", res.Blend.Phase)
	assert.Equal(t, 2, res.Blend.BatchCount)
	assert.True(t, res.Blend.IsBlendResult)
	require.Len(t, res.Shares, 2)

	// AND: The absorbed lots cannot be advanced directly
	var errResp ErrorResponse
	status = api.call(t, http.MethodPost, "/api/lots/"+l1.ID+"/advance", AdvanceRequest{Phase: "CONDITIONING"}, &errResp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "blend_membership_conflict", errResp.Code)

	// AND: A second blend of the same batches is refused
	var conflict struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	}
	status = api.call(t, http.MethodPost, "/api/blends", BlendRequest{
		BatchIDs: []string{b1.ID, b2.ID},
		VesselID: "BT-2",
	}, &conflict)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "blend_source_unavailable", conflict.Code)
	assert.Equal(t, b1.ID, conflict.Details["batch_id"])
}

func TestAPI_PackagingOvershoot(t *testing.T) {
	// GIVEN: An 800 L lot in PACKAGING with 300 L packaged
	api := newTestAPI(t)
	_, l := api.fermenting(t, "B100", 800, "FV-1")
	api.advanceTo(t, l.ID, "CONDITIONING", "BRIGHT", "PACKAGING")

	var first PackagingResultDTO
	status := api.call(t, http.MethodPost, "/api/lots/"+l.ID+"/packaging", map[string]any{
		"package_type":    "keg-50l",
		"quantity":        6,
		"volume":          300,
		"idempotency_key": "run-1",
	}, &first)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "500", first.Volume.RemainingVolume.String())
	assert.Nil(t, first.Warning)

	// WHEN: A 600 L run is submitted without confirmation
	var errResp struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	}
	status = api.call(t, http.MethodPost, "/api/lots/"+l.ID+"/packaging", map[string]any{
		"package_type": "can-440ml",
		"quantity":     1363,
		"volume":       600,
	}, &errResp)

	// THEN: It is refused with the numbers needed to confirm
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "volume_exceeded", errResp.Code)
	assert.Equal(t, "500", errResp.Details["remaining"])
	assert.Equal(t, "600", errResp.Details["requested"])
	assert.Equal(t, "100", errResp.Details["overshoot"])

	// WHEN: The operator confirms
	var confirmed PackagingResultDTO
	status = api.call(t, http.MethodPost, "/api/lots/"+l.ID+"/packaging", map[string]any{
		"package_type":      "can-440ml",
		"quantity":          1363,
		"volume":            600,
		"confirm_overshoot": true,
	}, &confirmed)

	// THEN: The run is recorded, remaining clamps to zero and a warning is returned
	require.Equal(t, http.StatusCreated, status)
	require.NotNil(t, confirmed.Warning)
	assert.Equal(t, "100", confirmed.Warning.Liters.String())
	assert.Equal(t, "0", confirmed.Volume.RemainingVolume.String())
	assert.Equal(t, "900", confirmed.Volume.PackagedVolume.String())

	// AND: Replaying the first run's key writes nothing
	var replay PackagingResultDTO
	status = api.call(t, http.MethodPost, "/api/lots/"+l.ID+"/packaging", map[string]any{
		"package_type":    "keg-50l",
		"quantity":        6,
		"volume":          300,
		"idempotency_key": "run-1",
	}, &replay)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, replay.Replayed)
	assert.Equal(t, first.Run.ID, replay.Run.ID)

	var runs []PackagingRunDTO
	require.Equal(t, http.StatusOK, api.call(t, http.MethodGet, "/api/lots/"+l.ID+"/packaging", nil, &runs))
	assert.Len(t, runs, 2)

	var view LotStatusDTO
	require.Equal(t, http.StatusOK, api.call(t, http.MethodGet, "/api/lots/"+l.ID+"/status", nil, &view))
	assert.Equal(t, 2, view.Volume.RunCount)
	assert.Equal(t, "0", view.Volume.RemainingVolume.String())

	// WHEN: The lot is completed
	var done LotDTO
	require.Equal(t, http.StatusOK, api.call(t, http.MethodPost, "/api/lots/"+l.ID+"/complete", map[string]any{"actor": "cellar"}, &done))
	assert.Equal(t, "COMPLETED", done.Status)

	// THEN: Further packaging is refused
	var completedErr ErrorResponse
	status = api.call(t, http.MethodPost, "/api/lots/"+l.ID+"/packaging", map[string]any{
		"package_type": "keg-50l",
		"quantity":     1,
		"volume":       50,
	}, &completedErr)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "lot_completed", completedErr.Code)
}

func TestAPI_PackagingIdempotencyHeader(t *testing.T) {
	api := newTestAPI(t)
	_, l := api.fermenting(t, "B100", 800, "FV-1")
	api.advanceTo(t, l.ID, "CONDITIONING", "BRIGHT", "PACKAGING")

	send := func() (int, PackagingResultDTO) {
		body, err := json.Marshal(map[string]any{"package_type": "keg-50l", "quantity": 2, "volume": 100})
		require.NoError(t, err)
		req, err := http.NewRequest(http.MethodPost, api.srv.URL+"/api/lots/"+l.ID+"/packaging", bytes.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Idempotency-Key", "hdr-1")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		var out PackagingResultDTO
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return resp.StatusCode, out
	}

	status, first := send()
	assert.Equal(t, http.StatusCreated, status)
	status, second := send()
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Run.ID, second.Run.ID)
	assert.Equal(t, "700", second.Volume.RemainingVolume.String())
}

func TestAPI_GravityReadings(t *testing.T) {
	// GIVEN: A fermenting batch
	api := newTestAPI(t)
	b, l := api.fermenting(t, "B100", 500, "FV-1")

	// WHEN: Recording an original reading in Plato and a routine SG reading
	var res ReadingResultDTO
	status := api.call(t, http.MethodPost, "/api/batches/"+b.ID+"/readings", map[string]any{
		"value": 12, "unit": "plato", "kind": "original",
	}, &res)
	require.Equal(t, http.StatusCreated, status)
	assert.InDelta(t, 1.048, res.Reading.SG, 0.001)
	assert.Equal(t, l.ID, res.Reading.LotID)

	status = api.call(t, http.MethodPost, "/api/batches/"+b.ID+"/readings", map[string]any{
		"value": 1.012, "temperature": 18.5, "notes": "day 5",
	}, &res)
	require.Equal(t, http.StatusCreated, status)

	// THEN: Metrics are derived and rounded for display
	var m MetricsDTO
	require.Equal(t, http.StatusOK, api.call(t, http.MethodGet, "/api/batches/"+b.ID+"/metrics", nil, &m))
	assert.Equal(t, 2, m.ReadingCount)
	assert.Equal(t, 1.012, m.CurrentGravity)
	assert.Equal(t, m.ABV, res.Metrics.ABV)
	assert.InDelta(t, 4.7, m.ABV, 0.2)

	var readings []ReadingDTO
	require.Equal(t, http.StatusOK, api.call(t, http.MethodGet, "/api/batches/"+b.ID+"/readings", nil, &readings))
	require.Len(t, readings, 2)
	assert.Equal(t, "original", readings[0].Kind)
	assert.Equal(t, "routine", readings[1].Kind)

	// AND: Out-of-range and unknown-unit readings are rejected
	assert.Equal(t, http.StatusBadRequest, api.call(t, http.MethodPost, "/api/batches/"+b.ID+"/readings", map[string]any{"value": 1.5}, nil))
	assert.Equal(t, http.StatusBadRequest, api.call(t, http.MethodPost, "/api/batches/"+b.ID+"/readings", map[string]any{"value": 12, "unit": "oechsle"}, nil))
	assert.Equal(t, http.StatusUnprocessableEntity, api.call(t, http.MethodPost, "/api/batches/"+b.ID+"/readings", map[string]any{"value": 1.01, "kind": "guess"}, nil))
}

func TestAPI_Convert(t *testing.T) {
	api := newTestAPI(t)

	var out ConversionDTO
	require.Equal(t, http.StatusOK, api.call(t, http.MethodGet, "/api/convert?value=12&from=plato&to=sg", nil, &out))
	assert.Equal(t, "plato", out.From)
	assert.Equal(t, "sg", out.To)
	assert.InDelta(t, 1.048, out.Result, 0.001)

	require.Equal(t, http.StatusOK, api.call(t, http.MethodGet, "/api/convert?value=1.048&from=sg&to=plato", nil, &out))
	assert.InDelta(t, 11.9, out.Result, 0.2)

	assert.Equal(t, http.StatusBadRequest, api.call(t, http.MethodGet, "/api/convert?value=abc&from=sg&to=plato", nil, nil))
	assert.Equal(t, http.StatusBadRequest, api.call(t, http.MethodGet, "/api/convert?value=1&from=sg&to=kelvin", nil, nil))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{&lot.NotFoundError{Kind: "lot", ID: "x"}, http.StatusNotFound},
		{lot.ErrInvalidArgument, http.StatusBadRequest},
		{&lot.TransitionError{Subject: "lot"}, http.StatusConflict},
		{&lot.BlendMembershipError{}, http.StatusConflict},
		{&lot.BlendSourceError{}, http.StatusConflict},
		{&lot.SourceNotActiveError{}, http.StatusConflict},
		{&lot.LotCompletedError{}, http.StatusConflict},
		{&lot.VolumeExceededError{}, http.StatusConflict},
		{lot.ErrConcurrentModification, http.StatusConflict},
		{lot.ErrVesselUnavailable, http.StatusConflict},
		{external.ErrInsufficientStock, http.StatusConflict},
		{&lot.SplitVolumeError{}, http.StatusUnprocessableEntity},
		{&lot.UnsupportedError{}, http.StatusUnprocessableEntity},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _ := classify(tt.err)
		assert.Equal(t, tt.status, status, "%T", tt.err)
	}
}
