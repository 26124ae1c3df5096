/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
	Provides pre-built scenarios that populate the store with batches and
	lots in a known state. Every loader drives the Engine exactly as an
	API client would, so scenario data obeys the same rules as real data.

AVAILABLE SCENARIOS:

	split-60-40:          1000 L batch split 60/40 into two vessels
	blend-two-batches:    500 L (FERMENTATION) + 300 L (CONDITIONING) blended
	packaging-overshoot:  800 L lot in PACKAGING with 300 L already packaged

HOW SCENARIOS WORK:
 1. Reset the store and any in-process vessel holds
 2. Plan batches
 3. Start fermentation in demo vessels
 4. Advance, split, blend or package through the Engine

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "split-60-40"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/brewline/lot-engine/lot"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

const scenarioActor = "scenario"

var scenarios = []ScenarioDTO{
	{
		ID:          "split-60-40",
		Name:        "Split 60/40",
		Description: "A 1000 L fermenting batch split 60/40 into FV-2 and FV-3",
	},
	{
		ID:          "blend-two-batches",
		Name:        "Blend Two Batches",
		Description: "500 L in FERMENTATION and 300 L in CONDITIONING blended into BT-1",
	},
	{
		ID:          "packaging-overshoot",
		Name:        "Packaging Overshoot",
		Description: "800 L lot in PACKAGING with 300 L packaged; a 600 L run exceeds what remains",
	},
}

var scenarioLoaders = map[string]func(context.Context, *lot.Engine) error{
	"split-60-40":         loadSplitScenario,
	"blend-two-batches":   loadBlendScenario,
	"packaging-overshoot": loadPackagingOvershootScenario,
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads the requested scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown_scenario", fmt.Sprintf("Unknown scenario %q", req.ScenarioID), nil)
		return
	}
	if h.store == nil {
		writeError(w, http.StatusNotImplemented, "reset_unsupported", "Store cannot be reset", nil)
		return
	}

	ctx := r.Context()
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.reset(ctx); err != nil {
		h.writeDomainError(w, r, fmt.Errorf("reset store: %w", err))
		return
	}
	if err := load(ctx, h.engine); err != nil {
		h.writeDomainError(w, r, fmt.Errorf("load scenario %s: %w", req.ScenarioID, err))
		return
	}
	h.currentScenario = req.ScenarioID
	h.log.Info().Str("scenario", req.ScenarioID).Msg("scenario loaded")

	batches, err := h.engine.ListBatches(ctx)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	lots, err := h.engine.ListLots(ctx, lot.LotFilter{})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	var loaded ScenarioDTO
	for _, s := range scenarios {
		if s.ID == req.ScenarioID {
			loaded = s
		}
	}
	writeJSON(w, http.StatusOK, ScenarioLoadedDTO{
		Scenario: loaded,
		Batches:  toBatchDTOs(batches),
		Lots:     toLotDTOs(lots),
	})
}

// ResetDatabase clears all data.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotImplemented, "reset_unsupported", "Store cannot be reset", nil)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.reset(r.Context()); err != nil {
		h.writeDomainError(w, r, fmt.Errorf("reset store: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// reset wipes the store and vessel holds. Callers hold h.mu.
func (h *Handler) reset(ctx context.Context) error {
	if err := h.store.Reset(ctx); err != nil {
		return err
	}
	if h.vessels != nil {
		h.vessels.Reset()
	}
	h.currentScenario = ""
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// fermentingBatch plans a batch and starts fermentation in vessel.
func fermentingBatch(ctx context.Context, e *lot.Engine, number string, liters float64, vessel lot.VesselID) (*lot.Batch, *lot.Lot, error) {
	b, err := e.CreateBatch(ctx, lot.NewBatch{
		Number:        number,
		RecipeID:      "pale-ale",
		PlannedVolume: lot.Liters(liters),
		TargetOG:      1.052,
		TargetFG:      1.011,
	})
	if err != nil {
		return nil, nil, err
	}
	l, err := e.StartFermentation(ctx, lot.FermentationStart{BatchID: b.ID, VesselID: vessel, Actor: scenarioActor})
	if err != nil {
		return nil, nil, err
	}
	return b, l, nil
}

// advance walks a lot forward one phase at a time up to target.
func advance(ctx context.Context, e *lot.Engine, id lot.LotID, target lot.Phase) error {
	l, err := e.GetLot(ctx, id)
	if err != nil {
		return err
	}
	for l.Phase.Before(target) {
		next, _ := l.Phase.Next()
		if l, err = e.AdvanceLotPhase(ctx, id, next, scenarioActor); err != nil {
			return err
		}
	}
	return nil
}

func loadSplitScenario(ctx context.Context, e *lot.Engine) error {
	b, _, err := fermentingBatch(ctx, e, "B-1001", 1000, "FV-1")
	if err != nil {
		return err
	}
	_, err = e.SplitBatch(ctx, lot.SplitRequest{
		BatchID: b.ID,
		Targets: []lot.SplitTarget{
			{VesselID: "FV-2", Percentage: decimal.NewFromInt(60)},
			{VesselID: "FV-3", Percentage: decimal.NewFromInt(40)},
		},
		Actor: scenarioActor,
	})
	return err
}

func loadBlendScenario(ctx context.Context, e *lot.Engine) error {
	b1, _, err := fermentingBatch(ctx, e, "B-2001", 500, "FV-4")
	if err != nil {
		return err
	}
	b2, l2, err := fermentingBatch(ctx, e, "B-2002", 300, "FV-5")
	if err != nil {
		return err
	}
	if err := advance(ctx, e, l2.ID, lot.PhaseConditioning); err != nil {
		return err
	}
	_, err = e.BlendBatches(ctx, lot.BlendRequest{
		BatchIDs: []lot.BatchID{b1.ID, b2.ID},
		VesselID: "BT-1",
		Actor:    scenarioActor,
	})
	return err
}

func loadPackagingOvershootScenario(ctx context.Context, e *lot.Engine) error {
	_, l, err := fermentingBatch(ctx, e, "B-3001", 800, "FV-6")
	if err != nil {
		return err
	}
	if err := advance(ctx, e, l.ID, lot.PhasePackaging); err != nil {
		return err
	}
	_, err = e.RecordPackagingRun(ctx, lot.PackagingRequest{
		LotID:          l.ID,
		PackageType:    "keg-50l",
		Quantity:       6,
		Volume:         lot.Liters(300),
		Operator:       scenarioActor,
		IdempotencyKey: "scenario-overshoot-run-1",
	})
	return err
}
