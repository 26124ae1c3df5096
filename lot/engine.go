/*
engine.go - Lot Engine orchestrator

PURPOSE:
  The Engine is the only component the surrounding application talks to.
  It composes the state machine (lifecycle.go), the split and blend
  operators (split.go, blend.go), volume reconciliation (volume.go) and the
  gravity calculator, and runs every mutation as one atomic unit against
  the TxStore.

CONCURRENCY:
  Each mutating operation runs inside TxStore.WithTx. Lot rows are updated
  with an optimistic version check, so two packaging runs that read the
  same remaining volume cannot both commit. Split and blend hold the same
  guarantee across every lot and batch they touch.

OPERATIONS:
  Batches:   CreateBatch, StartBrew, StartFermentation, GetBatch, ListBatches
  Lifecycle: AdvanceLotPhase, CompleteLot                (transitions.go)
  Graph:     SplitBatch (split.go), BlendBatches (blend.go)
  Volume:    RecordPackagingRun, PackagingRuns, GetLotStatus (packaging.go)
  Gravity:   RecordGravityReading, Readings, BatchMetrics    (readings.go)
  History:   Lineage, Timeline

EXAMPLE:
  engine := lot.NewEngine(store,
      lot.WithLogger(log.Logger),
      lot.WithVessels(vessels),
  )
  lots, err := engine.SplitBatch(ctx, lot.SplitRequest{...})
*/
package lot

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultTolerance absorbs rounding in split and packaging arithmetic (liters).
var DefaultTolerance = decimal.RequireFromString("0.01")

type Engine struct {
	store     TxStore
	inventory Inventory
	vessels   Vessels
	recipes   Recipes

	log       zerolog.Logger
	tolerance decimal.Decimal
	now       func() time.Time
	newID     func() string
}

type Option func(*Engine)

func WithLogger(l zerolog.Logger) Option    { return func(e *Engine) { e.log = l } }
func WithInventory(inv Inventory) Option    { return func(e *Engine) { e.inventory = inv } }
func WithVessels(v Vessels) Option          { return func(e *Engine) { e.vessels = v } }
func WithRecipes(r Recipes) Option          { return func(e *Engine) { e.recipes = r } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }
func WithIDs(gen func() string) Option      { return func(e *Engine) { e.newID = gen } }

// WithTolerance overrides DefaultTolerance. Negative values are ignored.
func WithTolerance(t decimal.Decimal) Option {
	return func(e *Engine) {
		if !t.IsNegative() {
			e.tolerance = t
		}
	}
}

func NewEngine(store TxStore, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		log:       zerolog.Nop(),
		tolerance: DefaultTolerance,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Tolerance is the rounding allowance used by split and packaging checks.
func (e *Engine) Tolerance() decimal.Decimal { return e.tolerance }

// =============================================================================
// BATCHES
// =============================================================================

// NewBatch describes a batch to plan.
type NewBatch struct {
	Number        string
	RecipeID      string
	PlannedVolume decimal.Decimal
	BrewDate      time.Time
	// Zero targets default from the recipe.
	TargetOG float64
	TargetFG float64
}

// CreateBatch plans a batch. Batch numbers are unique.
func (e *Engine) CreateBatch(ctx context.Context, nb NewBatch) (*Batch, error) {
	if nb.Number == "" {
		return nil, invalidArgument("batch number is required")
	}
	if !nb.PlannedVolume.IsPositive() {
		return nil, invalidArgument("planned volume must be positive")
	}

	if nb.RecipeID != "" && e.recipes != nil && (nb.TargetOG == 0 || nb.TargetFG == 0) {
		r, err := e.recipes.Recipe(ctx, nb.RecipeID)
		if err != nil {
			return nil, err
		}
		if nb.TargetOG == 0 {
			nb.TargetOG = r.TargetOG
		}
		if nb.TargetFG == 0 {
			nb.TargetFG = r.TargetFG
		}
	}

	now := e.now()
	b := Batch{
		ID:            BatchID(e.newID()),
		Number:        nb.Number,
		RecipeID:      nb.RecipeID,
		PlannedVolume: nb.PlannedVolume,
		TargetOG:      nb.TargetOG,
		TargetFG:      nb.TargetFG,
		BrewDate:      nb.BrewDate,
		Status:        BatchPlanned,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := e.store.WithTx(ctx, func(s Store) error {
		existing, err := s.GetBatchByNumber(ctx, nb.Number)
		if err != nil {
			return err
		}
		if existing != nil {
			return invalidArgument("batch number %s already exists", nb.Number)
		}
		return s.SaveBatch(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	e.log.Info().Str("batch_id", string(b.ID)).Str("batch_number", b.Number).Msg("batch planned")
	return &b, nil
}

// StartBrew moves a planned batch to brewing, deducting the recipe's
// ingredients scaled to the planned volume. The batch is claimed before
// any stock moves; a failed deduction restocks what was taken and leaves
// the batch planned.
func (e *Engine) StartBrew(ctx context.Context, batchID BatchID) (*Batch, error) {
	var claimed Batch
	err := e.store.WithTx(ctx, func(s Store) error {
		cur, err := s.GetBatch(ctx, batchID)
		if err != nil {
			return err
		}
		if cur.Status != BatchPlanned {
			return batchTransitionError(cur, BatchBrewing, "only planned batches can start brewing")
		}
		cur.Status = BatchBrewing
		cur.UpdatedAt = e.now()
		claimed = *cur
		return s.SaveBatch(ctx, *cur)
	})
	if err != nil {
		return nil, err
	}

	it := &inventoryTxn{inventory: e.inventory}
	if err := e.deductIngredients(ctx, it, &claimed); err != nil {
		for _, rerr := range it.rollback(ctx) {
			e.log.Error().Err(rerr).Str("batch_id", string(batchID)).Msg("restock after failed brew")
		}
		if rerr := e.unclaimBrew(ctx, batchID); rerr != nil {
			e.log.Error().Err(rerr).Str("batch_id", string(batchID)).Msg("return batch to planned")
		}
		return nil, err
	}
	e.log.Info().Str("batch_id", string(batchID)).Int("deductions", len(it.deducted)).Msg("brew started")
	return &claimed, nil
}

// unclaimBrew puts a batch back to planned if nothing moved it past brewing.
func (e *Engine) unclaimBrew(ctx context.Context, batchID BatchID) error {
	return e.store.WithTx(ctx, func(s Store) error {
		cur, err := s.GetBatch(ctx, batchID)
		if err != nil {
			return err
		}
		if cur.Status != BatchBrewing {
			return nil
		}
		cur.Status = BatchPlanned
		cur.UpdatedAt = e.now()
		return s.SaveBatch(ctx, *cur)
	})
}

func (e *Engine) deductIngredients(ctx context.Context, it *inventoryTxn, b *Batch) error {
	if e.inventory == nil || e.recipes == nil || b.RecipeID == "" {
		return nil
	}
	r, err := e.recipes.Recipe(ctx, b.RecipeID)
	if err != nil {
		return err
	}
	scale := decimal.NewFromInt(1)
	if r.BatchVolume.IsPositive() {
		scale = b.PlannedVolume.Div(r.BatchVolume)
	}
	for _, ing := range r.Ingredients {
		d := Deduction{
			ItemID:    ing.ItemID,
			Quantity:  ing.Quantity.Mul(scale).Round(3),
			Unit:      ing.Unit,
			Reference: b.Number,
		}
		if err := it.deduct(ctx, d); err != nil {
			e.log.Error().Err(err).Str("batch_id", string(b.ID)).Str("item_id", ing.ItemID).Msg("ingredient deduction failed")
			return err
		}
	}
	return nil
}

// FermentationStart creates a batch's first lot.
type FermentationStart struct {
	BatchID  BatchID
	VesselID VesselID
	// Zero means the batch's planned volume.
	Volume decimal.Decimal
	Actor  string
}

// StartFermentation creates the 1:1 single lot for a batch in the given
// vessel, in FERMENTATION.
func (e *Engine) StartFermentation(ctx context.Context, req FermentationStart) (*Lot, error) {
	if req.Volume.IsNegative() {
		return nil, invalidArgument("volume must not be negative")
	}

	var created Lot
	vt := &vesselTxn{vessels: e.vessels}
	err := e.store.WithTx(ctx, func(s Store) error {
		b, err := s.GetBatch(ctx, req.BatchID)
		if err != nil {
			return err
		}
		if b.Status != BatchPlanned && b.Status != BatchBrewing {
			return batchTransitionError(b, BatchFermenting, "fermentation already started")
		}
		volume := req.Volume
		if volume.IsZero() {
			volume = b.PlannedVolume
		}

		now := e.now()
		created = Lot{
			ID:          LotID(e.newID()),
			Code:        b.Number,
			Type:        TypeSingle,
			Phase:       PhaseFermentation,
			Status:      StatusActive,
			TotalVolume: volume,
			VesselID:    req.VesselID,
			BatchCount:  1,
			CreatedAt:   now,
			Version:     1,
			UpdatedAt:   now,
		}
		if err := vt.reserve(ctx, req.VesselID, created.ID); err != nil {
			return err
		}
		if err := s.InsertLot(ctx, created); err != nil {
			return err
		}
		if err := s.InsertLotBatch(ctx, LotBatch{LotID: created.ID, BatchID: b.ID, Volume: volume, CreatedAt: now}); err != nil {
			return err
		}
		if err := s.AppendTimeline(ctx, e.entry(created.ID, ActionCreated, "", PhaseFermentation, req.Actor, map[string]string{
			"batch_id": string(b.ID),
			"volume":   volume.String(),
			"vessel":   string(req.VesselID),
		})); err != nil {
			return err
		}
		b.Status = BatchFermenting
		b.UpdatedAt = now
		return s.SaveBatch(ctx, *b)
	})
	if err != nil {
		e.rollbackVessels(ctx, vt)
		return nil, err
	}
	e.log.Info().Str("lot_id", string(created.ID)).Str("code", created.Code).Msg("lot created")
	return &created, nil
}

func (e *Engine) GetBatch(ctx context.Context, id BatchID) (*Batch, error) {
	return e.store.GetBatch(ctx, id)
}

func (e *Engine) ListBatches(ctx context.Context) ([]Batch, error) {
	return e.store.ListBatches(ctx)
}

func batchTransitionError(b *Batch, to BatchStatus, reason string) error {
	return &TransitionError{
		Subject: "batch",
		ID:      string(b.ID),
		From:    string(b.Status),
		To:      string(to),
		Reason:  reason,
	}
}

// =============================================================================
// LOT QUERIES
// =============================================================================

func (e *Engine) GetLot(ctx context.Context, id LotID) (*Lot, error) {
	return e.store.GetLot(ctx, id)
}

func (e *Engine) ListLots(ctx context.Context, filter LotFilter) ([]Lot, error) {
	return e.store.ListLots(ctx, filter)
}

// Lineage is a lot with its immediate neighbours in the split/blend graph.
type Lineage struct {
	Lot          Lot
	Batches      []LotBatch
	Parent       *Lot  // split source
	Children     []Lot // split children
	Sources      []Lot // blend sources
	SupersededBy *Lot  // blend that absorbed this lot
}

func (e *Engine) Lineage(ctx context.Context, id LotID) (*Lineage, error) {
	l, err := e.store.GetLot(ctx, id)
	if err != nil {
		return nil, err
	}
	out := &Lineage{Lot: *l}
	if out.Batches, err = e.store.LotBatches(ctx, id); err != nil {
		return nil, err
	}
	if l.ParentLotID != "" {
		if out.Parent, err = e.store.GetLot(ctx, l.ParentLotID); err != nil {
			return nil, err
		}
	}
	if l.SupersededBy != "" {
		if out.SupersededBy, err = e.store.GetLot(ctx, l.SupersededBy); err != nil {
			return nil, err
		}
	}
	if out.Children, err = e.store.ListLots(ctx, LotFilter{ParentLotID: id}); err != nil {
		return nil, err
	}
	if l.Type == TypeBlend {
		if out.Sources, err = e.store.ListLots(ctx, LotFilter{SupersededBy: id}); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Timeline returns the audit entries of a lot, oldest first.
func (e *Engine) Timeline(ctx context.Context, id LotID) ([]TimelineEntry, error) {
	if _, err := e.store.GetLot(ctx, id); err != nil {
		return nil, err
	}
	return e.store.Timeline(ctx, id)
}

// =============================================================================
// HELPERS
// =============================================================================

func (e *Engine) entry(lotID LotID, action TimelineAction, from, to Phase, actor string, payload map[string]string) TimelineEntry {
	if actor == "" {
		actor = "system"
	}
	return TimelineEntry{
		ID:        EntryID(e.newID()),
		LotID:     lotID,
		Action:    action,
		FromPhase: from,
		ToPhase:   to,
		Actor:     actor,
		At:        e.now(),
		Payload:   payload,
	}
}

// updateLot writes l with an optimistic check against the version it was
// read at, bumping the version in place.
func (e *Engine) updateLot(ctx context.Context, s Store, l *Lot) error {
	expected := l.Version
	l.Version++
	l.UpdatedAt = e.now()
	return s.UpdateLot(ctx, *l, expected)
}

// syncBatches re-derives the status of every batch linked to lotID.
func (e *Engine) syncBatches(ctx context.Context, s Store, lotID LotID) error {
	rows, err := s.LotBatches(ctx, lotID)
	if err != nil {
		return err
	}
	for _, row := range rows {
		b, err := s.GetBatch(ctx, row.BatchID)
		if err != nil {
			return err
		}
		lots, err := s.BatchLots(ctx, row.BatchID)
		if err != nil {
			return err
		}
		status := DeriveBatchStatus(lots, b.Status)
		if status == b.Status {
			continue
		}
		b.Status = status
		b.UpdatedAt = e.now()
		if err := s.SaveBatch(ctx, *b); err != nil {
			return err
		}
	}
	return nil
}

// activeLots returns the ACTIVE lots linked to a batch.
func activeLots(ctx context.Context, s Store, batchID BatchID) ([]Lot, error) {
	lots, err := s.BatchLots(ctx, batchID)
	if err != nil {
		return nil, err
	}
	var active []Lot
	for _, l := range lots {
		if l.IsActive() {
			active = append(active, l)
		}
	}
	return active, nil
}

// remainingVolume reconciles l against its packaging runs.
func remainingVolume(ctx context.Context, s Store, l Lot) (VolumeSummary, error) {
	runs, err := s.PackagingRuns(ctx, l.ID, l.Code)
	if err != nil {
		return VolumeSummary{}, err
	}
	return Reconcile(l, runs), nil
}

func (e *Engine) rollbackVessels(ctx context.Context, vt *vesselTxn) {
	for _, err := range vt.rollback(ctx) {
		e.log.Error().Err(err).Msg("vessel reservation rollback failed")
	}
}
