/*
blend.go - Blend Operator (N batches -> one lot)

ALGORITHM:
  1. Every source batch must currently sit in exactly one ACTIVE single
     lot that is not already part of a blend and still holds volume.
  2. Each source contributes its remaining volume (total - packaged).
  3. The blend lot takes the sum as total volume, the least advanced phase
     among the sources, batchCount = N and a BLEND- prefixed code.
  4. One LotBatch row per source batch records its contribution.
  5. Every source lot is marked COMPLETED, superseded by the blend lot.

A blend cannot claim a more advanced phase than its least progressed
contributor. Split children cannot be blended (UnsupportedLotOperation).
*/
package lot

import (
	"context"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// BlendSource is one eligible contributor.
type BlendSource struct {
	Batch     Batch
	Lot       Lot
	Remaining decimal.Decimal
}

type BlendPlan struct {
	Code   string
	Phase  Phase
	Total  decimal.Decimal
	Shares []LotBatch
}

// BlendCode builds the blend lot code from the source batch numbers.
func BlendCode(numbers []string) string {
	return "BLEND-" + strings.Join(numbers, "-")
}

// PlanBlend combines sources into a blend plan. Shares carry no lot id yet.
func PlanBlend(sources []BlendSource) BlendPlan {
	plan := BlendPlan{Total: decimal.Zero}
	phases := make([]Phase, 0, len(sources))
	numbers := make([]string, 0, len(sources))
	for _, src := range sources {
		plan.Total = plan.Total.Add(src.Remaining)
		phases = append(phases, src.Lot.Phase)
		numbers = append(numbers, src.Batch.Number)
		plan.Shares = append(plan.Shares, LotBatch{BatchID: src.Batch.ID, Volume: src.Remaining})
	}
	plan.Phase = MinPhase(phases...)
	plan.Code = BlendCode(numbers)
	return plan
}

type BlendRequest struct {
	BatchIDs []BatchID
	VesselID VesselID
	Actor    string
}

type BlendResult struct {
	Blend   Lot
	Sources []Lot
	Shares  []LotBatch
}

// BlendBatches combines the active lots of several batches into one lot.
func (e *Engine) BlendBatches(ctx context.Context, req BlendRequest) (*BlendResult, error) {
	if len(req.BatchIDs) < 2 {
		return nil, invalidArgument("a blend needs at least 2 batches, got %d", len(req.BatchIDs))
	}
	if req.VesselID == "" {
		return nil, invalidArgument("blend needs a target vessel")
	}
	seen := make(map[BatchID]bool, len(req.BatchIDs))
	for _, id := range req.BatchIDs {
		if seen[id] {
			return nil, invalidArgument("batch %s listed twice", id)
		}
		seen[id] = true
	}

	var res BlendResult
	vt := &vesselTxn{vessels: e.vessels}
	err := e.store.WithTx(ctx, func(s Store) error {
		sources := make([]BlendSource, 0, len(req.BatchIDs))
		for _, id := range req.BatchIDs {
			src, err := blendSource(ctx, s, id)
			if err != nil {
				return err
			}
			sources = append(sources, *src)
		}

		plan := PlanBlend(sources)
		now := e.now()
		blend := Lot{
			ID:            LotID(e.newID()),
			Code:          plan.Code,
			Type:          TypeBlend,
			Phase:         plan.Phase,
			Status:        StatusActive,
			TotalVolume:   plan.Total,
			VesselID:      req.VesselID,
			IsBlendResult: true,
			BatchCount:    len(sources),
			CreatedAt:     now,
			BlendedAt:     timePtr(now),
			Version:       1,
			UpdatedAt:     now,
		}

		for _, src := range sources {
			if err := vt.release(ctx, src.Lot.VesselID, src.Lot.ID); err != nil {
				return err
			}
		}
		if err := vt.reserve(ctx, blend.VesselID, blend.ID); err != nil {
			return err
		}
		if err := s.InsertLot(ctx, blend); err != nil {
			return err
		}

		for i := range plan.Shares {
			plan.Shares[i].LotID = blend.ID
			plan.Shares[i].CreatedAt = now
			if err := s.InsertLotBatch(ctx, plan.Shares[i]); err != nil {
				return err
			}
		}

		for _, src := range sources {
			l := src.Lot
			l.Status = StatusCompleted
			l.Superseded = SupersededBlend
			l.SupersededBy = blend.ID
			l.BlendedAt = timePtr(now)
			if err := e.updateLot(ctx, s, &l); err != nil {
				return err
			}
			if err := s.AppendTimeline(ctx, e.entry(l.ID, ActionBlendSource, l.Phase, l.Phase, req.Actor, map[string]string{
				"blend_lot_id": string(blend.ID),
				"contribution": src.Remaining.String(),
			})); err != nil {
				return err
			}
			res.Sources = append(res.Sources, l)
		}

		if err := s.AppendTimeline(ctx, e.entry(blend.ID, ActionBlended, "", blend.Phase, req.Actor, map[string]string{
			"batch_count": strconv.Itoa(blend.BatchCount),
			"volume":      blend.TotalVolume.String(),
			"vessel":      string(blend.VesselID),
		})); err != nil {
			return err
		}

		res.Blend = blend
		res.Shares = plan.Shares
		return e.syncBatches(ctx, s, blend.ID)
	})
	if err != nil {
		e.rollbackVessels(ctx, vt)
		return nil, err
	}

	e.log.Info().
		Str("blend_lot_id", string(res.Blend.ID)).
		Str("code", res.Blend.Code).
		Int("batch_count", res.Blend.BatchCount).
		Str("volume", res.Blend.TotalVolume.String()).
		Str("phase", string(res.Blend.Phase)).
		Msg("batches blended")
	return &res, nil
}

// blendSource checks that a batch can contribute to a blend.
func blendSource(ctx context.Context, s Store, batchID BatchID) (*BlendSource, error) {
	b, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	active, err := activeLots(ctx, s, batchID)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, &BlendSourceError{BatchID: batchID, Reason: "no active lot"}
	}
	for _, l := range active {
		switch l.Type {
		case TypeBlend:
			return nil, &BlendSourceError{BatchID: batchID, Reason: "already part of blend lot " + l.Code}
		case TypeSplit:
			return nil, &UnsupportedError{LotID: l.ID, Operation: "blend", Reason: "split lots cannot join a blend"}
		}
	}
	if len(active) > 1 {
		return nil, &BlendSourceError{BatchID: batchID, Reason: "more than one active lot"}
	}

	summary, err := remainingVolume(ctx, s, active[0])
	if err != nil {
		return nil, err
	}
	if !summary.RemainingVolume.IsPositive() {
		return nil, &BlendSourceError{BatchID: batchID, Reason: "no remaining volume"}
	}
	return &BlendSource{Batch: *b, Lot: active[0], Remaining: summary.RemainingVolume}, nil
}
