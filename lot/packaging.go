package lot

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PackagingRequest records volume leaving a lot into finished packages.
type PackagingRequest struct {
	LotID       LotID
	PackageType string
	Quantity    int
	Volume      decimal.Decimal
	Operator    string
	PackagedAt  time.Time

	// IdempotencyKey lets clients retry safely; a repeated key returns the
	// original run.
	IdempotencyKey string
	// ConfirmOvershoot records the run even when it exceeds the remaining
	// volume. Remaining volume then clamps to zero.
	ConfirmOvershoot bool
}

type PackagingResult struct {
	Run     PackagingRun
	Summary VolumeSummary
	// Overshoot is the volume packaged past what remained; zero normally.
	Overshoot decimal.Decimal
	// Replayed is set when the idempotency key matched an earlier run.
	Replayed bool
}

// RecordPackagingRun appends a packaging run to an ACTIVE lot.
//
// A run larger than the remaining volume fails with *VolumeExceededError
// unless ConfirmOvershoot is set. The lot row is version-bumped in the same
// transaction, so concurrent runs cannot both pass the remaining-volume
// check against the same stale read.
func (e *Engine) RecordPackagingRun(ctx context.Context, req PackagingRequest) (*PackagingResult, error) {
	if req.PackageType == "" {
		return nil, invalidArgument("package type is required")
	}
	if req.Quantity <= 0 {
		return nil, invalidArgument("quantity must be positive")
	}
	if !req.Volume.IsPositive() {
		return nil, invalidArgument("volume must be positive")
	}

	var res PackagingResult
	err := e.store.WithTx(ctx, func(s Store) error {
		if req.IdempotencyKey != "" {
			prior, err := s.PackagingRunByKey(ctx, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if prior != nil {
				return e.replay(ctx, s, req, *prior, &res)
			}
		}

		l, err := s.GetLot(ctx, req.LotID)
		if err != nil {
			return err
		}
		if !l.IsActive() {
			return &LotCompletedError{LotID: l.ID}
		}
		before, err := remainingVolume(ctx, s, *l)
		if err != nil {
			return err
		}

		overshoot := decimal.Zero
		if req.Volume.GreaterThan(before.RemainingVolume.Add(e.tolerance)) {
			vx := &VolumeExceededError{LotID: l.ID, Remaining: before.RemainingVolume, Requested: req.Volume}
			if !req.ConfirmOvershoot {
				return vx
			}
			overshoot = vx.Overshoot()
		}

		now := e.now()
		packagedAt := req.PackagedAt
		if packagedAt.IsZero() {
			packagedAt = now
		}
		run := PackagingRun{
			ID:             RunID(e.newID()),
			LotID:          l.ID,
			LotCode:        l.Code,
			PackageType:    req.PackageType,
			Quantity:       req.Quantity,
			Volume:         req.Volume,
			Operator:       req.Operator,
			IdempotencyKey: req.IdempotencyKey,
			PackagedAt:     packagedAt,
			CreatedAt:      now,
		}
		if err := s.InsertPackagingRun(ctx, run); err != nil {
			return err
		}
		if err := e.updateLot(ctx, s, l); err != nil {
			return err
		}

		action := ActionPackaged
		payload := map[string]string{
			"run_id":       string(run.ID),
			"package_type": run.PackageType,
			"volume":       run.Volume.String(),
		}
		if overshoot.IsPositive() {
			action = ActionOvershootAccepted
			payload["overshoot"] = overshoot.String()
		}
		if err := s.AppendTimeline(ctx, e.entry(l.ID, action, l.Phase, l.Phase, req.Operator, payload)); err != nil {
			return err
		}

		after, err := remainingVolume(ctx, s, *l)
		if err != nil {
			return err
		}
		res = PackagingResult{Run: run, Summary: after, Overshoot: overshoot}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Overshoot.IsPositive() {
		e.log.Warn().
			Str("lot_id", string(req.LotID)).
			Str("overshoot", res.Overshoot.String()).
			Msg("packaging overshoot accepted, remaining volume clamped")
	}
	return &res, nil
}

func (e *Engine) replay(ctx context.Context, s Store, req PackagingRequest, prior PackagingRun, res *PackagingResult) error {
	if prior.LotID != "" && prior.LotID != req.LotID {
		return invalidArgument("idempotency key %s was used for lot %s", req.IdempotencyKey, prior.LotID)
	}
	l, err := s.GetLot(ctx, req.LotID)
	if err != nil {
		return err
	}
	summary, err := remainingVolume(ctx, s, *l)
	if err != nil {
		return err
	}
	*res = PackagingResult{Run: prior, Summary: summary, Overshoot: decimal.Zero, Replayed: true}
	return nil
}

// PackagingRuns lists the runs that belong to a lot.
func (e *Engine) PackagingRuns(ctx context.Context, id LotID) ([]PackagingRun, error) {
	l, err := e.store.GetLot(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.store.PackagingRuns(ctx, l.ID, l.Code)
}

// LotStatusView is the read model returned by GetLotStatus.
type LotStatusView struct {
	Lot    Lot
	Volume VolumeSummary
}

// GetLotStatus returns phase, status and reconciled volume of a lot. A lot
// superseded by a split or blend reports nothing remaining; its beer is
// counted on the lots that replaced it.
func (e *Engine) GetLotStatus(ctx context.Context, id LotID) (*LotStatusView, error) {
	l, err := e.store.GetLot(ctx, id)
	if err != nil {
		return nil, err
	}
	summary, err := remainingVolume(ctx, e.store, *l)
	if err != nil {
		return nil, err
	}
	if l.Superseded != SupersededNone {
		summary.TransferredVolume = summary.RemainingVolume
		summary.RemainingVolume = decimal.Zero
	}
	return &LotStatusView{Lot: *l, Volume: summary}, nil
}

// BackfillPackagingLotRefs attaches lot ids to legacy runs that only carry a
// lot code, so every run ends up with an explicit lot reference. Runs whose
// code matches no lot are left untouched. Returns the number of runs fixed.
func (e *Engine) BackfillPackagingLotRefs(ctx context.Context) (int, error) {
	fixed := 0
	err := e.store.WithTx(ctx, func(s Store) error {
		legacy, err := s.LegacyPackagingRuns(ctx)
		if err != nil {
			return err
		}
		for _, run := range legacy {
			if run.LotCode == "" {
				continue
			}
			l, err := s.GetLotByCode(ctx, run.LotCode)
			if err != nil {
				return err
			}
			if l == nil {
				e.log.Warn().Str("run_id", string(run.ID)).Str("lot_code", run.LotCode).Msg("legacy packaging run matches no lot")
				continue
			}
			if err := s.SetPackagingRunLot(ctx, run.ID, l.ID); err != nil {
				return err
			}
			fixed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return fixed, nil
}
