package lot

import (
	"context"
	"fmt"
	"time"

	"github.com/brewline/lot-engine/gravity"
)

// Plausible SG bounds for wort and beer.
const (
	MinSG = 0.980
	MaxSG = 1.200
)

// ReadingRequest records a gravity sample. Value is expressed in Unit and
// converted to SG before storage.
type ReadingRequest struct {
	BatchID     BatchID
	Value       float64
	Unit        gravity.Unit
	Temperature float64
	Notes       string
	Kind        gravity.ReadingKind
	RecordedAt  time.Time
	Actor       string
}

type ReadingResult struct {
	Reading GravityReading
	Metrics gravity.Metrics
}

// RecordGravityReading appends a reading to a batch and returns the
// recomputed OG, current gravity, ABV and attenuation. Original and final
// readings also update the batch's recorded reference gravities.
func (e *Engine) RecordGravityReading(ctx context.Context, req ReadingRequest) (*ReadingResult, error) {
	sg := gravity.ToSG(req.Value, req.Unit)
	if sg < MinSG || sg > MaxSG {
		return nil, invalidArgument("gravity %.4f SG outside %.3f-%.3f", sg, MinSG, MaxSG)
	}
	kind := req.Kind
	switch kind {
	case "":
		kind = gravity.KindRoutine
	case gravity.KindRoutine, gravity.KindOriginal, gravity.KindFinal:
	default:
		return nil, invalidArgument("unknown reading kind %q", kind)
	}

	var res ReadingResult
	err := e.store.WithTx(ctx, func(s Store) error {
		b, err := s.GetBatch(ctx, req.BatchID)
		if err != nil {
			return err
		}
		active, err := activeLots(ctx, s, b.ID)
		if err != nil {
			return err
		}

		now := e.now()
		r := GravityReading{
			ID:          ReadingID(e.newID()),
			BatchID:     b.ID,
			SG:          sg,
			Temperature: req.Temperature,
			Notes:       req.Notes,
			Kind:        kind,
			RecordedAt:  req.RecordedAt,
			RecordedBy:  req.Actor,
		}
		if r.RecordedAt.IsZero() {
			r.RecordedAt = now
		}
		if len(active) > 0 {
			r.LotID = active[0].ID
		}
		if err := s.AppendReading(ctx, r); err != nil {
			return err
		}

		switch kind {
		case gravity.KindOriginal:
			b.OriginalGravity = sg
		case gravity.KindFinal:
			b.FinalGravity = sg
		}
		if kind != gravity.KindRoutine {
			b.UpdatedAt = now
			if err := s.SaveBatch(ctx, *b); err != nil {
				return err
			}
		}

		readings, err := s.Readings(ctx, b.ID)
		if err != nil {
			return err
		}
		res = ReadingResult{Reading: r, Metrics: Metrics(*b, readings)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (e *Engine) Readings(ctx context.Context, batchID BatchID) ([]GravityReading, error) {
	if _, err := e.store.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}
	return e.store.Readings(ctx, batchID)
}

// BatchMetrics derives gravity metrics from a batch's reading history.
func (e *Engine) BatchMetrics(ctx context.Context, batchID BatchID) (gravity.Metrics, error) {
	b, err := e.store.GetBatch(ctx, batchID)
	if err != nil {
		return gravity.Metrics{}, err
	}
	readings, err := e.store.Readings(ctx, batchID)
	if err != nil {
		return gravity.Metrics{}, fmt.Errorf("load readings: %w", err)
	}
	return Metrics(*b, readings), nil
}

// Metrics runs the gravity calculator over a batch and its readings.
func Metrics(b Batch, readings []GravityReading) gravity.Metrics {
	samples := make([]gravity.Sample, len(readings))
	for i, r := range readings {
		samples[i] = gravity.Sample{SG: r.SG, Kind: r.Kind, RecordedAt: r.RecordedAt}
	}
	return gravity.Calculate(gravity.Reference{
		OriginalGravity: b.OriginalGravity,
		FinalGravity:    b.FinalGravity,
		TargetFG:        b.TargetFG,
		Completed:       b.Status == BatchCompleted,
	}, samples)
}
