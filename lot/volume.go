package lot

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// VolumeSummary is the reconciled volume state of one lot.
type VolumeSummary struct {
	LotID           LotID
	TotalVolume     decimal.Decimal
	PackagedVolume  decimal.Decimal
	RemainingVolume decimal.Decimal
	ProgressPercent decimal.Decimal
	RunCount        int

	// TransferredVolume is what left a superseded lot for its split
	// children or blend. RemainingVolume is zero once it is set.
	TransferredVolume decimal.Decimal
}

// MatchesLot reports whether run belongs to l. Runs with a lot reference
// match by identity only; legacy runs without one fall back to the code.
func MatchesLot(run PackagingRun, l Lot) bool {
	if run.LotID != "" {
		return run.LotID == l.ID
	}
	return run.LotCode != "" && run.LotCode == l.Code
}

// PackagedVolume sums the runs that belong to l.
func PackagedVolume(l Lot, runs []PackagingRun) decimal.Decimal {
	total := decimal.Zero
	for _, r := range runs {
		if MatchesLot(r, l) {
			total = total.Add(r.Volume)
		}
	}
	return total
}

// RemainingVolume is max(0, total - packaged).
func RemainingVolume(total, packaged decimal.Decimal) decimal.Decimal {
	rem := total.Sub(packaged)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// ProgressPercent is min(100, packaged/total*100), or 0 for an empty lot.
func ProgressPercent(total, packaged decimal.Decimal) decimal.Decimal {
	if !total.IsPositive() {
		return decimal.Zero
	}
	pct := packaged.Div(total).Mul(hundred)
	if pct.GreaterThan(hundred) {
		return hundred
	}
	return pct.Round(2)
}

// Reconcile computes the volume summary for l from its packaging runs.
// Runs for other lots are ignored, so a blend's superseded sources never
// double-count what was packaged from the blend lot.
func Reconcile(l Lot, runs []PackagingRun) VolumeSummary {
	packaged := decimal.Zero
	count := 0
	for _, r := range runs {
		if MatchesLot(r, l) {
			packaged = packaged.Add(r.Volume)
			count++
		}
	}
	return VolumeSummary{
		LotID:           l.ID,
		TotalVolume:     l.TotalVolume,
		PackagedVolume:  packaged,
		RemainingVolume: RemainingVolume(l.TotalVolume, packaged),
		ProgressPercent: ProgressPercent(l.TotalVolume, packaged),
		RunCount:        count,
	}
}
