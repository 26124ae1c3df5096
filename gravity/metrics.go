package gravity

import (
	"math"
	"sort"
	"time"
)

// ABVFactor is the simple (OG - FG) multiplier used for display ABV.
const ABVFactor = 131.25

// ReadingKind marks a reading that records a reference point.
type ReadingKind string

const (
	KindRoutine  ReadingKind = "routine"
	KindOriginal ReadingKind = "original"
	KindFinal    ReadingKind = "final"
)

// Sample is a single SG observation.
type Sample struct {
	SG         float64
	Kind       ReadingKind
	RecordedAt time.Time
}

// Reference holds what the batch record itself knows about its gravity.
// Zero means "not recorded".
type Reference struct {
	OriginalGravity float64
	FinalGravity    float64
	TargetFG        float64
	Completed       bool
}

// Metrics are the derived values for a batch.
type Metrics struct {
	OriginalGravity float64 `json:"original_gravity"`
	CurrentGravity  float64 `json:"current_gravity"`
	ABV             float64 `json:"abv"`
	Attenuation     float64 `json:"attenuation"`
	ReadingCount    int     `json:"reading_count"`
}

// Calculate derives OG, current gravity, ABV and attenuation. Missing data
// yields zeros, never an error.
//
// OG:      flagged original reading > recorded OG > earliest reading.
// Current: latest reading > flagged final reading > OG.
// A completed batch prefers its recorded FG (or target FG) over late
// readings.
func Calculate(ref Reference, samples []Sample) Metrics {
	ordered := make([]Sample, 0, len(samples))
	for _, s := range samples {
		if s.SG > 0 {
			ordered = append(ordered, s)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].RecordedAt.Before(ordered[j].RecordedAt)
	})

	og := originalGravity(ref, ordered)
	current := currentGravity(ref, ordered, og)

	return Metrics{
		OriginalGravity: og,
		CurrentGravity:  current,
		ABV:             ABV(og, current),
		Attenuation:     Attenuation(og, current),
		ReadingCount:    len(ordered),
	}
}

func originalGravity(ref Reference, ordered []Sample) float64 {
	for i := len(ordered) - 1; i >= 0; i-- {
		if ordered[i].Kind == KindOriginal {
			return ordered[i].SG
		}
	}
	if ref.OriginalGravity > 0 {
		return ref.OriginalGravity
	}
	if len(ordered) > 0 {
		return ordered[0].SG
	}
	return 0
}

func currentGravity(ref Reference, ordered []Sample, og float64) float64 {
	if ref.Completed {
		if ref.FinalGravity > 0 {
			return ref.FinalGravity
		}
		if fg := lastOfKind(ordered, KindFinal); fg > 0 {
			return fg
		}
		if ref.TargetFG > 0 {
			return ref.TargetFG
		}
	}
	if len(ordered) > 0 {
		return ordered[len(ordered)-1].SG
	}
	if ref.FinalGravity > 0 {
		return ref.FinalGravity
	}
	return og
}

func lastOfKind(ordered []Sample, kind ReadingKind) float64 {
	for i := len(ordered) - 1; i >= 0; i-- {
		if ordered[i].Kind == kind {
			return ordered[i].SG
		}
	}
	return 0
}

// ABV returns (og - current) * 131.25, or 0 when either is missing or they
// are equal.
func ABV(og, current float64) float64 {
	if og <= 0 || current <= 0 || og == current {
		return 0
	}
	return (og - current) * ABVFactor
}

// Attenuation returns apparent attenuation in percent, or 0 when it cannot
// be computed.
func Attenuation(og, current float64) float64 {
	if og <= 1 || current <= 0 || og == current {
		return 0
	}
	return (og - current) / (og - 1) * 100
}

// Round2 rounds to two decimals for display.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
