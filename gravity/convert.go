/*
Package gravity converts between gravity scales and derives fermentation
metrics from gravity readings.

SCALES:
  All storage and every formula in this package operate in specific gravity
  (SG). Plato and Brix only exist at the boundary, when a reading is entered
  or displayed in a non-SG unit.

  SG    -> Plato  cubic fit (ASBC)
  Plato -> SG     rational inverse
  Brix  is treated with the same curves as Plato; refractometer wort
        correction factors are the caller's concern.

SEE ALSO:
  - metrics.go: OG/current gravity selection, ABV, attenuation
*/
package gravity

import (
	"fmt"
	"strings"
)

// Unit is a gravity scale.
type Unit string

const (
	UnitSG    Unit = "sg"
	UnitPlato Unit = "plato"
	UnitBrix  Unit = "brix"
)

// ParseUnit accepts the common spellings of each scale. Empty means SG.
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sg", "specific_gravity":
		return UnitSG, nil
	case "plato", "p", "°p":
		return UnitPlato, nil
	case "brix", "bx", "°bx":
		return UnitBrix, nil
	}
	return "", fmt.Errorf("unknown gravity unit %q", s)
}

// SGToPlato converts specific gravity to degrees Plato.
func SGToPlato(sg float64) float64 {
	return -616.868 + 1111.14*sg - 630.272*sg*sg + 135.997*sg*sg*sg
}

// PlatoToSG converts degrees Plato to specific gravity.
func PlatoToSG(plato float64) float64 {
	return 1 + plato/(258.6-(plato/258.2)*227.1)
}

// SGToBrix converts specific gravity to degrees Brix.
func SGToBrix(sg float64) float64 {
	return ((182.4601*sg-775.6821)*sg+1262.7794)*sg - 669.5622
}

// BrixToSG converts degrees Brix to specific gravity.
func BrixToSG(brix float64) float64 {
	return 1 + brix/(258.6-(brix/258.2)*227.1)
}

// ToSG converts value expressed in unit to specific gravity.
func ToSG(value float64, unit Unit) float64 {
	switch unit {
	case UnitPlato:
		return PlatoToSG(value)
	case UnitBrix:
		return BrixToSG(value)
	default:
		return value
	}
}

// FromSG converts a specific gravity to unit.
func FromSG(sg float64, unit Unit) float64 {
	switch unit {
	case UnitPlato:
		return SGToPlato(sg)
	case UnitBrix:
		return SGToBrix(sg)
	default:
		return sg
	}
}

// Convert converts value between two scales, going through SG.
func Convert(value float64, from, to Unit) float64 {
	if from == to {
		return value
	}
	return FromSG(ToSG(value, from), to)
}
