package domain

import "fmt"

// Unit is a weight unit. Records always store kilograms.
type Unit string

// Supported weight units.
const (
	UnitKg Unit = "kg"
	UnitLb Unit = "lb"
)

const kgToLb = 2.2046226218

// ParseUnit accepts "kg" or "lb"; an empty string yields fallback.
func ParseUnit(s string, fallback Unit) (Unit, error) {
	switch Unit(s) {
	case "":
		return fallback, nil
	case UnitKg, UnitLb:
		return Unit(s), nil
	}
	return "", &ValidationError{Field: "unit", Reason: fmt.Sprintf("%q must be \"kg\" or \"lb\"", s)}
}

// ConvertWeight converts a weight value between kilograms and pounds.
// Returns v unchanged if from == to or if the units are unrecognised.
func ConvertWeight(v float64, from, to Unit) float64 {
	switch {
	case from == to:
		return v
	case from == UnitKg && to == UnitLb:
		return v * kgToLb
	case from == UnitLb && to == UnitKg:
		return v / kgToLb
	}
	return v
}
