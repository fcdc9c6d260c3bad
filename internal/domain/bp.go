package domain

// Severity levels reported in BPStatus.Level.
const (
	LevelUncategorized = iota
	LevelNormal
	LevelElevated
	LevelStage1
	LevelStage2
	LevelCrisis
)

// BPStatus is the band a blood pressure reading falls into.
type BPStatus struct {
	Label string `json:"label"`
	Color string `json:"color"`
	Level int    `json:"level"`
}

// Classify maps a reading to its band. The checks run top to bottom and the
// first match wins, so a systolic-only or diastolic-only trigger outranks
// the lower bands. Uncategorized is the fallthrough when no band matches.
func Classify(systolic, diastolic int) BPStatus {
	switch {
	case systolic >= 180 || diastolic >= 120:
		return BPStatus{Label: "Hypertensive Crisis", Color: "#ef4444", Level: LevelCrisis}
	case systolic >= 140 || diastolic >= 90:
		return BPStatus{Label: "Hypertension Stage 2", Color: "#f87171", Level: LevelStage2}
	case systolic >= 130 || diastolic >= 80:
		return BPStatus{Label: "Hypertension Stage 1", Color: "#fb923c", Level: LevelStage1}
	case systolic >= 120 && diastolic < 80:
		return BPStatus{Label: "Elevated", Color: "#fbbf24", Level: LevelElevated}
	case systolic < 120 && diastolic < 80:
		return BPStatus{Label: "Normal", Color: "#22c55e", Level: LevelNormal}
	}
	return BPStatus{Label: "Uncategorized", Color: "#94a3b8", Level: LevelUncategorized}
}
