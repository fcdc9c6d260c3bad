package domain

import (
	"math"
	"strconv"
	"strings"
)

// Draft holds the caller-mutable fields of a health record. Weight is in
// kilograms, blood pressure in mmHg.
type Draft struct {
	Weight    float64 `json:"weight"`
	Systolic  int     `json:"systolic"`
	Diastolic int     `json:"diastolic"`
}

// Patch is a partial update; nil fields are left untouched.
type Patch struct {
	Weight    *float64 `json:"weight,omitempty"`
	Systolic  *int     `json:"systolic,omitempty"`
	Diastolic *int     `json:"diastolic,omitempty"`
}

// Patch returns a patch that overwrites every field with the draft's values.
func (d Draft) Patch() Patch {
	w, s, di := d.Weight, d.Systolic, d.Diastolic
	return Patch{Weight: &w, Systolic: &s, Diastolic: &di}
}

// Validate checks that every field holds a positive finite number.
func (d Draft) Validate() error {
	if err := validateWeight(d.Weight); err != nil {
		return err
	}
	if err := validatePressure("systolic", d.Systolic); err != nil {
		return err
	}
	return validatePressure("diastolic", d.Diastolic)
}

// Validate checks the supplied fields only.
func (p Patch) Validate() error {
	if p.Weight != nil {
		if err := validateWeight(*p.Weight); err != nil {
			return err
		}
	}
	if p.Systolic != nil {
		if err := validatePressure("systolic", *p.Systolic); err != nil {
			return err
		}
	}
	if p.Diastolic != nil {
		return validatePressure("diastolic", *p.Diastolic)
	}
	return nil
}

// Apply returns r with the patch's fields copied over.
func (p Patch) Apply(r HealthRecord) HealthRecord {
	if p.Weight != nil {
		r.Weight = *p.Weight
	}
	if p.Systolic != nil {
		r.Systolic = *p.Systolic
	}
	if p.Diastolic != nil {
		r.Diastolic = *p.Diastolic
	}
	return r
}

// ParseDraft builds a draft from raw form values. Weight accepts a decimal,
// the pressures must be integers.
func ParseDraft(weight, systolic, diastolic string) (Draft, error) {
	var d Draft
	w, err := strconv.ParseFloat(strings.TrimSpace(weight), 64)
	if err != nil {
		return d, &ValidationError{Field: "weight", Reason: "must be a number"}
	}
	s, err := strconv.Atoi(strings.TrimSpace(systolic))
	if err != nil {
		return d, &ValidationError{Field: "systolic", Reason: "must be an integer"}
	}
	di, err := strconv.Atoi(strings.TrimSpace(diastolic))
	if err != nil {
		return d, &ValidationError{Field: "diastolic", Reason: "must be an integer"}
	}
	d = Draft{Weight: w, Systolic: s, Diastolic: di}
	return d, d.Validate()
}

func validateWeight(w float64) error {
	if math.IsNaN(w) || math.IsInf(w, 0) {
		return &ValidationError{Field: "weight", Reason: "must be a number"}
	}
	if w <= 0 {
		return &ValidationError{Field: "weight", Reason: "must be > 0"}
	}
	return nil
}

func validatePressure(field string, v int) error {
	if v <= 0 {
		return &ValidationError{Field: field, Reason: "must be > 0"}
	}
	return nil
}
