package app

import (
	"iter"
	"time"

	"vitals/internal/domain"
)

// ChartSeries holds index-aligned chart data: Labels[i] belongs to
// Systolic[i], Diastolic[i] and Weight[i].
type ChartSeries struct {
	Unit      domain.Unit `json:"unit"`
	Labels    []string    `json:"labels"`
	Systolic  []int       `json:"systolic"`
	Diastolic []int       `json:"diastolic"`
	Weight    []float64   `json:"weight"`
}

// Len returns the number of points in the series.
func (c ChartSeries) Len() int { return len(c.Labels) }

// Point is one chart position.
type Point struct {
	Label     string  `json:"label"`
	Systolic  int     `json:"systolic"`
	Diastolic int     `json:"diastolic"`
	Weight    float64 `json:"weight"`
}

// LatestSummary is the "latest status" card.
type LatestSummary struct {
	Record domain.HealthRecord `json:"record"`
	Status domain.BPStatus     `json:"status"`
	Weight float64             `json:"weight"`
	Unit   domain.Unit         `json:"unit"`
	When   string              `json:"when"`
}

// Projector derives chart-ready data from an ordered record sequence. It
// holds no state beyond its settings, so projections are repeatable.
type Projector struct {
	Location *time.Location
	Unit     domain.Unit
}

// NewProjector returns a Projector labelling days in loc and reporting
// weights in unit.
func NewProjector(loc *time.Location, unit domain.Unit) Projector {
	if loc == nil {
		loc = time.Local
	}
	if unit == "" {
		unit = domain.UnitKg
	}
	return Projector{Location: loc, Unit: unit}
}

// WithUnit returns a copy of p reporting weights in unit.
func (p Projector) WithUnit(unit domain.Unit) Projector {
	p.Unit = unit
	return p
}

// Points yields one Point per record, in input order.
func (p Projector) Points(records []domain.HealthRecord) iter.Seq[Point] {
	return func(yield func(Point) bool) {
		for _, r := range records {
			if !yield(p.point(r)) {
				return
			}
		}
	}
}

// Project returns the chart series for records. Empty input gives empty,
// non-nil series.
func (p Projector) Project(records []domain.HealthRecord) ChartSeries {
	cs := ChartSeries{
		Unit:      p.unit(),
		Labels:    make([]string, 0, len(records)),
		Systolic:  make([]int, 0, len(records)),
		Diastolic: make([]int, 0, len(records)),
		Weight:    make([]float64, 0, len(records)),
	}
	for pt := range p.Points(records) {
		cs.Labels = append(cs.Labels, pt.Label)
		cs.Systolic = append(cs.Systolic, pt.Systolic)
		cs.Diastolic = append(cs.Diastolic, pt.Diastolic)
		cs.Weight = append(cs.Weight, pt.Weight)
	}
	return cs
}

// Summarize returns the latest-status card for records, or nil if there are
// none.
func (p Projector) Summarize(records []domain.HealthRecord) *LatestSummary {
	latest, ok := Latest(records)
	if !ok {
		return nil
	}
	when := latest.CreatedAt.Label(p.location())
	if when == "" {
		when = "Pending"
	}
	return &LatestSummary{
		Record: latest,
		Status: latest.Status(),
		Weight: domain.ConvertWeight(latest.Weight, domain.UnitKg, p.unit()),
		Unit:   p.unit(),
		When:   when,
	}
}

// Latest returns the record with the greatest CreatedAt. A record still
// waiting for its timestamp counts as newest; equal timestamps are broken by
// the highest ID.
func Latest(records []domain.HealthRecord) (domain.HealthRecord, bool) {
	if len(records) == 0 {
		return domain.HealthRecord{}, false
	}
	best := records[0]
	for _, r := range records[1:] {
		c := r.CreatedAt.Compare(best.CreatedAt)
		if c > 0 || (c == 0 && r.ID > best.ID) {
			best = r
		}
	}
	return best, true
}

func (p Projector) point(r domain.HealthRecord) Point {
	return Point{
		Label:     r.CreatedAt.Label(p.location()),
		Systolic:  r.Systolic,
		Diastolic: r.Diastolic,
		Weight:    domain.ConvertWeight(r.Weight, domain.UnitKg, p.unit()),
	}
}

func (p Projector) location() *time.Location {
	if p.Location == nil {
		return time.Local
	}
	return p.Location
}

func (p Projector) unit() domain.Unit {
	if p.Unit == "" {
		return domain.UnitKg
	}
	return p.Unit
}
