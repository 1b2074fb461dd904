package compliance

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/coldtrack/coldtrack/internal/domain"
)

// Status is the outcome of checking one zone value against its range
type Status string

const (
	StatusNotEvaluated Status = ""
	StatusOK           Status = "ok"
	StatusLow          Status = "low"
	StatusHigh         Status = "high"
)

// Violation reports whether s is out of range
func (s Status) Violation() bool {
	return s == StatusLow || s == StatusHigh
}

// MarshalJSON encodes a not-evaluated status as null
func (s Status) MarshalJSON() ([]byte, error) {
	if s == StatusNotEvaluated {
		return []byte("null"), nil
	}
	return json.Marshal(string(s))
}

// Range is an optional min/max bound
type Range = domain.TempRange

// Ranges holds the configured bounds per zone
type Ranges map[domain.Zone]Range

// rangeZone maps a reading zone to the zone whose range governs it
func rangeZone(z domain.Zone) domain.Zone {
	switch z {
	case domain.ZoneDispatch:
		return domain.ZoneChiller
	case domain.ZoneAmbient:
		return domain.ZoneCabin
	}
	return z
}

// ParseTemp coerces a stored value to a finite number
func ParseTemp(v domain.TempValue) (float64, bool) {
	if v.IsNull() {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		s := strings.TrimSpace(v.String())
		if s == "" {
			return 0, false
		}
		f, err = strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Check classifies a single value against a zone's range
func Check(v domain.TempValue, z domain.Zone, ranges Ranges) Status {
	r, ok := ranges[rangeZone(z)]
	if !ok || (r.Min == nil && r.Max == nil) {
		return StatusNotEvaluated
	}
	n, ok := ParseTemp(v)
	if !ok {
		return StatusNotEvaluated
	}
	if r.Min != nil && n < *r.Min {
		return StatusLow
	}
	if r.Max != nil && n > *r.Max {
		return StatusHigh
	}
	return StatusOK
}

// Evaluate classifies every zone present in values. Zones without a range or a usable
// value map to StatusNotEvaluated.
func Evaluate(values map[domain.Zone]domain.TempValue, ranges Ranges) map[domain.Zone]Status {
	out := make(map[domain.Zone]Status, len(values))
	for z, v := range values {
		out[z] = Check(v, z, ranges)
	}
	return out
}

// HasAnyViolation reports whether any reading of log is out of range in any zone
func HasAnyViolation(log *domain.Log, ranges Ranges) bool {
	if log == nil || len(ranges) == 0 {
		return false
	}
	for _, r := range log.Temps {
		for z, v := range r.Values {
			if Check(v, z, ranges).Violation() {
				return true
			}
		}
	}
	return false
}

// Stats summarises the numeric values of a set of readings
type Stats struct {
	Count   int      `json:"count"`
	Average *float64 `json:"average"`
	Min     *float64 `json:"min"`
	Max     *float64 `json:"max"`
}

// Aggregate computes stats over every numeric zone value. Non-numeric values are skipped.
func Aggregate(readings []domain.Reading) Stats {
	var st Stats
	var sum float64
	for _, r := range readings {
		for _, z := range []domain.Zone{domain.ZoneDispatch, domain.ZoneChiller, domain.ZoneFreezer, domain.ZoneCabin, domain.ZoneAmbient} {
			v, ok := r.Values[z]
			if !ok {
				continue
			}
			n, ok := ParseTemp(v)
			if !ok {
				continue
			}
			st.Count++
			sum += n
			if st.Min == nil || n < *st.Min {
				st.Min = float64Ptr(n)
			}
			if st.Max == nil || n > *st.Max {
				st.Max = float64Ptr(n)
			}
		}
	}
	if st.Count > 0 {
		st.Average = float64Ptr(math.Round(sum/float64(st.Count)*10) / 10)
	}
	return st
}

func float64Ptr(f float64) *float64 {
	return &f
}
