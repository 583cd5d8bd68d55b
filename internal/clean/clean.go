// Package clean turns raw trip rows into the journeys that get persisted.
//
// Every stage returns a new slice; inputs are never modified.
package clean

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"citybike-importer/internal/citybike"
)

// Thresholds below which a trip is treated as sensor noise or a failed checkout.
const (
	MinDistanceM   = 10.0
	MinDurationSec = 10.0
)

// Result summarizes one Trips call.
type Result struct {
	Read       int
	Invalid    int
	Duplicates int
	Kept       int
}

// Trips parses, filters and deduplicates raw rows.
func Trips(raw []citybike.RawTrip) ([]citybike.Trip, Result, error) {
	res := Result{Read: len(raw)}

	parsed, err := Parse(raw)
	if err != nil {
		return nil, res, err
	}
	valid := Filter(parsed)
	res.Invalid = len(raw) - len(valid)

	out := Dedup(project(valid))
	res.Duplicates = len(valid) - len(out)
	res.Kept = len(out)
	return out, res, nil
}

// Row is a parsed trip row. A nil pointer is a missing value.
type Row struct {
	DepartureID   *int
	DepartureName string
	ReturnID      *int
	ReturnName    string
	DistanceM     *float64
	DurationSec   *float64
}

// Parse coerces the numeric columns. An empty cell is kept as missing; any
// other non-numeric value fails with citybike.ValidationError.
func Parse(raw []citybike.RawTrip) ([]Row, error) {
	rows := make([]Row, 0, len(raw))
	for _, r := range raw {
		var (
			row = Row{DepartureName: r.DepartureName, ReturnName: r.ReturnName}
			err error
		)
		if row.DepartureID, err = parseInt(r, citybike.ColDepartureID, r.DepartureID); err != nil {
			return nil, err
		}
		if row.ReturnID, err = parseInt(r, citybike.ColReturnID, r.ReturnID); err != nil {
			return nil, err
		}
		if row.DistanceM, err = parseFloat(r, citybike.ColDistance, r.Distance); err != nil {
			return nil, err
		}
		if row.DurationSec, err = parseFloat(r, citybike.ColDuration, r.Duration); err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Valid reports whether every threshold holds. Missing values never pass.
func (r Row) Valid() bool {
	return r.DistanceM != nil && *r.DistanceM >= MinDistanceM &&
		r.DurationSec != nil && *r.DurationSec >= MinDurationSec &&
		r.DepartureID != nil && *r.DepartureID >= 0 &&
		r.ReturnID != nil && *r.ReturnID >= 0
}

// Filter keeps the rows that pass Valid.
func Filter(rows []Row) []Row {
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		if r.Valid() {
			out = append(out, r)
		}
	}
	return out
}

func project(rows []Row) []citybike.Trip {
	out := make([]citybike.Trip, 0, len(rows))
	for _, r := range rows {
		out = append(out, citybike.Trip{
			DepartureID:   *r.DepartureID,
			DepartureName: r.DepartureName,
			ReturnID:      *r.ReturnID,
			ReturnName:    r.ReturnName,
			DistanceM:     *r.DistanceM,
			DurationSec:   *r.DurationSec,
		})
	}
	return out
}

// Dedup drops trips equal to an earlier one, preserving order.
func Dedup(trips []citybike.Trip) []citybike.Trip {
	seen := make(map[citybike.Trip]struct{}, len(trips))
	out := make([]citybike.Trip, 0, len(trips))
	for _, t := range trips {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func parseInt(r citybike.RawTrip, field, s string) (*int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(s)
	if err == nil {
		return &v, nil
	}
	// exports sometimes carry ids as "94.0"
	if f, ferr := strconv.ParseFloat(s, 64); ferr == nil && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		v = int(f)
		return &v, nil
	}
	return nil, invalid(r, field, s, err)
}

func parseFloat(r citybike.RawTrip, field, s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, invalid(r, field, s, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, invalid(r, field, s, nil)
	}
	return &v, nil
}

var ErrNotNumeric = errors.New("not a number")

func invalid(r citybike.RawTrip, field, value string, err error) error {
	return citybike.ValidationError{
		Source: r.Source,
		Line:   r.Line,
		Field:  field,
		Value:  value,
		Err:    errors.Join(ErrNotNumeric, err),
	}
}
