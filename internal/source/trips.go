package source

import (
	"errors"
	"fmt"
	"slices"

	"citybike-importer/internal/citybike"
)

// LoadTrips reads every trip export in paths and returns the rows of all of
// them in file order, then input order. All files must share the header of
// the first one and carry the columns in citybike.TripColumns.
func LoadTrips(paths []string) ([]citybike.RawTrip, error) {
	if len(paths) == 0 {
		return nil, citybike.LoadError{Stage: citybike.StageLoad, Err: errors.New("no trip files given")}
	}

	var (
		header []string
		out    []citybike.RawTrip
	)
	for _, p := range paths {
		t, err := readTable(p)
		if err != nil {
			return nil, err
		}
		if header == nil {
			if err := requireColumns(t, citybike.TripColumns...); err != nil {
				return nil, citybike.LoadError{Stage: citybike.StageLoad, Source: p, Err: err}
			}
			header = t.Header
		} else if !slices.Equal(header, t.Header) {
			return nil, citybike.LoadError{
				Stage:  citybike.StageLoad,
				Source: p,
				Err:    fmt.Errorf("header %q does not match %q", t.Header, header),
			}
		}
		out = append(out, tripsFromTable(p, t)...)
	}
	return out, nil
}

func requireColumns(t Table, names ...string) error {
	var missing []string
	for _, n := range names {
		if t.Index(n) < 0 {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing columns %q", missing)
	}
	return nil
}

func tripsFromTable(path string, t Table) []citybike.RawTrip {
	var (
		iDepID   = t.Index(citybike.ColDepartureID)
		iDepName = t.Index(citybike.ColDepartureName)
		iRetID   = t.Index(citybike.ColReturnID)
		iRetName = t.Index(citybike.ColReturnName)
		iDist    = t.Index(citybike.ColDistance)
		iDur     = t.Index(citybike.ColDuration)
	)

	trips := make([]citybike.RawTrip, 0, len(t.Rows))
	for n, row := range t.Rows {
		trips = append(trips, citybike.RawTrip{
			Source:        path,
			Line:          t.Lines[n],
			DepartureID:   row[iDepID],
			DepartureName: row[iDepName],
			ReturnID:      row[iRetID],
			ReturnName:    row[iRetName],
			Distance:      row[iDist],
			Duration:      row[iDur],
		})
	}
	return trips
}
