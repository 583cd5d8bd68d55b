package citybike

// Source header names used verbatim in the trip export files.
const (
	ColDepartureID   = "Departure station id"
	ColDepartureName = "Departure station name"
	ColReturnID      = "Return station id"
	ColReturnName    = "Return station name"
	ColDistance      = "Covered distance (m)"
	ColDuration      = "Duration (sec.)"
)

// TripColumns lists the columns every trip file must carry.
var TripColumns = []string{
	ColDepartureID,
	ColDepartureName,
	ColReturnID,
	ColReturnName,
	ColDistance,
	ColDuration,
}

// RawTrip is one trip row as read from an export file, before any parsing.
type RawTrip struct {
	Source string // file path
	Line   int    // 1-based line in Source, header is line 1

	DepartureID   string
	DepartureName string
	ReturnID      string
	ReturnName    string
	Distance      string
	Duration      string
}

// Trip is a cleaned journey. It is comparable; two trips are duplicates iff ==.
type Trip struct {
	DepartureID   int
	DepartureName string
	ReturnID      int
	ReturnName    string
	DistanceM     float64
	DurationSec   float64
}

// Values returns the trip in journeys column order.
func (t Trip) Values() []any {
	return []any{t.DepartureID, t.DepartureName, t.ReturnID, t.ReturnName, t.DistanceM, t.DurationSec}
}

// Stats counts rows through each stage of a run.
type Stats struct {
	Read       int
	Invalid    int
	Duplicates int
	Cleaned    int
	Inserted   int
	Batches    int
	Stations   int
}
