package source

import "citybike-importer/internal/citybike"

// DroppedStationColumns are descriptive, localized or capacity fields that
// the stations table has no place for.
var DroppedStationColumns = []string{
	"FID",
	"Namn",
	"Name",
	"Adress",
	"Kaupunki",
	"Stad",
	"Operaattor",
	"Kapasiteet",
}

// LoadStations reads the station reference file and drops
// DroppedStationColumns. The remaining columns are returned unchanged.
func LoadStations(path string) (Table, error) {
	t, err := readTable(path)
	if err != nil {
		return Table{}, err
	}
	out, err := t.Drop(DroppedStationColumns...)
	if err != nil {
		return Table{}, citybike.LoadError{Stage: citybike.StageLoad, Source: path, Err: err}
	}
	return out, nil
}
