package load

import "citybike-importer/internal/citybike"

// Partition splits trips into full batches of size rows followed by the
// remainder, which holds the last len(trips)%size rows and may be empty.
// The returned slices alias trips and are capped so appends cannot spill.
func Partition(trips []citybike.Trip, size int) (full [][]citybike.Trip, remainder []citybike.Trip) {
	if size <= 0 {
		panic("load: batch size must be positive")
	}
	n := len(trips) / size
	full = make([][]citybike.Trip, 0, n)
	for i := 0; i < n; i++ {
		lo, hi := i*size, (i+1)*size
		full = append(full, trips[lo:hi:hi])
	}
	rest := trips[n*size:]
	return full, rest[:len(rest):len(rest)]
}
