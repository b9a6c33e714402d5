package reveal

import (
	"encoding/json"
	"sort"
)

// TileSet holds the indices of revealed tiles. It is naturally a set, but
// serializes as an ascending list so documents round-trip through the store;
// decoding de-duplicates whatever the wire delivered.
type TileSet map[int]struct{}

func NewTileSet(indices ...int) TileSet {
	ts := make(TileSet, len(indices))
	for _, i := range indices {
		ts[i] = struct{}{}
	}
	return ts
}

func (ts TileSet) Has(index int) bool {
	_, ok := ts[index]
	return ok
}

func (ts TileSet) Add(index int) {
	ts[index] = struct{}{}
}

func (ts TileSet) Len() int {
	return len(ts)
}

func (ts TileSet) Clone() TileSet {
	out := make(TileSet, len(ts))
	for i := range ts {
		out[i] = struct{}{}
	}
	return out
}

// Indices returns the members in ascending order.
func (ts TileSet) Indices() []int {
	out := make([]int, 0, len(ts))
	for i := range ts {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Unrevealed returns the indices in [0, total) not in the set, ascending.
// The set may hold out-of-range indices when a document carried them; those
// count toward nothing here.
func (ts TileSet) Unrevealed(total int) []int {
	out := make([]int, 0, max(0, total-len(ts)))
	for i := 0; i < total; i++ {
		if !ts.Has(i) {
			out = append(out, i)
		}
	}
	return out
}

func (ts TileSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.Indices())
}

func (ts *TileSet) UnmarshalJSON(data []byte) error {
	var indices []int
	if err := json.Unmarshal(data, &indices); err != nil {
		return err
	}
	*ts = NewTileSet(indices...)
	return nil
}
