package models

// Source attributes an item or event to one provider or to both.
type Source string

const (
	SourcePlex  Source = "plex"
	SourceSimkl Source = "simkl"
	SourceBoth  Source = "both"
)

// EventRecord is one add/remove entry in the statistics journal.
type EventRecord struct {
	TS     int64  `json:"ts"`
	Action string `json:"action"` // add | remove
	Key    string `json:"key"`
	Source Source `json:"source"`
	Title  string `json:"title"`
	Type   string `json:"type"`
}

// CountSample records the size of the union snapshot at a point in time.
type CountSample struct {
	TS    int64 `json:"ts"`
	Count int   `json:"count"`
}

// UnionEntry is the journal's view of one key in the union of both sides.
// Src is where the key lives; Credit is the side whose add was newer.
type UnionEntry struct {
	Src    Source `json:"src"`
	Credit Source `json:"credit,omitempty"`
	Title  string `json:"title"`
	Type   string `json:"type"`
}

// EventSource is the source journaled for the entry.
func (e UnionEntry) EventSource() Source {
	if e.Credit != "" {
		return e.Credit
	}
	return e.Src
}
