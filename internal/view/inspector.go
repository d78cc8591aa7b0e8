package view

import (
	"sync"

	"connlog/pkg/models"
)

// Snapshot is one consistent read of the inspector state
type Snapshot struct {
	Mode     Mode               `json:"-"`
	Levels   models.LevelSet    `json:"-"`
	Records  []models.LogRecord `json:"records"`
	Groups   []Group            `json:"groups"`
	Selected *Group             `json:"selected"`
	Detail   []models.LogRecord `json:"detail"` // selected members, newest first
}

// Inspector holds the caller's view settings (level filter, grouping mode,
// selected group) over a record source. It caches nothing; every read
// recomputes the filtered records and groups.
type Inspector struct {
	src RecordSource

	mu       sync.Mutex
	levels   models.LevelSet
	mode     Mode
	selected string
}

// NewInspector starts with the default level filter, grouped by host
func NewInspector(src RecordSource) *Inspector {
	return &Inspector{
		src:    src,
		levels: models.DefaultLevels(),
		mode:   ByHost,
	}
}

// Levels returns the current level filter
func (in *Inspector) Levels() models.LevelSet {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.levels
}

// SetLevels replaces the level filter
func (in *Inspector) SetLevels(levels models.LevelSet) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.levels = levels
}

// ToggleLevel flips one level in the filter and returns the new filter
func (in *Inspector) ToggleLevel(l models.Level) models.LevelSet {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.levels = in.levels.Toggle(l)
	return in.levels
}

// Mode returns the current grouping mode
func (in *Inspector) Mode() Mode {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.mode
}

// SetMode changes the grouping mode. A change of mode drops the selection.
func (in *Inspector) SetMode(m Mode) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if m != in.mode {
		in.selected = ""
	}
	in.mode = m
}

// Select marks a group key for drill-down. An empty key clears the selection.
func (in *Inspector) Select(key string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.selected = key
}

// SelectedKey returns the selected key, or "" when nothing is selected
func (in *Inspector) SelectedKey() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.selected
}

// Snapshot filters and groups the current records. If the selected key no
// longer names a group it is cleared rather than kept dangling.
func (in *Inspector) Snapshot() Snapshot {
	in.mu.Lock()
	defer in.mu.Unlock()

	records := Filter(in.src, in.levels)
	groups := GroupRecords(records, in.mode)

	snap := Snapshot{
		Mode:    in.mode,
		Levels:  in.levels,
		Records: records,
		Groups:  groups,
	}
	if in.selected == "" {
		return snap
	}
	for i := range groups {
		if groups[i].Key == in.selected {
			sel := groups[i]
			snap.Selected = &sel
			snap.Detail = sel.Newest()
			return snap
		}
	}
	in.selected = ""
	return snap
}

// Groups is a shorthand for Snapshot().Groups
func (in *Inspector) Groups() []Group {
	return in.Snapshot().Groups
}

// Selected returns the selected group, if it still exists
func (in *Inspector) Selected() (Group, bool) {
	snap := in.Snapshot()
	if snap.Selected == nil {
		return Group{}, false
	}
	return *snap.Selected, true
}
