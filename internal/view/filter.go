// Package view derives read-only views from the log store: level filtering,
// grouping by host or connection, and group selection for drill-down.
// Views are recomputed from scratch on every read.
package view

import "connlog/pkg/models"

// RecordSource is anything that can hand out an arrival-ordered copy of its records
type RecordSource interface {
	Snapshot() []models.LogRecord
}

// Filter returns, in arrival order, the records whose level is in allowed
func Filter(src RecordSource, allowed models.LevelSet) []models.LogRecord {
	return FilterRecords(src.Snapshot(), allowed)
}

// FilterRecords is Filter over an already materialized slice
func FilterRecords(records []models.LogRecord, allowed models.LevelSet) []models.LogRecord {
	out := make([]models.LogRecord, 0, len(records))
	for _, r := range records {
		if allowed.Has(r.Level) {
			out = append(out, r)
		}
	}
	return out
}
