package domain

import "time"

// IndexNotification announces one committed index grid to downstream
// consumers of the monitor. Emitted only after the grid's full spatial
// extent is on disk, so a consumer never observes a partial timestep.
type IndexNotification struct {
	Index       string    `json:"index"` // "spi" or "lfi"
	Tag         string    `json:"tag"`   // aggregation or threshold tag
	Time        time.Time `json:"time"`  // the timestep the grid scores
	ValidCells  int       `json:"valid_cells"`
	TotalCells  int       `json:"total_cells"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Key is the deterministic message key for the notification: replays of the
// same timestep produce the same key, keeping downstream upserts idempotent.
func (n IndexNotification) Key() string {
	return n.Index + "-" + n.Tag + "-" + n.Time.Format("20060102")
}
