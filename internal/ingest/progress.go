package ingest

import "sync"

// ProgressCallback is called with ingestion progress updates.
type ProgressCallback func(Progress)

// Progress represents ingestion progress.
type Progress struct {
	Stage   string  `json:"stage"`   // bulk, refresh, complete
	Current int     `json:"current"` // documents written so far
	Total   int     `json:"total"`   // documents to write
	Batch   int     `json:"batch,omitempty"`
	Batches int     `json:"batches,omitempty"`
	Percent float64 `json:"percent"`
	Message string  `json:"message,omitempty"`
}

// ProgressTracker serializes progress callbacks.
type ProgressTracker struct {
	callback ProgressCallback
	mu       sync.Mutex
}

// NewProgressTracker creates a new progress tracker.
func NewProgressTracker(callback ProgressCallback) *ProgressTracker {
	return &ProgressTracker{
		callback: callback,
	}
}

// Update updates progress.
func (t *ProgressTracker) Update(p Progress) {
	if t == nil || t.callback == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if p.Total > 0 && p.Percent == 0 {
		p.Percent = float64(p.Current) / float64(p.Total) * 100
	}

	t.callback(p)
}

// BulkStage reports a written batch.
func (t *ProgressTracker) BulkStage(batch, batches, current, total int) {
	t.Update(Progress{
		Stage:   "bulk",
		Current: current,
		Total:   total,
		Batch:   batch,
		Batches: batches,
		Message: "Writing batches",
	})
}

// RefreshStage reports the index refresh.
func (t *ProgressTracker) RefreshStage(total int) {
	t.Update(Progress{
		Stage:   "refresh",
		Current: total,
		Total:   total,
		Message: "Refreshing index",
	})
}

// Complete reports completion.
func (t *ProgressTracker) Complete(total int) {
	t.Update(Progress{
		Stage:   "complete",
		Current: total,
		Total:   total,
		Percent: 100,
		Message: "Ingestion complete",
	})
}
