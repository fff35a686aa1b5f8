package upload

import "time"

// Metrics observes the upload engine. All methods must be safe for
// concurrent use.
type Metrics interface {
	// RecordChunk counts an accepted chunk; duplicate marks a resubmission
	RecordChunk(bytes int, duplicate bool)

	// RecordSessionStarted counts a newly created session
	RecordSessionStarted()

	// RecordSessionFinished counts a session leaving the manager.
	// outcome is "completed" or "expired".
	RecordSessionFinished(outcome string, size int64, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordChunk(int, bool)                              {}
func (noopMetrics) RecordSessionStarted()                              {}
func (noopMetrics) RecordSessionFinished(string, int64, time.Duration) {}
