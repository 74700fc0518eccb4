package schemas

import "time"

// MovementRun is the journal record of one movement task.
type MovementRun struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"session_id"`
	Source         Coordinate `json:"source"`
	Destination    Coordinate `json:"destination"`
	Edges          int        `json:"edges"`
	EdgesCompleted int        `json:"edges_completed"`
	Status         string     `json:"status"`
	Reason         string     `json:"reason,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     time.Time  `json:"finished_at"`
}

// Duration is how long the run took.
func (r MovementRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
