// package tasks is the sync core: the engine scheduling one loop per
// configured direction and the two procedure shapes the loops run.
//
// Push-shaped directions drain locally queued records toward a target catalog;
// pull-shaped directions diff a remote listing against a stored snapshot and
// transfer whatever is new. Both shapes report into an injected metrics sink
// and append to the audit log; neither ever talks to the other's state.
package tasks

import (
	"context"
	"time"

	"github.com/aminsaedi/navaar/internal/models"
)

// Shape tags how a direction moves content.
type Shape string

const (
	// ShapePush drains pending records from the local queue into the target
	// service's catalog.
	ShapePush Shape = "push"
	// ShapePull diffs the source service's collection against a snapshot and
	// transfers newly appeared items.
	ShapePull Shape = "pull"
)

// Valid reports whether s is a known shape.
func (s Shape) Valid() bool {
	return s == ShapePush || s == ShapePull
}

// Procedure is one runnable sync direction. RunCycle performs a full pass and
// returns how many records it worked on. Per-record failures are recorded on
// the records themselves; a returned error means the cycle as a whole could
// not run (listing failure, storage failure, invariant violation).
type Procedure interface {
	Direction() models.Direction
	RunCycle(ctx context.Context) (int, error)
}

// DirectionConfig binds a procedure to its schedule.
type DirectionConfig struct {
	Direction models.Direction
	Shape     Shape
	Interval  time.Duration
	Procedure Procedure
}

// CycleStats is the engine's in-memory view of one direction's loop.
type CycleStats struct {
	Direction     models.Direction `json:"direction"`
	Shape         Shape            `json:"shape"`
	Cycles        uint64           `json:"cycles"`
	LastRun       time.Time        `json:"last_run"`
	LastDuration  time.Duration    `json:"last_duration"`
	LastProcessed int              `json:"last_processed"`
	LastError     string           `json:"last_error,omitempty"`
}
