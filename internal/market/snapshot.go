package market

import (
	"errors"
	"time"
)

var ErrStaleGeneration = errors.New("stale generation")

type State string

const (
	StateIdle     State = "idle"
	StateFetching State = "fetching"
	StateSuccess  State = "success"
	StateError    State = "error"
)

// Snapshot is one immutable view of a subscription. A new value replaces the
// previous one wholesale; callers must not modify the slices it carries.
type Snapshot struct {
	Generation  uint64
	Params      Params
	State       State
	Groups      []CollectionGroup
	Items       []ReconciledItem
	Collections []CollectionAdded
	DataLength  int
	Err         error
	UpdatedAt   time.Time
}

func (s Snapshot) Fetching() bool {
	return s.State == StateFetching
}

// fetching marks the start of a cycle. Data carries over only inside the
// same generation so a param change never shows the previous target's view.
func (s Snapshot) fetching(generation uint64, params Params, now time.Time) Snapshot {
	next := Snapshot{
		Generation: generation,
		Params:     params,
		State:      StateFetching,
		UpdatedAt:  now,
	}
	if s.Generation == generation && s.State != StateError {
		next.Groups = s.Groups
		next.Items = s.Items
		next.Collections = s.Collections
		next.DataLength = s.DataLength
	}
	return next
}

func successSnapshot(generation uint64, params Params, res Result, now time.Time) Snapshot {
	return Snapshot{
		Generation:  generation,
		Params:      params,
		State:       StateSuccess,
		Groups:      res.Groups,
		Items:       res.Items,
		Collections: res.Collections,
		DataLength:  res.DataLength,
		UpdatedAt:   now,
	}
}

// errorSnapshot carries no groups. Earlier data is never mixed with a failed cycle.
func errorSnapshot(generation uint64, params Params, err error, now time.Time) Snapshot {
	return Snapshot{
		Generation: generation,
		Params:     params,
		State:      StateError,
		Err:        err,
		UpdatedAt:  now,
	}
}
