package load

import "fmt"

type Phase int

const (
	Idle Phase = iota
	Inserting
	Committed
	Done
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Inserting:
		return "inserting"
	case Committed:
		return "committed"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// State is where a writer is in its run. Batch and Remainder are only
// meaningful while Inserting or Committed.
type State struct {
	Phase     Phase
	Batch     int
	Remainder bool
}

func (s State) String() string {
	switch s.Phase {
	case Inserting, Committed:
		if s.Remainder {
			return fmt.Sprintf("%s(remainder)", s.Phase)
		}
		return fmt.Sprintf("%s(batch %d)", s.Phase, s.Batch)
	}
	return s.Phase.String()
}
