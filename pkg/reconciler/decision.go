package reconciler

import "camwatch/pkg/interfaces"

type decision int

const (
	decisionNone decision = iota
	decisionStart
	decisionStop
)

func (d decision) String() string {
	switch d {
	case decisionStart:
		return "start"
	case decisionStop:
		return "stop"
	default:
		return "none"
	}
}

// decide applies the per-stream state table. sample must be complete.
//
//	NoWorker, producer > 0  -> start
//	NoWorker, producer == 0 -> none
//	worker,   producer > 0  -> none (already served)
//	worker,   producer == 0 -> stop, regardless of consumer bytes
func decide(current *interfaces.Assignment, sample *interfaces.MetricSample) decision {
	producing := sample.Producer.Positive()
	served := current.HasWorker()

	switch {
	case !served && producing:
		return decisionStart
	case served && !producing:
		return decisionStop
	default:
		return decisionNone
	}
}
