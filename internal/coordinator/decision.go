package coordinator

// Outcome is the result of re-validating a track change after the seek delay
type Outcome int

const (
	// OutcomeRecord starts a capture of the track
	OutcomeRecord Outcome = iota
	// OutcomeCancelled means the coordinator is shutting down
	OutcomeCancelled
	// OutcomeRace means a newer track change superseded this one
	OutcomeRace
	// OutcomeLoop means the player is replaying an already captured track
	OutcomeLoop
	// OutcomeShutdown means the player paused on its own, usually because
	// the album or playlist ended
	OutcomeShutdown
	// OutcomeIdlePause means the player is paused by us; nothing to do
	OutcomeIdlePause
	// OutcomeAd means the track is an advertisement
	OutcomeAd
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRecord:
		return "record"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeRace:
		return "race"
	case OutcomeLoop:
		return "loop"
	case OutcomeShutdown:
		return "shutdown"
	case OutcomeIdlePause:
		return "idle-pause"
	case OutcomeAd:
		return "ad"
	default:
		return "unknown"
	}
}

// check is the state observed after the seek delay
type check struct {
	shuttingDown bool
	superseded   bool
	looped       bool
	playing      bool
	selfPaused   bool
	ad           bool
}

type rule struct {
	outcome Outcome
	match   func(check) bool
}

// rules are evaluated in order; the first match wins
var rules = []rule{
	{OutcomeCancelled, func(c check) bool { return c.shuttingDown }},
	{OutcomeRace, func(c check) bool { return c.superseded }},
	{OutcomeLoop, func(c check) bool { return c.looped }},
	{OutcomeShutdown, func(c check) bool { return !c.playing && !c.selfPaused }},
	{OutcomeIdlePause, func(c check) bool { return !c.playing }},
	{OutcomeAd, func(c check) bool { return c.ad }},
}

func decide(c check) Outcome {
	for _, r := range rules {
		if r.match(c) {
			return r.outcome
		}
	}
	return OutcomeRecord
}
