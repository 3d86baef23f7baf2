package experiment

// State is a step of the single-experiment state machine:
//
//	Idle → PreflightChecked → TopologyBuilt → RuntimeStarted → CrossTrafficStarted →
//	MeasurementStarted → Waiting → TornDown → Recorded → Idle
//
// A failed preflight goes straight from Idle to Aborted.
type State int

const (
	Idle State = iota
	PreflightChecked
	TopologyBuilt
	RuntimeStarted
	CrossTrafficStarted
	MeasurementStarted
	Waiting
	TornDown
	Recorded
	Aborted
)

var stateNames = [...]string{
	Idle:                "Idle",
	PreflightChecked:    "PreflightChecked",
	TopologyBuilt:       "TopologyBuilt",
	RuntimeStarted:      "RuntimeStarted",
	CrossTrafficStarted: "CrossTrafficStarted",
	MeasurementStarted:  "MeasurementStarted",
	Waiting:             "Waiting",
	TornDown:            "TornDown",
	Recorded:            "Recorded",
	Aborted:             "Aborted",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}
