package core

// OutcomeKind classifies the result of mapping a single raw feed record
type OutcomeKind int

const (
	// OutcomeOK carries a candidate
	OutcomeOK OutcomeKind = iota
	// OutcomeSkip means the record is intentionally ignored (e.g. missing indicator)
	OutcomeSkip
	// OutcomeErr means the record was malformed; it is counted and dropped
	OutcomeErr
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeSkip:
		return "skip"
	case OutcomeErr:
		return "err"
	default:
		return "unknown"
	}
}

// Outcome is the explicit result of mapping one record
type Outcome struct {
	Kind      OutcomeKind
	Candidate Candidate
	Reason    string
}

// Ok wraps a candidate
func Ok(c Candidate) Outcome {
	return Outcome{Kind: OutcomeOK, Candidate: c}
}

// Skip marks a record as ignored
func Skip(reason string) Outcome {
	return Outcome{Kind: OutcomeSkip, Reason: reason}
}

// Err marks a record as malformed
func Err(reason string) Outcome {
	return Outcome{Kind: OutcomeErr, Reason: reason}
}

// ParseStats counts per-record outcomes of a parse
type ParseStats struct {
	Accepted int      `json:"accepted"`
	Skipped  int      `json:"skipped"`
	Rejected int      `json:"rejected"`
	Reasons  []string `json:"reasons,omitempty"`
}

// maxReasons caps how many rejection reasons are retained per parse
const maxReasons = 10

// CollectOutcomes splits outcomes into accepted candidates and stats
func CollectOutcomes(outcomes []Outcome) ([]Candidate, ParseStats) {
	var stats ParseStats
	candidates := make([]Candidate, 0, len(outcomes))
	for _, o := range outcomes {
		switch o.Kind {
		case OutcomeOK:
			candidates = append(candidates, o.Candidate)
			stats.Accepted++
		case OutcomeSkip:
			stats.Skipped++
		case OutcomeErr:
			stats.Rejected++
			if len(stats.Reasons) < maxReasons {
				stats.Reasons = append(stats.Reasons, o.Reason)
			}
		}
	}
	return candidates, stats
}
