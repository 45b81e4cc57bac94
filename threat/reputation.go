package threat

import (
	"math"
	"strings"

	"github.com/subrat243/Intelify/core"
	"github.com/subrat243/Intelify/mitre"
)

const (
	minReputation = -100.0
	maxReputation = 100.0
)

var categoryPenalties = map[string]float64{
	"ransomware": -30,
	"apt":        -25,
	"malware":    -20,
	"botnet":     -20,
	"c2":         -25,
	"phishing":   -15,
}

// CalculateReputation scores an IOC in [-100, 100]; lower is worse.
// score = -(confidence*100) - (correlationCount*10) + category penalty
func CalculateReputation(confidence float64, correlationCount int, category string) float64 {
	score := -(confidence * 100) - float64(correlationCount)*10
	score += categoryPenalties[strings.ToLower(strings.TrimSpace(category))]
	return math.Max(minReputation, math.Min(maxReputation, score))
}

// ScoreIOC computes reputation and MITRE techniques from the IOC's current state
func ScoreIOC(ioc *core.IOC) (float64, []string) {
	return CalculateReputation(ioc.ConfidenceScore, ioc.CorrelationCount, ioc.Category),
		mitre.MapTechniques(ioc.Category, string(ioc.Type))
}
