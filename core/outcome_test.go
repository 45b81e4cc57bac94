package core

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectOutcomes(t *testing.T) {
	outcomes := []Outcome{
		Ok(Candidate{Indicator: "1.2.3.4", Type: IOCTypeIP}),
		Skip("missing indicator"),
		Err("ipAddress is not a string"),
		Ok(Candidate{Indicator: "evil.example", Type: IOCTypeDomain}),
	}

	candidates, stats := CollectOutcomes(outcomes)

	require.Len(t, candidates, 2)
	assert.Equal(t, 2, stats.Accepted)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, []string{"ipAddress is not a string"}, stats.Reasons)
}

func TestCollectOutcomes_CapsReasons(t *testing.T) {
	var outcomes []Outcome
	for i := 0; i < 25; i++ {
		outcomes = append(outcomes, Err(fmt.Sprintf("bad record %d", i)))
	}

	_, stats := CollectOutcomes(outcomes)

	assert.Equal(t, 25, stats.Rejected)
	assert.Len(t, stats.Reasons, maxReasons)
}

func TestOutcomeKind_String(t *testing.T) {
	assert.Equal(t, "ok", OutcomeOK.String())
	assert.Equal(t, "skip", OutcomeSkip.String())
	assert.Equal(t, "err", OutcomeErr.String())
}
