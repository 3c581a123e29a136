package memory

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestConfidenceBoundsProperty drives a pattern's confidence through random
// interleavings of success and failure updates and checks it can never
// leave [0,1], regardless of order or length.
func TestConfidenceBoundsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("confidence stays in [0,1] under any interleaving", prop.ForAll(
		func(start float64, outcomes []bool) bool {
			confidence := start
			successes := 0
			for _, ok := range outcomes {
				if ok {
					confidence = UpdateConfidenceOnSuccess(confidence, successes)
					successes++
				} else {
					confidence = UpdateConfidenceOnFailure(confidence)
				}
				if confidence < 0 || confidence > 1 {
					return false
				}
			}
			return true
		},
		gen.Float64Range(0, 1),
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
