package obituary

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func votesFor(approve, reject int) []Verification {
	votes := make([]Verification, 0, approve+reject)
	for i := 0; i < approve; i++ {
		votes = append(votes, Verification{Action: ActionApprove})
	}
	for i := 0; i < reject; i++ {
		votes = append(votes, Verification{Action: ActionReject})
	}
	return votes
}

func TestPolicyProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)
	policy := DefaultPolicy()

	properties.Property("recomputing the same vote set yields the same status", prop.ForAll(
		func(approve, reject int) bool {
			votes := votesFor(approve, reject)
			first := policy.Apply(Obituary{VerificationStatus: StatusPending}, votes)
			second := policy.Apply(Obituary{VerificationStatus: first.To}, votes)
			return first.To == second.To && second.Count == approve+reject
		},
		gen.IntRange(0, 12),
		gen.IntRange(0, 12),
	))

	properties.Property("verified and rejected never both apply", prop.ForAll(
		func(approve, reject int) bool {
			verified := approve >= policy.ApproveThreshold && approve >= policy.ApproveRatio*reject
			rejected := reject >= policy.RejectThreshold && reject > approve
			return !(verified && rejected)
		},
		gen.IntRange(0, 50),
		gen.IntRange(0, 50),
	))

	properties.Property("below quorum without a threshold stays pending", prop.ForAll(
		func(approve, reject int) bool {
			status := policy.Decide(Tally{Approve: approve, Reject: reject})
			if approve+reject < policy.Quorum && approve < policy.ApproveThreshold && reject < policy.RejectThreshold {
				return status == StatusPending
			}
			return status != ""
		},
		gen.IntRange(0, 6),
		gen.IntRange(0, 6),
	))

	properties.TestingRun(t)
}
