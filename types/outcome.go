package types

// Outcome is the recorded result of a deletion attempt.
type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeSuccess  Outcome = "success"
	OutcomeFailed   Outcome = "failed"
	OutcomeNotFound Outcome = "not-found"
	OutcomeInUse    Outcome = "in-use"
)

// Deleted reports whether the resource is confirmed gone. A not-found
// response counts: the resource was already absent.
func (o Outcome) Deleted() bool {
	return o == OutcomeSuccess || o == OutcomeNotFound
}

// Retryable reports whether the next run should attempt this resource again.
// In-use skips are re-checked against fresh usage data, failures retry
// implicitly on the next cycle.
func (o Outcome) Retryable() bool {
	return o == OutcomeFailed || o == OutcomeInUse
}
