// Package replayguard holds the signature-counter acceptance rule used to
// detect cloned authenticators. It is the single in-process evaluation
// point of the rule; the MongoDB credential store expresses the identical
// rule as its conditional-update filter so the check also holds at the
// storage layer under concurrent writers.
package replayguard

// Valid reports whether an assertion bearing newCounter is acceptable
// against the stored counter.
//
// A strictly increasing counter is accepted. The one exception is
// newCounter == storedCounter == 0: authenticators that never increment
// their counter always report zero, and rejecting them would lock out
// every credential they hold. Any other non-increasing relation,
// including equality at a nonzero value, indicates a replayed or cloned
// assertion.
func Valid(newCounter, storedCounter uint32) bool {
	if storedCounter == 0 && newCounter == 0 {
		return true
	}
	return newCounter > storedCounter
}
