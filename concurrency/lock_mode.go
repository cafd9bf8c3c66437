package concurrency

// LockMode is one of the five multi-granularity lock modes.
type LockMode int

const (
	IntentionShared LockMode = iota
	IntentionExclusive
	Shared
	SharedIntentionExclusive
	Exclusive
)

func (m LockMode) String() string {
	switch m {
	case IntentionShared:
		return "IS"
	case IntentionExclusive:
		return "IX"
	case Shared:
		return "S"
	case SharedIntentionExclusive:
		return "SIX"
	case Exclusive:
		return "X"
	}
	return "?"
}

// compatible reports whether a lock in mode held can coexist with a
// request for mode req on the same resource.
func compatible(held, req LockMode) bool {
	switch held {
	case IntentionShared:
		return req != Exclusive
	case IntentionExclusive:
		return req == IntentionShared || req == IntentionExclusive
	case Shared:
		return req == IntentionShared || req == Shared
	case SharedIntentionExclusive:
		return req == IntentionShared
	case Exclusive:
		return false
	}
	return false
}

// upgradeAllowed enumerates the permitted lock upgrades.
func upgradeAllowed(from, to LockMode) bool {
	switch from {
	case IntentionShared:
		return to == Shared || to == Exclusive || to == IntentionExclusive || to == SharedIntentionExclusive
	case Shared:
		return to == Exclusive || to == SharedIntentionExclusive
	case IntentionExclusive:
		return to == Exclusive || to == SharedIntentionExclusive
	case SharedIntentionExclusive:
		return to == Exclusive
	}
	return false
}
