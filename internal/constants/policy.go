package constants

// FailurePolicy decides what the sweep does after a job fails.
type FailurePolicy string

const (
	// FailureContinue records the failure and moves on to the next job.
	FailureContinue FailurePolicy = "continue"

	// FailureAbort stops the sweep after the first failed job.
	FailureAbort FailurePolicy = "abort"
)

// Valid returns true if the policy is a recognized value.
func (p FailurePolicy) Valid() bool {
	switch p {
	case FailureContinue, FailureAbort:
		return true
	}
	return false
}

// String returns the string representation of the policy.
func (p FailurePolicy) String() string {
	return string(p)
}

// Backend selects how the simulator is executed.
type Backend string

const (
	// BackendLocal runs the simulator as a blocking child process.
	BackendLocal Backend = "local"

	// BackendBatch submits the simulator to a batch system and waits for the submitter.
	BackendBatch Backend = "batch"
)

// Valid returns true if the backend is a recognized value.
func (b Backend) Valid() bool {
	switch b {
	case BackendLocal, BackendBatch:
		return true
	}
	return false
}

// String returns the string representation of the backend.
func (b Backend) String() string {
	return string(b)
}

// ThrottleMode selects the pacing policy between jobs.
type ThrottleMode string

const (
	// ThrottleNone starts the next job immediately.
	ThrottleNone ThrottleMode = "none"

	// ThrottleFixed sleeps a fixed delay between jobs.
	ThrottleFixed ThrottleMode = "fixed"

	// ThrottleTokenBucket allows bursts up to a bucket size at a sustained rate.
	ThrottleTokenBucket ThrottleMode = "token_bucket"
)

// Valid returns true if the mode is a recognized value.
func (m ThrottleMode) Valid() bool {
	switch m {
	case ThrottleNone, ThrottleFixed, ThrottleTokenBucket:
		return true
	}
	return false
}

// String returns the string representation of the mode.
func (m ThrottleMode) String() string {
	return string(m)
}
