package enums

import "fmt"

// SignupStatus maps to pending_signup_queue.status.
type SignupStatus string

const (
	SignupPending  SignupStatus = "pending"
	SignupApproved SignupStatus = "approved"
	SignupRejected SignupStatus = "rejected"
)

var validSignupStatuses = []SignupStatus{
	SignupPending,
	SignupApproved,
	SignupRejected,
}

// IsValid checks whether the status matches the canonical enum.
func (s SignupStatus) IsValid() bool {
	for _, candidate := range validSignupStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsDecided reports whether an operator already approved or rejected the signup.
func (s SignupStatus) IsDecided() bool {
	return s == SignupApproved || s == SignupRejected
}

// ParseSignupStatus converts raw strings into SignupStatus.
func ParseSignupStatus(value string) (SignupStatus, error) {
	for _, candidate := range validSignupStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid signup status %q", value)
}

// EnqueueOutcome reports what happened to a lead offered to the pending queue.
type EnqueueOutcome string

const (
	EnqueueCreated EnqueueOutcome = "created"
	EnqueueUpdated EnqueueOutcome = "updated"
	EnqueueSkipped EnqueueOutcome = "skipped"
)
