package license

// Reason is the machine-readable outcome of an evaluation.
type Reason string

const (
	ReasonActivated          Reason = "activated"
	ReasonAlreadyBound       Reason = "already-bound-same-device"
	ReasonInvalidKey         Reason = "invalid-key"
	ReasonBoundToOtherDevice Reason = "bound-to-other-device"
	ReasonSuspended          Reason = "suspended"
)

// Verdict is the result of Engine.Evaluate.
type Verdict struct {
	Valid     bool   `json:"valid"`
	Suspended bool   `json:"suspended,omitempty"`
	Reason    Reason `json:"reason"`
}

var (
	verdictActivated          = Verdict{Valid: true, Reason: ReasonActivated}
	verdictAlreadyBound       = Verdict{Valid: true, Reason: ReasonAlreadyBound}
	verdictInvalidKey         = Verdict{Valid: false, Reason: ReasonInvalidKey}
	verdictBoundToOtherDevice = Verdict{Valid: false, Reason: ReasonBoundToOtherDevice}
	verdictSuspended          = Verdict{Valid: false, Suspended: true, Reason: ReasonSuspended}
)

// Message returns the short human-readable text shown to end users.
func (v Verdict) Message() string {
	switch v.Reason {
	case ReasonActivated:
		return "Activated!"
	case ReasonAlreadyBound:
		return "Welcome back!"
	case ReasonBoundToOtherDevice:
		return "Key already used on another device."
	case ReasonSuspended:
		return "License suspended."
	default:
		return "Invalid Key"
	}
}
