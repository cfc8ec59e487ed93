// Package domain contains the license types shared by the server, the
// operator CLI and exported reports.
package domain

import "time"

// ActivationState is the redemption state of a license as seen by clients.
type ActivationState string

const (
	StateUnredeemed ActivationState = "unredeemed"
	StateLocked     ActivationState = "locked"
)

// LicenseSummary is one row of a license listing.
type LicenseSummary struct {
	Key             string          `json:"key" validate:"required"`
	ActivationState ActivationState `json:"activationState" validate:"required,oneof=unredeemed locked"`
	BoundDeviceID   string          `json:"boundDeviceId,omitempty"`
	Suspended       bool            `json:"suspended"`
}

// Used reports whether the license is bound to a device.
func (s LicenseSummary) Used() bool {
	return s.ActivationState == StateLocked
}

// ExportMetadata describes an exported license report.
type ExportMetadata struct {
	GeneratedAt time.Time `json:"generated_at"`
	Total       int       `json:"total"`
	Used        int       `json:"used"`
	Suspended   int       `json:"suspended"`
}
