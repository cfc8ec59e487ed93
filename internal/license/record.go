package license

import (
	"fmt"
	"time"
)

// ActivationState is the redemption state of a license record.
type ActivationState string

const (
	StateUnredeemed ActivationState = "unredeemed"
	StateLocked     ActivationState = "locked"
)

// Origin records how a license record came to exist.
type Origin string

const (
	OriginProvisioned Origin = "provisioned"
	OriginAuthority   Origin = "authority"
)

// UnknownDevice is the binding given to records that were redeemed without a
// recorded device. No caller's device ever matches it, so such a record stays
// locked until an administrator resets it.
const UnknownDevice = "unknown-device"

// Record is a stored license.
type Record struct {
	Identifier    string          `json:"identifier"`
	State         ActivationState `json:"activation_state"`
	BoundDeviceID string          `json:"bound_device_id,omitempty"`
	Suspended     bool            `json:"suspended"`
	Origin        Origin          `json:"origin,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ActivatedAt   *time.Time      `json:"activated_at,omitempty"`
	SuspendedAt   *time.Time      `json:"suspended_at,omitempty"`
}

// NewRecord returns an unredeemed, unsuspended record.
func NewRecord(identifier string, origin Origin, now time.Time) Record {
	return Record{
		Identifier: identifier,
		State:      StateUnredeemed,
		Origin:     origin,
		CreatedAt:  now.UTC(),
	}
}

// Locked reports whether the record is bound to a device.
func (r Record) Locked() bool {
	return r.State == StateLocked
}

// BoundTo reports whether the record is locked to deviceID.
func (r Record) BoundTo(deviceID string) bool {
	return r.Locked() && r.BoundDeviceID == deviceID && deviceID != UnknownDevice
}

// Validate checks that the binding fields agree with the activation state.
func (r Record) Validate() error {
	if r.Identifier == "" {
		return fmt.Errorf("record has no identifier")
	}
	switch r.State {
	case StateUnredeemed:
		if r.BoundDeviceID != "" {
			return fmt.Errorf("unredeemed record %s has a bound device", maskLicenseKey(r.Identifier))
		}
	case StateLocked:
		if r.BoundDeviceID == "" {
			return fmt.Errorf("locked record %s has no bound device", maskLicenseKey(r.Identifier))
		}
	default:
		return fmt.Errorf("record %s has unknown state %q", maskLicenseKey(r.Identifier), r.State)
	}
	return nil
}

// Activated returns a copy of r locked to deviceID at the given time.
func (r Record) Activated(deviceID string, at time.Time) Record {
	at = at.UTC()
	r.State = StateLocked
	r.BoundDeviceID = deviceID
	r.ActivatedAt = &at
	return r
}

// WithSuspension returns a copy of r with the suspension flag set.
// An existing suspension time is kept.
func (r Record) WithSuspension(at time.Time) Record {
	if r.Suspended {
		return r
	}
	at = at.UTC()
	r.Suspended = true
	r.SuspendedAt = &at
	return r
}

// Cleared returns a copy of r back in the unredeemed state, optionally
// lifting its suspension.
func (r Record) Cleared(clearSuspension bool) Record {
	r.State = StateUnredeemed
	r.BoundDeviceID = ""
	r.ActivatedAt = nil
	if clearSuspension {
		r.Suspended = false
		r.SuspendedAt = nil
	}
	return r
}

// Summary is the operator-facing projection of a record.
type Summary struct {
	Identifier    string          `json:"identifier"`
	State         ActivationState `json:"activationState"`
	BoundDeviceID string          `json:"boundDeviceId,omitempty"`
	Suspended     bool            `json:"suspended"`
}

// Summary projects the record for listing.
func (r Record) Summary() Summary {
	return Summary{
		Identifier:    r.Identifier,
		State:         r.State,
		BoundDeviceID: r.BoundDeviceID,
		Suspended:     r.Suspended,
	}
}
