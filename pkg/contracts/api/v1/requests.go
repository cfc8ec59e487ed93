// Package api contains the HTTP contract of the license server.
// Version v1 keeps the field names understood by deployed clients.
package api

// VerifyRequest is the body of POST /verify.
type VerifyRequest struct {
	Key      string `json:"key" validate:"required,max=256,printable"`
	DeviceID string `json:"deviceId" validate:"required,max=256,printable"`
}

// SuspendRequest is the body of POST /admin/suspend.
type SuspendRequest struct {
	Key string `json:"key" validate:"required,max=256,printable"`
}

// ResetRequest is the body of POST /admin/reset.
type ResetRequest struct {
	Key             string `json:"key" validate:"required,max=256,printable"`
	ClearSuspension bool   `json:"clearSuspension"`
}

// ProvisionRequest is the body of POST /admin/keys.
type ProvisionRequest struct {
	Count int `json:"count" validate:"required,min=1,max=1000"`
}
