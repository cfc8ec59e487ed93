package api

import "licenselock/pkg/contracts/domain"

// VerifyResponse answers POST /verify. Valid and Message are the fields older
// clients read; Reason and Suspended are additive.
type VerifyResponse struct {
	Valid     bool   `json:"valid"`
	Message   string `json:"message"`
	Reason    string `json:"reason"`
	Suspended bool   `json:"suspended"`
}

// AdminActionResponse answers suspend and reset requests.
type AdminActionResponse struct {
	Key     string `json:"key"`
	Found   bool   `json:"found"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

// ProvisionResponse lists freshly provisioned keys.
type ProvisionResponse struct {
	Keys    []string `json:"keys"`
	Count   int      `json:"count"`
	TraceID string   `json:"trace_id,omitempty"`
}

// LicenseListResponse is the body of GET /admin/licenses.
type LicenseListResponse struct {
	Licenses []domain.LicenseSummary `json:"licenses"`
	Total    int                     `json:"total"`
	TraceID  string                  `json:"trace_id,omitempty"`
}
