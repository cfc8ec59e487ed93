// Package security seals authority credentials at rest and signs requests
// sent to the external license authority.
//
// Sealed credentials use scrypt key derivation and AES-256-GCM. Outbound
// requests carry an HMAC-SHA256 signature over a timestamp, a random nonce,
// the request id and the JSON payload so the authority can reject replays.
package security
