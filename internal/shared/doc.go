// Package shared holds helpers used across the license server packages.
//
// The testutil subpackage provides a buffered slog handler for asserting on
// log output and an in-memory stub of the external license authority.
package shared
