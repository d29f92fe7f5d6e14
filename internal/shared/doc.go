// Package shared provides common utilities and test helpers used across the
// polyetl codebase.
//
// # Structure
//
//   - testutil: slog capture handler and aggregate bar fixtures
//
// # Usage Guidelines
//
// This package should only contain test utilities used by multiple packages.
// It should NOT contain business logic or depend on anything beyond the
// domain contracts.
package shared
