// Package ctxkey defines shared context key types used across packages.
// It has no dependencies on other internal packages, so any layer can
// read the keys without import cycles.
package ctxkey

// LoggerKey is the context key type for the request-enriched logger set
// by the HTTP middleware.
type LoggerKey struct{}
