// Package session manages authenticated dashboard sessions and resolves
// the credential that authorizes outbound gateway calls.
package session

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Role represents an authenticated actor's privilege level.
type Role string

const (
	// RoleUser is a tenant end user with their own gateway token.
	RoleUser Role = "user"
	// RoleAdmin is a tenant administrator.
	RoleAdmin Role = "admin"
	// RoleSuperadmin is a platform operator. Superadmins carry no default
	// upstream token; tenant data access requires impersonation.
	RoleSuperadmin Role = "superadmin"
)

// IsValid returns true if the role is a known valid role.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleSuperadmin:
		return true
	default:
		return false
	}
}

// Privileged returns true for roles allowed through the admin routing
// prefix.
func (r Role) Privileged() bool {
	return r == RoleAdmin || r == RoleSuperadmin
}

// Session represents an authenticated actor.
//
// UserToken is the credential for the upstream gateway. It only travels
// server-side: it must never appear in a response body or a log line.
type Session struct {
	// ID is the opaque, server-issued session handle.
	ID string
	// Role is the actor's privilege level.
	Role Role
	// UserToken authorizes upstream calls. Present for user/admin roles,
	// empty for superadmin.
	UserToken string
	// AccountID identifies the owning account.
	AccountID string
	// CreatedAt is when the session was created (UTC).
	CreatedAt time.Time
	// ExpiresAt is when the session expires (UTC).
	ExpiresAt time.Time
	// LastAccess is the last time the session was used (UTC).
	LastAccess time.Time
}

// IsExpired checks if the session has exceeded its lifetime.
func (s *Session) IsExpired() bool {
	return time.Now().UTC().After(s.ExpiresAt)
}

// Refresh updates LastAccess and extends ExpiresAt by the given duration.
func (s *Session) Refresh(timeout time.Duration) {
	now := time.Now().UTC()
	s.LastAccess = now
	s.ExpiresAt = now.Add(timeout)
}

// TokenFingerprint returns a short stable fingerprint of a credential,
// safe for log lines. Empty tokens fingerprint as "-".
func TokenFingerprint(token string) string {
	if token == "" {
		return "-"
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(token))
}
