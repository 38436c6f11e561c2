package document

import (
	"fmt"
	"strings"
)

// Role is the caller's organisational role
type Role string

const (
	RoleEmployee   Role = "employee"
	RoleAccountant Role = "accountant"
	RoleAdmin      Role = "admin"
	RoleOwner      Role = "owner"
)

// Roles lists every known role
var Roles = []Role{RoleEmployee, RoleAccountant, RoleAdmin, RoleOwner}

// ParseRole validates a role string
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleEmployee, RoleAccountant, RoleAdmin, RoleOwner:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

func (r Role) reviewer() bool {
	return r == RoleAccountant || r == RoleAdmin
}

// CanApprove reports whether role may approve or reject a document in status.
func CanApprove(role Role, status Status) bool {
	return role.reviewer() && status == StatusPending
}

// CanEdit reports whether role may edit a document's content fields.
func CanEdit(role Role, isOwner bool) bool {
	return isOwner || role.reviewer()
}

// CanDelete reports whether role may delete a document.
func CanDelete(role Role, isOwner bool) bool {
	return isOwner || role == RoleAdmin
}

// CanViewAll reports whether role sees every document rather than only its
// own. Owners get full visibility.
func CanViewAll(role Role) bool {
	return role.reviewer() || role == RoleOwner
}

// InitialStatus is the status a submission starts in. Reviewers' own
// submissions are approved on creation.
func InitialStatus(role Role) Status {
	if role.reviewer() {
		return StatusApproved
	}
	return StatusPending
}
