package rdb

// Role is a privilege level, totally ordered: Owner > DbAdmin > ReadWrite >
// ReadOnly (spec.md §6). The engine never constructs roles itself — an
// external authenticator is its only source (original_source/auth/mod.rs's
// role hierarchy, supplemented here since spec.md's distillation dropped
// the concrete ordering but keeps the authenticator collaborator).
type Role int

const (
	RoleReadOnly Role = iota
	RoleReadWrite
	RoleDbAdmin
	RoleOwner
)

func (r Role) String() string {
	switch r {
	case RoleReadOnly:
		return "read_only"
	case RoleReadWrite:
		return "read_write"
	case RoleDbAdmin:
		return "db_admin"
	case RoleOwner:
		return "owner"
	default:
		return "unknown"
	}
}

// Satisfies reports whether r meets or exceeds the required role.
func (r Role) Satisfies(required Role) bool {
	return r >= required
}

// Authenticator is the external collaborator Executor.Execute consults,
// via SetAuthenticator, before running a query (spec.md §6). The engine
// ships no implementation — Argon2, sessions, and token storage are
// explicitly out of scope (spec.md §1) — only this interface, the policy
// for which operations require which role, and the Executor's call site.
// An Executor with no Authenticator installed runs every query unchecked.
type Authenticator interface {
	CheckAccess(token, database string, required Role) error
}

// RequiredRole returns the role an operation needs: Select and a Batch made
// entirely of Selects need only ReadOnly; everything else needs ReadWrite
// (spec.md §6).
func RequiredRole(q *Query) Role {
	if isReadOnlyQuery(q) {
		return RoleReadOnly
	}
	return RoleReadWrite
}

func isReadOnlyQuery(q *Query) bool {
	switch q.Op {
	case OpSelect:
		return true
	case OpBatch:
		for i := range q.Batch {
			if !isReadOnlyQuery(&q.Batch[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
