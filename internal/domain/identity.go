package domain

// Role enumerates the roles a connected user can hold within a tenant.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAgent    Role = "agent"
	RoleAdmin    Role = "admin"
)

// Staff reports whether the role may service chat requests.
func (r Role) Staff() bool {
	return r == RoleAgent || r == RoleAdmin
}

// Identity is the authenticated caller, resolved once from the bearer
// credential at connection time and attached to every inbound event.
type Identity struct {
	TenantID string
	UserID   string
	Role     Role
}
