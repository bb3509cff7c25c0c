package domain

// Role identifies which surface drove a mutation.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
	RoleSystem   Role = "system"
)

// Actor is the caller identity recorded on every timeline entry.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// SystemActor is used by reconciliation and the background sweep.
var SystemActor = Actor{ID: "system", Role: RoleSystem}

func (a Actor) IsAdmin() bool    { return a.Role == RoleAdmin }
func (a Actor) IsCustomer() bool { return a.Role == RoleCustomer }
func (a Actor) IsSystem() bool   { return a.Role == RoleSystem }

// Valid reports whether the actor carries an id and a known role.
func (a Actor) Valid() bool {
	if a.ID == "" {
		return false
	}
	switch a.Role {
	case RoleCustomer, RoleAdmin, RoleSystem:
		return true
	default:
		return false
	}
}
