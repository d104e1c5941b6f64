package models

// Role defines the access level of an actor.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleReadOnly Role = "readonly"
	RoleSystem   Role = "system"
)

var roleLevel = map[Role]int{
	RoleReadOnly: 1,
	RoleOperator: 2,
	RoleAdmin:    3,
	RoleSystem:   3,
}

// AtLeast reports whether r grants at least the privileges of min.
func (r Role) AtLeast(min Role) bool {
	return roleLevel[r] >= roleLevel[min]
}

// Actor identifies who is performing an operation, for history attribution
// and permission checks.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// SystemActor is the actor used for scheduler-driven transitions.
var SystemActor = Actor{ID: SystemActorID, Role: RoleSystem}

// CanWrite reports whether the actor may perform state-changing operations.
func (a Actor) CanWrite() bool { return a.Role.AtLeast(RoleOperator) }

// CanApprove reports whether the actor may approve reviews or trigger the
// auto-start system transition.
func (a Actor) CanApprove() bool { return a.Role.AtLeast(RoleOperator) }
