package model

// Role is the authorisation level supplied by the session service.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Actor is the authenticated caller. Branch is empty for actors that see every branch.
type Actor struct {
	ID     string `json:"id"`
	Role   Role   `json:"role"`
	Branch string `json:"branch,omitempty"`
}

// IsAdmin reports whether the actor may force submissions and unlock months.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// CanSee reports whether a row tagged with branch is inside the actor's scope.
func (a Actor) CanSee(branch string) bool {
	return a.Branch == "" || a.Branch == branch
}
