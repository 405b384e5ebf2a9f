package rbac

// Role names. Keep these stable; they are part of auth contracts.
const (
	RoleCaller = "caller" // books slots (sales representative)
	RoleCallee = "callee" // is booked against (decision maker)
	RoleAdmin  = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }
