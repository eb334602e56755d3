package rbac

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

const (
	ActionRead      Action = "read"
	ActionWrite     Action = "write"
	ActionSubscribe Action = "subscribe"
	ActionAdmin     Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleMember:
		return action == ActionRead || action == ActionWrite || action == ActionSubscribe
	case RoleViewer:
		return action == ActionRead || action == ActionSubscribe
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleMember, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
