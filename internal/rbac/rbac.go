package rbac

type Role string
type Action string

const (
	RoleViewer     Role = "viewer"
	RoleSpecialist Role = "specialist"
	RoleApprover   Role = "approver"
	RoleAdmin      Role = "admin"
)

const (
	ActionRead      Action = "read"
	ActionWrite     Action = "write"
	ActionApprove   Action = "approve"
	ActionReconcile Action = "reconcile"
	ActionAdmin     Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleApprover:
		return action == ActionRead || action == ActionWrite || action == ActionApprove
	case RoleSpecialist:
		return action == ActionRead || action == ActionWrite
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleSpecialist, RoleApprover, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
