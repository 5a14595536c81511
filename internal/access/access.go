// Package access decides which document operations a caller may perform.
// There are exactly two in-document roles: the single owner and the
// collaborators added through a share grant. Everyone else has no role and
// must not be able to tell the document exists.
package access

type Role string
type Action string

const (
	RoleOwner        Role = "Owner"
	RoleCollaborator Role = "Collaborator"
	RoleNone         Role = "None"
)

const (
	ActionView     Action = "view"
	ActionEdit     Action = "edit"
	ActionReupload Action = "reupload"
	ActionDelete   Action = "delete"
	ActionShare    Action = "share"
	ActionDownload Action = "download"
)

// RoleOf resolves the caller's role for a document. Ownership wins over a
// collaborator grant if both happen to hold.
func RoleOf(callerID, ownerID string, isCollaborator bool) Role {
	if callerID != "" && callerID == ownerID {
		return RoleOwner
	}
	if isCollaborator {
		return RoleCollaborator
	}
	return RoleNone
}

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleCollaborator:
		return action == ActionView || action == ActionEdit || action == ActionDownload
	default:
		return false
	}
}

// Visible reports whether the document exists from the caller's point of
// view. Callers with no role observe the identical outcome as a document
// that does not exist, so a denied probe leaks nothing.
func Visible(role Role) bool {
	return role != RoleNone
}

// Label is the role name recorded in a document's audit trail.
func (r Role) Label() string {
	return string(r)
}
