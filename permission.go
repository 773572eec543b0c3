package nest

// ActionRead is the sole action a connection Permission carries. The
// addressing scheme is read-only.
const ActionRead = "read"

// Permission describes the read access a connection needs on the root
// container's backing file. It is computed when the connection is built and
// never changes afterwards.
type Permission struct {
	path    string
	actions string
}

// NewPermission returns a read permission for path.
func NewPermission(path string) Permission {
	return Permission{path: path, actions: ActionRead}
}

// Path returns the filesystem path the permission covers. It is empty when
// the root container is not file-backed.
func (p Permission) Path() string { return p.path }

// Actions returns the granted actions, always [ActionRead].
func (p Permission) Actions() string { return p.actions }

func (p Permission) String() string {
	return p.actions + " " + p.path
}
