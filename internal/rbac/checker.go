package rbac

import "strings"

// Permissions understood by the assessment engine. The engine asks for
// capabilities, never for role names, so deployments can remap roles
// without touching engine code.
const (
	PermOverride = "assessments:override" // bypass eligibility rules
	PermManage   = "assessments:manage"   // create/update definitions
	PermViewAll  = "assessments:view_all" // answer keys, all attempts
)

// DefaultRolePermissions is the stock role map. "admin" holds the
// wildcard; instructors can manage and inspect but not bypass windows.
var DefaultRolePermissions = map[string][]string{
	"admin":      {"*"},
	"instructor": {"assessments:manage", "assessments:view_all"},
	"student":    {},
}

// Checker answers capability questions for a role.
type Checker struct {
	RolePermissions map[string][]string
}

func NewChecker(rp map[string][]string) *Checker {
	if rp == nil {
		rp = DefaultRolePermissions
	}
	return &Checker{RolePermissions: rp}
}

func (c *Checker) Has(role, perm string) bool {
	perms, ok := c.RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if matchPerm(p, perm) {
			return true
		}
	}
	return false
}

// HasOverride reports whether the role bypasses every eligibility rule
// except existence.
func (c *Checker) HasOverride(role string) bool {
	return c.Has(role, PermOverride)
}

func matchPerm(pattern, perm string) bool {
	if pattern == "*" || pattern == perm {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(perm, strings.TrimSuffix(pattern, "*"))
	}
	return false
}
