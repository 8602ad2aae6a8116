package rbac

import (
	"strings"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

const roleObjectPrefix = "role:"

const policyModel = `
[request_definition]
r = sub, obj

[policy_definition]
p = sub, obj

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && keyMatch(r.obj, p.obj)
`

// Policy answers two questions: which permissions a role carries by default,
// and whether a role satisfies a required role. The administrative role is
// granted "role:*" and so satisfies every role check.
type Policy struct {
	mu        sync.RWMutex
	adminRole string
	rolePerms map[string]map[Permission]struct{}
	enforcer  *casbin.SyncedEnforcer
}

func NewPolicy(roles []Role, adminRole string) *Policy {
	if strings.TrimSpace(adminRole) == "" {
		adminRole = RoleAdministrator
	}
	p := &Policy{adminRole: adminRole, rolePerms: map[string]map[Permission]struct{}{}}
	p.Replace(roles)
	return p
}

func (p *Policy) AdminRole() string {
	return p.adminRole
}

// SatisfiesRole reports whether actual equals required or is the admin role.
func (p *Policy) SatisfiesRole(actual, required string) bool {
	if actual == "" {
		return false
	}
	if actual == required {
		return true
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enforce(actual, roleObjectPrefix+required)
}

func (p *Policy) enforce(sub, obj string) bool {
	if p.enforcer == nil {
		return false
	}
	ok, err := p.enforcer.Enforce(sub, obj)
	return err == nil && ok
}

// For listings.
func (p *Policy) Roles() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make(map[string]struct{}, len(p.rolePerms))
	for k := range p.rolePerms {
		keys[k] = struct{}{}
	}
	return sortedKeys(keys)
}

// PermissionsForRole returns the default permission set of a role, sorted.
func (p *Policy) PermissionsForRole(role string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	perms, ok := p.rolePerms[role]
	if !ok {
		return []string{}
	}
	set := make(map[string]struct{}, len(perms))
	for perm := range perms {
		set[string(perm)] = struct{}{}
	}
	return sortedKeys(set)
}

// Replace rebuilds the enforcer from scratch.
func (p *Policy) Replace(roles []Role) {
	m, err := model.NewModelFromString(policyModel)
	if err != nil {
		panic("rbac: invalid policy model: " + err.Error())
	}
	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		panic("rbac: enforcer: " + err.Error())
	}
	rp := make(map[string]map[Permission]struct{})
	var rules [][]string
	for _, r := range roles {
		perms := make(map[Permission]struct{})
		for _, perm := range r.Permissions {
			perms[perm] = struct{}{}
			rules = append(rules, []string{r.Name, string(perm)})
		}
		rp[r.Name] = perms
	}
	rules = append(rules, []string{p.adminRole, roleObjectPrefix + "*"})
	if _, err := e.AddPolicies(rules); err != nil {
		panic("rbac: add policies: " + err.Error())
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rolePerms = rp
	p.enforcer = e
}
