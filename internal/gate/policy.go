package gate

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	accountentity "github.com/ovaphlow/pitchfork/service-election-auth/internal/account/entity"
)

const policyModel = `
[request_definition]
r = sub, obj

[policy_definition]
p = sub, obj

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch(r.obj, p.obj)
`

// role areas; a path outside every area needs only a valid session
var roleAreas = []string{"/api/admin", "/admin", "/metrics", "/officer", "/candidate", "/voter"}

var defaultPolicies = [][]string{
	{string(accountentity.RoleAdmin), "/admin"},
	{string(accountentity.RoleAdmin), "/admin/*"},
	{string(accountentity.RoleAdmin), "/api/admin/*"},
	{string(accountentity.RoleAdmin), "/metrics"},
	{string(accountentity.RoleElectionOfficer), "/officer"},
	{string(accountentity.RoleElectionOfficer), "/officer/*"},
	{string(accountentity.RoleElectionOfficer), "/api/admin/logs"},
	{string(accountentity.RoleCandidate), "/candidate"},
	{string(accountentity.RoleCandidate), "/candidate/*"},
	{string(accountentity.RoleVoter), "/voter"},
	{string(accountentity.RoleVoter), "/voter/*"},
}

// every role can vote; admins inherit officer access
var defaultGrouping = [][]string{
	{string(accountentity.RoleAdmin), string(accountentity.RoleElectionOfficer)},
	{string(accountentity.RoleElectionOfficer), string(accountentity.RoleVoter)},
	{string(accountentity.RoleCandidate), string(accountentity.RoleVoter)},
}

// Policy decides which role may enter which role area.
type Policy struct {
	enforcer *casbin.Enforcer
}

func NewPolicy() (*Policy, error) {
	m, err := model.NewModelFromString(policyModel)
	if err != nil {
		return nil, fmt.Errorf("policy model: %w", err)
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("policy enforcer: %w", err)
	}
	if _, err := e.AddPolicies(defaultPolicies); err != nil {
		return nil, fmt.Errorf("add policies: %w", err)
	}
	if _, err := e.AddGroupingPolicies(defaultGrouping); err != nil {
		return nil, fmt.Errorf("add grouping: %w", err)
	}
	return &Policy{enforcer: e}, nil
}

// InRoleArea reports whether path needs a role check at all.
func InRoleArea(path string) bool {
	for _, area := range roleAreas {
		if underPrefix(path, area) {
			return true
		}
	}
	return false
}

// Allowed fails closed: enforcement errors deny.
func (p *Policy) Allowed(role accountentity.Role, path string) bool {
	if !InRoleArea(path) {
		return true
	}
	ok, err := p.enforcer.Enforce(string(role), path)
	return err == nil && ok
}

// underPrefix matches prefix on a path-segment boundary.
func underPrefix(path, prefix string) bool {
	if len(path) < len(prefix) || path[:len(prefix)] != prefix {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
