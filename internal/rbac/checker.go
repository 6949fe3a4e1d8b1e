package rbac

import (
	"context"
	"strings"
)

// Checker answers permission questions for a role policy. Grants are exact
// ("quiz:generate"), prefix wildcards ("attempt:*") or "*".
type Checker struct {
	exact  map[string]map[string]bool
	prefix map[string][]string
}

// NewChecker compiles rp. A nil policy means RolePermissions.
func NewChecker(rp map[string][]string) *Checker {
	if rp == nil {
		rp = RolePermissions
	}
	c := &Checker{exact: map[string]map[string]bool{}, prefix: map[string][]string{}}
	for role, grants := range rp {
		c.exact[role] = map[string]bool{}
		for _, g := range grants {
			if p, ok := strings.CutSuffix(g, "*"); ok {
				c.prefix[role] = append(c.prefix[role], p)
				continue
			}
			c.exact[role][g] = true
		}
	}
	return c
}

func (c *Checker) Has(role, perm string) bool {
	if c.exact[role][perm] {
		return true
	}
	for _, p := range c.prefix[role] {
		if strings.HasPrefix(perm, p) {
			return true
		}
	}
	return false
}

type roleKey struct{}

func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey{}, role)
}

// RoleFromContext returns "" when no role was attached.
func RoleFromContext(ctx context.Context) string {
	s, _ := ctx.Value(roleKey{}).(string)
	return s
}
