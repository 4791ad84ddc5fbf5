package authz

import (
	"digitalstore/pkg/config"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("authz", fx.Provide(NewEnforcer))

// defaultModel is used when no ACCESS_CONTROL files are configured. The
// single built-in rule grants the admin role every object and action,
// which is the administrative capability over orders and entitlements.
const defaultModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && keyMatch(r.obj, p.obj) && keyMatch(r.act, p.act)
`

type Enforcer struct {
	enforcer *casbin.Enforcer
}

func NewEnforcer(cfg *config.Config) (*Enforcer, error) {
	if cfg.AccessControl.Model != "" && cfg.AccessControl.Policy != "" {
		e, err := casbin.NewEnforcer(cfg.AccessControl.Model, cfg.AccessControl.Policy)
		if err != nil {
			return nil, err
		}
		return &Enforcer{enforcer: e}, nil
	}

	m, err := model.NewModelFromString(defaultModel)
	if err != nil {
		return nil, err
	}

	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}

	if _, err := e.AddPolicy("admin", "*", "*"); err != nil {
		return nil, err
	}

	return &Enforcer{enforcer: e}, nil
}

// Allow reports whether any of the caller's roles grants act on obj.
func (a *Enforcer) Allow(roles []string, obj, act string) bool {
	for _, role := range roles {
		ok, err := a.enforcer.Enforce(role, obj, act)
		if err != nil {
			zap.L().Error("authz enforce failed", zap.String("role", role), zap.Error(err))
			continue
		}
		if ok {
			return true
		}
	}
	return false
}
