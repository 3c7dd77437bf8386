package rbac

import (
	"context"
	"time"

	"github.com/platinummonkey/rbacd/pkg/audit"
	"github.com/platinummonkey/rbacd/pkg/observability"
)

// CheckRequest describes one request-time access decision
type CheckRequest struct {
	// Actor is nil for anonymous requests
	Actor  *User
	Route  RouteKey
	Public bool
	IP     string
}

// Decision is the outcome of a check
type Decision struct {
	Allowed    bool
	Permission string
	Reason     string
}

// Decision labels
const (
	DecisionPublic  = "public"
	DecisionAllow   = "allow"
	DecisionDeny    = "deny"
	DecisionUnknown = "unmapped"
)

// Checker decides whether an actor may call a route: the route's required
// permission is looked up once, the actor's effective permissions are
// resolved, and every non-public decision is audited
type Checker struct {
	routes   *RouteRequirements
	resolver *Resolver
	recorder *audit.Recorder
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewChecker creates a checker. metrics may be nil.
func NewChecker(routes *RouteRequirements, resolver *Resolver, recorder *audit.Recorder, metrics *observability.Metrics) *Checker {
	if recorder == nil {
		recorder = audit.NewRecorder(nil, nil)
	}
	return &Checker{routes: routes, resolver: resolver, recorder: recorder, metrics: metrics, now: time.Now}
}

// Resolver returns the permission resolver
func (c *Checker) Resolver() *Resolver {
	return c.resolver
}

// CheckRoute returns the decision for req. Routes that were never seeded or
// have no permission fail closed. An error is returned only when the
// decision could not be made; such requests must be denied by the caller.
func (c *Checker) CheckRoute(ctx context.Context, req CheckRequest) (Decision, error) {
	if req.Public {
		c.metrics.PermissionCheck(DecisionPublic)
		return Decision{Allowed: true, Reason: "public route"}, nil
	}

	requirement, err := c.routes.Lookup(ctx, req.Route)
	if err != nil {
		c.metrics.PermissionCheck(DecisionDeny)
		return Decision{Reason: "requirement lookup failed"}, err
	}

	decision := Decision{Permission: requirement.Permission}
	switch {
	case !requirement.Known || requirement.Permission == "":
		decision.Reason = "route has no permission mapping"
		c.metrics.PermissionCheck(DecisionUnknown)
	case req.Actor == nil:
		decision.Reason = "authentication required"
		c.metrics.PermissionCheck(DecisionDeny)
	case req.Actor.Restriction.Active(c.now()):
		decision.Reason = "account is " + restrictionState(req.Actor.Restriction.Kind)
		c.metrics.PermissionCheck(DecisionDeny)
	default:
		allowed, err := c.resolver.Has(ctx, req.Actor, requirement.Permission)
		if err != nil {
			c.metrics.PermissionCheck(DecisionDeny)
			return Decision{Permission: requirement.Permission, Reason: "permission resolution failed"}, err
		}
		decision.Allowed = allowed
		if allowed {
			decision.Reason = "permission granted"
			c.metrics.PermissionCheck(DecisionAllow)
		} else {
			decision.Reason = "missing permission"
			c.metrics.PermissionCheck(DecisionDeny)
		}
	}

	c.audit(ctx, req, decision)
	return decision, nil
}

func (c *Checker) audit(ctx context.Context, req CheckRequest, d Decision) {
	entry := &audit.Entry{
		Action:       audit.ActionPermissionCheck,
		Severity:     audit.SeverityLow,
		ResourceType: audit.ResourceTypeRoute,
		ResourceID:   req.Route.String(),
		Permission:   d.Permission,
		Success:      d.Allowed,
		IPAddress:    req.IP,
		Metadata: map[string]interface{}{
			"method": req.Route.Method,
			"path":   req.Route.Path,
		},
	}
	if req.Actor != nil {
		entry.ActorID = int64Ptr(req.Actor.ID)
	}
	if !d.Allowed {
		entry.FailureReason = d.Reason
		entry.Severity = audit.SeverityMedium
	}
	c.recorder.Record(ctx, entry)
}

func restrictionState(k RestrictionKind) string {
	if k == RestrictionBan {
		return "banned"
	}
	return "suspended"
}
