package rbac

import (
	"strconv"

	"github.com/platinummonkey/rbacd/pkg/audit"
)

// Operation is an account mutation checked by the guard
type Operation string

const (
	OpRoleModification Operation = "ROLE_MODIFICATION"
	OpBan              Operation = "BAN"
	OpUnban            Operation = "UNBAN"
	OpSuspend          Operation = "SUSPEND"
	OpUnsuspend        Operation = "UNSUSPEND"
)

// Guard rules, used as the violation tag in audit metadata and as metric
// labels
const (
	RuleSelfModification     = "SELF_MODIFICATION_ATTEMPT"
	RuleHierarchy            = "HIERARCHY_VIOLATION_BLOCKED"
	RulePrivilegeEscalation  = "PRIVILEGE_ESCALATION_BLOCKED"
	RuleSuperAdminEscalation = "SUPER_ADMIN_ESCALATION_BLOCKED"
)

// Denial is a guard decision to block a mutation. Message is safe to return
// to the caller; Entry carries the full detail for the audit log.
type Denial struct {
	Rule    string
	Message string
	Entry   audit.Entry
}

// Err returns the forbidden error for the denial
func (d *Denial) Err() error {
	return forbidden(d.Message)
}

// CheckSelfModification blocks any operation an actor aims at their own
// account. It needs nothing but ids so it runs before anything is loaded.
func CheckSelfModification(op Operation, actorID, targetID int64) *Denial {
	if actorID != targetID {
		return nil
	}
	return &Denial{
		Rule:    RuleSelfModification,
		Message: "you cannot modify your own account",
		Entry: audit.Entry{
			ActorID:       int64Ptr(actorID),
			Action:        audit.ActionSuspiciousActivity,
			Severity:      audit.SeverityCritical,
			ResourceType:  audit.ResourceTypeUser,
			ResourceID:    strconv.FormatInt(targetID, 10),
			Success:       false,
			FailureReason: "self-modification attempt",
			Metadata: map[string]interface{}{
				audit.MetaViolation: RuleSelfModification,
				audit.MetaOperation: string(op),
			},
		},
	}
}

// Guard evaluates the hierarchy rules that need loaded users and roles
type Guard struct {
	// TopRoles are the system roles at the highest system priority
	TopRoles []Role
}

// NewGuard creates a guard protecting the top roles found in roles
func NewGuard(roles []Role) *Guard {
	return &Guard{TopRoles: TopRoles(roles)}
}

// Evaluate applies, in order: the target must rank strictly below the actor;
// no requested role may outrank the actor; a top role may only be granted by
// one of its holders. requested is empty for ban/suspend operations.
func (g *Guard) Evaluate(op Operation, actor, target *User, requested ...*Role) *Denial {
	actorRank := RankOf(actor)
	targetRank := RankOf(target)

	if !actorRank.Has() || targetRank >= actorRank {
		return &Denial{
			Rule:    RuleHierarchy,
			Message: "insufficient privileges to modify this account",
			Entry: audit.Entry{
				ActorID:       int64Ptr(actor.ID),
				Action:        audit.UnauthorizedAttempt(string(op)),
				Severity:      audit.SeverityHigh,
				ResourceType:  audit.ResourceTypeUser,
				ResourceID:    strconv.FormatInt(target.ID, 10),
				FailureReason: "target rank is not below actor rank",
				Metadata: map[string]interface{}{
					audit.MetaViolation:  RuleHierarchy,
					audit.MetaOperation:  string(op),
					audit.MetaActorRank:  actorRank.Value(),
					audit.MetaTargetRank: targetRank.Value(),
				},
			},
		}
	}

	for _, role := range requested {
		if role == nil {
			continue
		}
		if Rank(role.Priority) > actorRank {
			return &Denial{
				Rule:    RulePrivilegeEscalation,
				Message: "you cannot assign a role that outranks your own",
				Entry: audit.Entry{
					ActorID:       int64Ptr(actor.ID),
					Action:        audit.ActionPrivilegeEscalationBlocked,
					Severity:      audit.SeverityHigh,
					ResourceType:  audit.ResourceTypeUser,
					ResourceID:    strconv.FormatInt(target.ID, 10),
					FailureReason: "attempted role outranks actor",
					Metadata: map[string]interface{}{
						audit.MetaViolation:             RulePrivilegeEscalation,
						audit.MetaOperation:             string(op),
						audit.MetaAdminPriority:         actorRank.Value(),
						audit.MetaAttemptedRolePriority: role.Priority,
						"attemptedRole":                 role.Name,
					},
				},
			}
		}
	}

	for _, role := range requested {
		if role == nil || !g.isTopRole(role.ID) || actor.HoldsRole(role.ID) {
			continue
		}
		return &Denial{
			Rule:    RuleSuperAdminEscalation,
			Message: "only holders of this role can assign it",
			Entry: audit.Entry{
				ActorID:       int64Ptr(actor.ID),
				Action:        audit.ActionSuperAdminEscalation,
				Severity:      audit.SeverityCritical,
				ResourceType:  audit.ResourceTypeUser,
				ResourceID:    strconv.FormatInt(target.ID, 10),
				FailureReason: "top-ranked role assigned by a non-holder",
				Metadata: map[string]interface{}{
					audit.MetaViolation:             RuleSuperAdminEscalation,
					audit.MetaOperation:             string(op),
					audit.MetaAdminPriority:         actorRank.Value(),
					audit.MetaAttemptedRolePriority: role.Priority,
					"attemptedRole":                 role.Name,
				},
			},
		}
	}

	return nil
}

func (g *Guard) isTopRole(id int64) bool {
	for _, r := range g.TopRoles {
		if r.ID == id {
			return true
		}
	}
	return false
}

// TopRoles returns the system roles sharing the highest system priority
func TopRoles(roles []Role) []Role {
	var top []Role
	best := 0
	for _, r := range roles {
		if !r.IsSystem {
			continue
		}
		switch {
		case len(top) == 0 || r.Priority > best:
			top = []Role{r}
			best = r.Priority
		case r.Priority == best:
			top = append(top, r)
		}
	}
	return top
}

func int64Ptr(v int64) *int64 {
	return &v
}
