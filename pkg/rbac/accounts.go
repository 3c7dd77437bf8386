package rbac

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/rbacd/pkg/audit"
	"github.com/platinummonkey/rbacd/pkg/events"
	"github.com/platinummonkey/rbacd/pkg/observability"
)

var tracer = otel.Tracer("github.com/platinummonkey/rbacd/pkg/rbac")

// AssignRolesRequest changes one or both role slots of an account
type AssignRolesRequest struct {
	RoleID         *int64 `json:"roleId,omitempty" validate:"omitempty,gt=0"`
	AssignedRoleID *int64 `json:"assignedRoleId,omitempty" validate:"omitempty,gt=0"`
	// RemoveAssignedRole clears the admin slot; it cannot be combined with
	// AssignedRoleID
	RemoveAssignedRole bool `json:"removeAssignedRole,omitempty"`
}

// BanRequest bans an account
type BanRequest struct {
	Reason string `json:"reason" validate:"required,min=10,max=500"`
}

// MaxSuspendSeconds caps a timed suspension at ten years
const MaxSuspendSeconds = 10 * 365 * 24 * 60 * 60

// SuspendRequest suspends an account, indefinitely when DurationSeconds is
// absent
type SuspendRequest struct {
	Reason          string `json:"reason" validate:"omitempty,max=500"`
	DurationSeconds *int64 `json:"durationSeconds,omitempty" validate:"omitempty,gt=0,max=315360000"`
}

// AccountService performs guarded account mutations: role assignment, ban,
// unban, suspend and unsuspend
type AccountService struct {
	access   AccessStore
	users    UserStore
	recorder *audit.Recorder
	events   events.Publisher
	metrics  *observability.Metrics
	validate *validator.Validate
	now      func() time.Time
}

// NewAccountService creates the service. publisher and metrics may be nil.
func NewAccountService(access AccessStore, users UserStore, recorder *audit.Recorder, publisher events.Publisher, metrics *observability.Metrics) *AccountService {
	if publisher == nil {
		publisher = events.Discard{}
	}
	if recorder == nil {
		recorder = audit.NewRecorder(nil, nil)
	}
	return &AccountService{
		access:   access,
		users:    users,
		recorder: recorder,
		events:   publisher,
		metrics:  metrics,
		validate: validator.New(),
		now:      time.Now,
	}
}

// AssignRoles sets the business role and/or admin role of target
func (s *AccountService) AssignRoles(ctx context.Context, actorID, targetID int64, req AssignRolesRequest) (user *User, err error) {
	ctx, span := s.startSpan(ctx, OpRoleModification, actorID, targetID)
	defer func() { endSpan(span, err) }()

	if d := CheckSelfModification(OpRoleModification, actorID, targetID); d != nil {
		return nil, s.deny(ctx, d)
	}
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	if req.RoleID == nil && req.AssignedRoleID == nil && !req.RemoveAssignedRole {
		return nil, badRequest("roleId or assignedRoleId is required")
	}
	if req.AssignedRoleID != nil && req.RemoveAssignedRole {
		return nil, badRequest("assignedRoleId cannot be combined with removeAssignedRole")
	}

	actor, target, err := s.loadPair(ctx, actorID, targetID)
	if err != nil {
		return nil, err
	}

	var requested []*Role
	var newRole, newAssigned *Role
	if req.RoleID != nil {
		if newRole, err = s.access.GetRole(ctx, *req.RoleID); err != nil {
			return nil, err
		}
		if newRole.Type != RoleTypeBusiness {
			return nil, badRequest("roleId must reference a business role")
		}
		requested = append(requested, newRole)
	}
	if req.AssignedRoleID != nil {
		if newAssigned, err = s.access.GetRole(ctx, *req.AssignedRoleID); err != nil {
			return nil, err
		}
		if newAssigned.Type != RoleTypeAdmin {
			return nil, badRequest("assignedRoleId must reference an admin role")
		}
		requested = append(requested, newAssigned)
	}

	guard, err := s.guard(ctx)
	if err != nil {
		return nil, err
	}
	if d := guard.Evaluate(OpRoleModification, actor, target, requested...); d != nil {
		return nil, s.deny(ctx, d)
	}

	roleID := target.RoleID
	assignedRoleID := target.AssignedRoleID
	if newRole != nil {
		roleID = &newRole.ID
	}
	if newAssigned != nil {
		assignedRoleID = &newAssigned.ID
	}
	if req.RemoveAssignedRole {
		assignedRoleID = nil
	}

	if err := s.users.UpdateUserRoles(ctx, target.ID, roleID, assignedRoleID); err != nil {
		return nil, err
	}

	updated, err := s.users.GetUser(ctx, target.ID)
	if err != nil {
		return nil, err
	}

	meta := s.passedMeta(OpRoleModification, actor, target)
	meta["previousRole"] = roleName(target.Role)
	meta["previousAssignedRole"] = roleName(target.AssignedRole)
	meta["newRole"] = roleName(updated.Role)
	meta["newAssignedRole"] = roleName(updated.AssignedRole)
	s.succeed(ctx, OpRoleModification, audit.ActionRoleModified, actor, target, meta)

	s.events.Publish(events.Event{
		Kind:    events.RoleAssigned,
		UserID:  target.ID,
		ActorID: actor.ID,
		RoleIDs: updated.RoleIDs(),
	})
	return updated, nil
}

// Ban bans target. A ban replaces any suspension.
func (s *AccountService) Ban(ctx context.Context, actorID, targetID int64, req BanRequest) (user *User, err error) {
	ctx, span := s.startSpan(ctx, OpBan, actorID, targetID)
	defer func() { endSpan(span, err) }()

	if d := CheckSelfModification(OpBan, actorID, targetID); d != nil {
		return nil, s.deny(ctx, d)
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}

	actor, target, err := s.loadGuarded(ctx, OpBan, actorID, targetID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if r := target.Restriction; r != nil && r.Kind == RestrictionBan {
		return nil, badRequest("user is already banned")
	}

	restriction := &Restriction{Kind: RestrictionBan, Reason: req.Reason, ImposedBy: actor.ID, ImposedAt: now}
	return s.restrict(ctx, OpBan, audit.ActionUserBanned, actor, target, restriction)
}

// Unban lifts a ban
func (s *AccountService) Unban(ctx context.Context, actorID, targetID int64) (user *User, err error) {
	ctx, span := s.startSpan(ctx, OpUnban, actorID, targetID)
	defer func() { endSpan(span, err) }()

	if d := CheckSelfModification(OpUnban, actorID, targetID); d != nil {
		return nil, s.deny(ctx, d)
	}

	actor, target, err := s.loadGuarded(ctx, OpUnban, actorID, targetID)
	if err != nil {
		return nil, err
	}
	if r := target.Restriction; r == nil || r.Kind != RestrictionBan {
		return nil, badRequest("user is not banned")
	}
	return s.restrict(ctx, OpUnban, audit.ActionUserUnbanned, actor, target, nil)
}

// Suspend suspends target, replacing any earlier suspension. Expired
// suspensions are swept elsewhere; the engine only sets the expiry.
func (s *AccountService) Suspend(ctx context.Context, actorID, targetID int64, req SuspendRequest) (user *User, err error) {
	ctx, span := s.startSpan(ctx, OpSuspend, actorID, targetID)
	defer func() { endSpan(span, err) }()

	if d := CheckSelfModification(OpSuspend, actorID, targetID); d != nil {
		return nil, s.deny(ctx, d)
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}

	actor, target, err := s.loadGuarded(ctx, OpSuspend, actorID, targetID)
	if err != nil {
		return nil, err
	}
	if r := target.Restriction; r != nil && r.Kind == RestrictionBan {
		return nil, badRequest("user is banned")
	}

	now := s.now().UTC()
	restriction := &Restriction{Kind: RestrictionSuspend, Reason: req.Reason, ImposedBy: actor.ID, ImposedAt: now}
	if req.DurationSeconds != nil {
		expires := now.Add(time.Duration(*req.DurationSeconds) * time.Second)
		restriction.ExpiresAt = &expires
	}
	return s.restrict(ctx, OpSuspend, audit.ActionUserSuspended, actor, target, restriction)
}

// Unsuspend lifts a suspension
func (s *AccountService) Unsuspend(ctx context.Context, actorID, targetID int64) (user *User, err error) {
	ctx, span := s.startSpan(ctx, OpUnsuspend, actorID, targetID)
	defer func() { endSpan(span, err) }()

	if d := CheckSelfModification(OpUnsuspend, actorID, targetID); d != nil {
		return nil, s.deny(ctx, d)
	}

	actor, target, err := s.loadGuarded(ctx, OpUnsuspend, actorID, targetID)
	if err != nil {
		return nil, err
	}
	if r := target.Restriction; r == nil || r.Kind != RestrictionSuspend {
		return nil, badRequest("user is not suspended")
	}
	return s.restrict(ctx, OpUnsuspend, audit.ActionUserUnsuspended, actor, target, nil)
}

// loadGuarded loads both users and applies the hierarchy rule
func (s *AccountService) loadGuarded(ctx context.Context, op Operation, actorID, targetID int64) (*User, *User, error) {
	actor, target, err := s.loadPair(ctx, actorID, targetID)
	if err != nil {
		return nil, nil, err
	}
	guard, err := s.guard(ctx)
	if err != nil {
		return nil, nil, err
	}
	if d := guard.Evaluate(op, actor, target); d != nil {
		return nil, nil, s.deny(ctx, d)
	}
	return actor, target, nil
}

func (s *AccountService) restrict(ctx context.Context, op Operation, action audit.Action, actor, target *User, r *Restriction) (*User, error) {
	if err := s.users.SetRestriction(ctx, target.ID, r); err != nil {
		return nil, err
	}
	updated, err := s.users.GetUser(ctx, target.ID)
	if err != nil {
		return nil, err
	}

	meta := s.passedMeta(op, actor, target)
	kind := events.AccountRestored
	if r != nil {
		kind = events.AccountRestricted
		if r.Reason != "" {
			meta["reason"] = r.Reason
		}
		if r.ExpiresAt != nil {
			meta["expiresAt"] = r.ExpiresAt.Format(time.RFC3339)
		}
	}
	s.succeed(ctx, op, action, actor, target, meta)

	s.events.Publish(events.Event{Kind: kind, UserID: target.ID, ActorID: actor.ID, Detail: string(op)})
	return updated, nil
}

// loadPair loads target then actor. A missing target is not-found; a
// missing actor is treated as unauthorized.
func (s *AccountService) loadPair(ctx context.Context, actorID, targetID int64) (*User, *User, error) {
	target, err := s.users.GetUser(ctx, targetID)
	if err != nil {
		return nil, nil, err
	}
	actor, err := s.users.GetUser(ctx, actorID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil, forbidden("actor is not recognized")
	}
	if err != nil {
		return nil, nil, err
	}
	return actor, target, nil
}

func (s *AccountService) guard(ctx context.Context) (*Guard, error) {
	roles, err := s.access.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	return NewGuard(roles), nil
}

func (s *AccountService) deny(ctx context.Context, d *Denial) error {
	entry := d.Entry
	s.recorder.Record(ctx, &entry)
	s.metrics.GuardDenied(d.Rule)
	logger := observability.FromContext(ctx)
	if entry.ActorID != nil {
		logger = logger.WithActor(*entry.ActorID)
	}
	logger.WithFields(map[string]interface{}{
		"rule":   d.Rule,
		"action": string(entry.Action),
		"target": entry.ResourceID,
	}).Warn("account mutation blocked by hierarchy guard")
	return d.Err()
}

func (s *AccountService) passedMeta(op Operation, actor, target *User) map[string]interface{} {
	return map[string]interface{}{
		audit.MetaSecurityValidation: "PASSED",
		audit.MetaOperation:          string(op),
		audit.MetaActorRank:          RankOf(actor).Value(),
		audit.MetaTargetRank:         RankOf(target).Value(),
	}
}

func (s *AccountService) succeed(ctx context.Context, op Operation, action audit.Action, actor, target *User, meta map[string]interface{}) {
	s.recorder.Record(ctx, &audit.Entry{
		ActorID:      int64Ptr(actor.ID),
		Action:       action,
		Severity:     audit.SeverityMedium,
		ResourceType: audit.ResourceTypeUser,
		ResourceID:   strconv.FormatInt(target.ID, 10),
		Success:      true,
		Metadata:     meta,
	})
	s.metrics.AccountChanged(string(op))
}

func (s *AccountService) validateStruct(v interface{}) error {
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return badRequest("invalid %s: failed %s validation", lowerFirst(fe.Field()), fe.Tag())
		}
		return badRequest("invalid request")
	}
	return nil
}

func (s *AccountService) startSpan(ctx context.Context, op Operation, actorID, targetID int64) (context.Context, trace.Span) {
	return tracer.Start(ctx, "AccountService."+string(op),
		trace.WithAttributes(
			attribute.Int64("rbac.actor_id", actorID),
			attribute.Int64("rbac.target_id", targetID),
		),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
	}
	span.End()
}

func roleName(r *Role) interface{} {
	if r == nil {
		return nil
	}
	return r.Name
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
