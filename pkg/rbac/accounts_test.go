package rbac

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rbacd/pkg/audit"
	"github.com/platinummonkey/rbacd/pkg/events"
)

func TestAssignRoles_AdminAssignsSupport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	outbox := events.NewOutbox(4)
	svc := NewAccountService(f.store, f.store, f.rec, outbox, nil)

	updated, err := svc.AssignRoles(ctx, f.users["admin"].ID, f.users["shopper"].ID, AssignRolesRequest{
		AssignedRoleID: &f.roles["support"].ID,
	})
	require.NoError(t, err)
	require.NotNil(t, updated.AssignedRole)
	assert.Equal(t, "support", updated.AssignedRole.Name)
	assert.Equal(t, "customer", updated.Role.Name)

	entries := f.sink.Entries()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, audit.ActionRoleModified, e.Action)
	assert.True(t, e.Success)
	assert.Equal(t, "PASSED", e.Meta(audit.MetaSecurityValidation))
	assert.Equal(t, "support", e.Meta("newAssignedRole"))
	assert.Equal(t, f.users["admin"].ID, *e.ActorID)

	outbox.Close()
	var got []events.Event
	outbox.Run(ctx, func(_ context.Context, ev events.Event) { got = append(got, ev) })
	require.Len(t, got, 1)
	assert.Equal(t, events.RoleAssigned, got[0].Kind)
	assert.ElementsMatch(t, []int64{f.roles["customer"].ID, f.roles["support"].ID}, got[0].RoleIDs)
}

func TestAssignRoles_AdminCannotGrantSuperAdmin(t *testing.T) {
	f := newFixture(t)
	svc := f.accounts()

	_, err := svc.AssignRoles(context.Background(), f.users["admin"].ID, f.users["shopper"].ID, AssignRolesRequest{
		AssignedRoleID: &f.roles["super_admin"].ID,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrForbidden))

	entries := f.sink.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionPrivilegeEscalationBlocked, entries[0].Action)
	assert.False(t, entries[0].Success)
	assert.Equal(t, int64(50), entries[0].Meta(audit.MetaAdminPriority))
	assert.Equal(t, 1000, entries[0].Meta(audit.MetaAttemptedRolePriority))

	assert.Nil(t, f.user(t, "shopper").AssignedRoleID)
}

func TestAssignRoles_SuperAdminCanGrantSuperAdmin(t *testing.T) {
	f := newFixture(t)
	updated, err := f.accounts().AssignRoles(context.Background(), f.users["root"].ID, f.users["admin"].ID, AssignRolesRequest{
		AssignedRoleID: &f.roles["super_admin"].ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "super_admin", updated.AssignedRole.Name)
}

func TestSelfModification_ExactlyOneCriticalEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.accounts()
	self := f.users["admin"].ID
	negative := int64(-5)

	calls := map[string]func() error{
		"assign valid":   func() error { _, err := svc.AssignRoles(ctx, self, self, AssignRolesRequest{RoleID: &f.roles["wholesale"].ID}); return err },
		"assign empty":   func() error { _, err := svc.AssignRoles(ctx, self, self, AssignRolesRequest{}); return err },
		"ban no reason":  func() error { _, err := svc.Ban(ctx, self, self, BanRequest{}); return err },
		"unban":          func() error { _, err := svc.Unban(ctx, self, self); return err },
		"suspend bad":    func() error { _, err := svc.Suspend(ctx, self, self, SuspendRequest{DurationSeconds: &negative}); return err },
		"unsuspend":      func() error { _, err := svc.Unsuspend(ctx, self, self); return err },
		"unknown target": func() error { _, err := svc.Ban(ctx, 9999, 9999, BanRequest{Reason: "repeated fraud reports"}); return err },
	}

	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			f.sink.Reset()
			err := call()
			assert.True(t, errors.Is(err, ErrForbidden), "got %v", err)

			entries := f.sink.Entries()
			require.Len(t, entries, 1)
			assert.Equal(t, audit.ActionSuspiciousActivity, entries[0].Action)
			assert.Equal(t, audit.SeverityCritical, entries[0].Severity)
		})
	}
}

func TestAssignRoles_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.accounts()
	actor, target := f.users["root"].ID, f.users["shopper"].ID

	_, err := svc.AssignRoles(ctx, actor, target, AssignRolesRequest{})
	assert.True(t, errors.Is(err, ErrBadRequest))

	_, err = svc.AssignRoles(ctx, actor, target, AssignRolesRequest{RoleID: idPtr(0)})
	assert.True(t, errors.Is(err, ErrBadRequest))

	_, err = svc.AssignRoles(ctx, actor, target, AssignRolesRequest{AssignedRoleID: &f.roles["support"].ID, RemoveAssignedRole: true})
	assert.True(t, errors.Is(err, ErrBadRequest))

	// business role in the admin slot and vice versa
	_, err = svc.AssignRoles(ctx, actor, target, AssignRolesRequest{AssignedRoleID: &f.roles["wholesale"].ID})
	assert.True(t, errors.Is(err, ErrBadRequest))
	_, err = svc.AssignRoles(ctx, actor, target, AssignRolesRequest{RoleID: &f.roles["support"].ID})
	assert.True(t, errors.Is(err, ErrBadRequest))

	_, err = svc.AssignRoles(ctx, actor, 9999, AssignRolesRequest{RoleID: &f.roles["wholesale"].ID})
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = svc.AssignRoles(ctx, actor, target, AssignRolesRequest{RoleID: idPtr(9999)})
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = svc.AssignRoles(ctx, 9999, target, AssignRolesRequest{RoleID: &f.roles["wholesale"].ID})
	assert.True(t, errors.Is(err, ErrForbidden))

	assert.Empty(t, f.sink.Entries())
}

func TestAssignRoles_RemoveAssignedRole(t *testing.T) {
	f := newFixture(t)
	updated, err := f.accounts().AssignRoles(context.Background(), f.users["root"].ID, f.users["support"].ID, AssignRolesRequest{
		RemoveAssignedRole: true,
	})
	require.NoError(t, err)
	assert.Nil(t, updated.AssignedRoleID)
	assert.Equal(t, "customer", updated.Role.Name)
}

func TestAssignRoles_PeerIsBlocked(t *testing.T) {
	f := newFixture(t)
	_, err := f.accounts().AssignRoles(context.Background(), f.users["admin"].ID, f.users["admin2"].ID, AssignRolesRequest{
		RoleID: &f.roles["wholesale"].ID,
	})
	assert.True(t, errors.Is(err, ErrForbidden))

	entries := f.sink.ByAction(audit.UnauthorizedAttempt(string(OpRoleModification)))
	require.Len(t, entries, 1)
	assert.Equal(t, int64(50), entries[0].Meta(audit.MetaActorRank))
	assert.Equal(t, int64(50), entries[0].Meta(audit.MetaTargetRank))
}

func TestBanLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.accounts()
	admin, shopper := f.users["admin"].ID, f.users["shopper"].ID

	_, err := svc.Ban(ctx, admin, shopper, BanRequest{Reason: "too short"})
	assert.True(t, errors.Is(err, ErrBadRequest))

	_, err = svc.Unban(ctx, admin, shopper)
	assert.True(t, errors.Is(err, ErrBadRequest))

	u, err := svc.Ban(ctx, admin, shopper, BanRequest{Reason: "  repeated chargeback fraud  "})
	require.NoError(t, err)
	require.NotNil(t, u.Restriction)
	assert.Equal(t, RestrictionBan, u.Restriction.Kind)
	assert.Equal(t, "repeated chargeback fraud", u.Restriction.Reason)
	assert.Nil(t, u.Restriction.ExpiresAt)
	assert.Equal(t, admin, u.Restriction.ImposedBy)

	_, err = svc.Ban(ctx, admin, shopper, BanRequest{Reason: "repeated chargeback fraud"})
	assert.True(t, errors.Is(err, ErrBadRequest))

	_, err = svc.Suspend(ctx, admin, shopper, SuspendRequest{})
	assert.True(t, errors.Is(err, ErrBadRequest))

	u, err = svc.Unban(ctx, admin, shopper)
	require.NoError(t, err)
	assert.Nil(t, u.Restriction)

	assert.Len(t, f.sink.ByAction(audit.ActionUserBanned), 1)
	assert.Len(t, f.sink.ByAction(audit.ActionUserUnbanned), 1)
}

func TestSuspendLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.accounts()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	support, shopper := f.users["support"].ID, f.users["shopper"].ID

	zero := int64(0)
	_, err := svc.Suspend(ctx, support, shopper, SuspendRequest{DurationSeconds: &zero})
	assert.True(t, errors.Is(err, ErrBadRequest))

	for _, d := range []int64{MaxSuspendSeconds + 1, 10_000_000_000} {
		_, err = svc.Suspend(ctx, support, shopper, SuspendRequest{DurationSeconds: &d})
		assert.True(t, errors.Is(err, ErrBadRequest), d)
	}
	assert.Empty(t, f.sink.ByAction(audit.ActionUserSuspended))
	assert.Nil(t, f.user(t, "shopper").Restriction)

	longest := int64(MaxSuspendSeconds)
	u, err := svc.Suspend(ctx, support, shopper, SuspendRequest{DurationSeconds: &longest})
	require.NoError(t, err)
	require.NotNil(t, u.Restriction.ExpiresAt)
	assert.True(t, u.Restriction.ExpiresAt.After(now))
	_, err = svc.Unsuspend(ctx, support, shopper)
	require.NoError(t, err)

	_, err = svc.Unsuspend(ctx, support, shopper)
	assert.True(t, errors.Is(err, ErrBadRequest))

	day := int64(24 * 60 * 60)
	u, err = svc.Suspend(ctx, support, shopper, SuspendRequest{Reason: "cooling off", DurationSeconds: &day})
	require.NoError(t, err)
	require.NotNil(t, u.Restriction)
	assert.Equal(t, RestrictionSuspend, u.Restriction.Kind)
	require.NotNil(t, u.Restriction.ExpiresAt)
	assert.True(t, now.Add(24*time.Hour).Equal(*u.Restriction.ExpiresAt))

	entries := f.sink.ByAction(audit.ActionUserSuspended)
	require.Len(t, entries, 2)
	assert.Equal(t, "2026-03-02T12:00:00Z", entries[1].Meta("expiresAt"))

	// a ban replaces the suspension
	u, err = svc.Ban(ctx, f.users["admin"].ID, shopper, BanRequest{Reason: "escalated after review"})
	require.NoError(t, err)
	assert.Equal(t, RestrictionBan, u.Restriction.Kind)
	assert.Nil(t, u.Restriction.ExpiresAt)

	_, err = svc.Unsuspend(ctx, support, shopper)
	assert.True(t, errors.Is(err, ErrBadRequest))
}

func TestUnsuspend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.accounts()
	admin, shopper := f.users["admin"].ID, f.users["shopper"].ID

	_, err := svc.Suspend(ctx, admin, shopper, SuspendRequest{})
	require.NoError(t, err)

	u, err := svc.Unsuspend(ctx, admin, shopper)
	require.NoError(t, err)
	assert.Nil(t, u.Restriction)
	assert.Len(t, f.sink.ByAction(audit.ActionUserUnsuspended), 1)
}

func TestSupportCannotBanAdmin(t *testing.T) {
	f := newFixture(t)
	_, err := f.accounts().Ban(context.Background(), f.users["support"].ID, f.users["admin"].ID, BanRequest{Reason: "disagreement escalated"})
	assert.True(t, errors.Is(err, ErrForbidden))
	assert.Equal(t, "insufficient privileges to modify this account", PublicMessage(err))
	assert.Len(t, f.sink.ByAction(audit.Action("UNAUTHORIZED_BAN_ATTEMPT")), 1)
	assert.Nil(t, f.user(t, "admin").Restriction)
}

func TestAuditFailureDoesNotFailMutation(t *testing.T) {
	f := newFixture(t)
	svc := NewAccountService(f.store, f.store, audit.NewRecorder(brokenSink{}, nil), nil, nil)

	u, err := svc.Ban(context.Background(), f.users["admin"].ID, f.users["shopper"].ID, BanRequest{Reason: "spam across listings"})
	require.NoError(t, err)
	assert.Equal(t, RestrictionBan, u.Restriction.Kind)

	_, err = svc.Ban(context.Background(), f.users["admin"].ID, f.users["admin"].ID, BanRequest{})
	assert.True(t, errors.Is(err, ErrForbidden))
}

type brokenSink struct{}

func (brokenSink) Record(context.Context, *audit.Entry) error { return errors.New("sink offline") }
func (brokenSink) Close() error                             { return nil }

func TestBan_ReasonBounds(t *testing.T) {
	tests := []struct {
		reason string
		ok     bool
	}{
		{"", false},
		{"123456789", false},
		{"   123456789   ", false},
		{"1234567890", true},
		{strings.Repeat("x", 500), true},
		{strings.Repeat("x", 501), false},
	}
	for _, tt := range tests {
		f := newFixture(t)
		_, err := f.accounts().Ban(context.Background(), f.users["admin"].ID, f.users["shopper"].ID, BanRequest{Reason: tt.reason})
		if tt.ok {
			assert.NoError(t, err, len(tt.reason))
		} else {
			assert.True(t, errors.Is(err, ErrBadRequest), len(tt.reason))
		}
	}
}
