package rbac

import (
	"context"
	"strconv"

	"github.com/platinummonkey/rbacd/pkg/audit"
	"github.com/platinummonkey/rbacd/pkg/events"
)

// PermissionService exposes the permission operations available outside
// seeding
type PermissionService struct {
	store    AccessStore
	recorder *audit.Recorder
	events   events.Publisher
}

// NewPermissionService creates the service. publisher may be nil.
func NewPermissionService(store AccessStore, recorder *audit.Recorder, publisher events.Publisher) *PermissionService {
	if publisher == nil {
		publisher = events.Discard{}
	}
	if recorder == nil {
		recorder = audit.NewRecorder(nil, nil)
	}
	return &PermissionService{store: store, recorder: recorder, events: publisher}
}

// Delete removes a non-system permission. Deleting a system permission is
// forbidden and audited.
func (s *PermissionService) Delete(ctx context.Context, actorID int64, name string) error {
	p, err := s.store.GetPermissionByName(ctx, name)
	if err != nil {
		return err
	}

	entry := &audit.Entry{
		ActorID:      int64Ptr(actorID),
		Action:       audit.ActionPermissionDeleted,
		Severity:     audit.SeverityMedium,
		ResourceType: audit.ResourceTypePermission,
		ResourceID:   strconv.FormatInt(p.ID, 10),
		Permission:   p.Name,
	}

	if err := s.store.DeletePermission(ctx, p.ID); err != nil {
		if KindOf(err) == KindForbidden {
			entry.Severity = audit.SeverityHigh
			entry.FailureReason = "system permission"
			s.recorder.Record(ctx, entry)
		}
		return err
	}

	entry.Success = true
	s.recorder.Record(ctx, entry)
	s.events.Publish(events.Event{Kind: events.PermissionDeleted, ActorID: actorID, Detail: p.Name})
	return nil
}
