package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiSink(t *testing.T) {
	t.Run("fans out", func(t *testing.T) {
		a, b := NewMemorySink(), NewMemorySink()
		m := NewMultiSink(a, b)

		require.NoError(t, m.Record(context.Background(), &Entry{ID: "1", Action: ActionRoleModified}))
		assert.Len(t, a.Entries(), 1)
		assert.Len(t, b.Entries(), 1)
		assert.NoError(t, m.Close())
	})

	t.Run("keeps writing when one sink fails", func(t *testing.T) {
		ok := NewMemorySink()
		m := NewMultiSink(failingSink{err: errors.New("boom")}, ok)

		err := m.Record(context.Background(), &Entry{ID: "1"})
		assert.ErrorContains(t, err, "boom")
		assert.Len(t, ok.Entries(), 1)
	})

	t.Run("empty", func(t *testing.T) {
		assert.NoError(t, NewMultiSink().Record(context.Background(), &Entry{}))
	})
}

func TestMemorySink_Filters(t *testing.T) {
	m := NewMemorySink()
	ctx := context.Background()
	m.Record(ctx, &Entry{Action: ActionSuspiciousActivity, Severity: SeverityCritical})
	m.Record(ctx, &Entry{Action: ActionPermissionCheck, Severity: SeverityLow})
	m.Record(ctx, &Entry{Action: ActionPermissionCheck, Severity: SeverityLow})

	assert.Len(t, m.ByAction(ActionPermissionCheck), 2)
	assert.Len(t, m.BySeverity(SeverityCritical), 1)

	m.Reset()
	assert.Empty(t, m.Entries())
}
