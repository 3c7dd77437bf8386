package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// DBSink writes entries to the security_audit_log table created by the
// rbac migrations
type DBSink struct {
	db *sql.DB
}

// NewDBSink creates a database sink
func NewDBSink(db *sql.DB) (*DBSink, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBSink{db: db}, nil
}

// Record inserts an entry
func (s *DBSink) Record(ctx context.Context, e *Entry) error {
	var metadata sql.NullString
	if len(e.Metadata) > 0 {
		data, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = sql.NullString{String: string(data), Valid: true}
	}

	var actorID sql.NullInt64
	if e.ActorID != nil {
		actorID = sql.NullInt64{Int64: *e.ActorID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO security_audit_log (
			id, timestamp, actor_id, action, severity,
			resource_type, resource_id, permission,
			success, failure_reason, request_id, ip_address, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.Timestamp, actorID, string(e.Action), string(e.Severity),
		string(e.ResourceType), e.ResourceID, e.Permission,
		e.Success, e.FailureReason, e.RequestID, e.IPAddress, metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// Search returns entries matching filter, newest first
func (s *DBSink) Search(ctx context.Context, filter Filter) ([]Entry, error) {
	var conds []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.ActorID != nil {
		add("actor_id = $%d", *filter.ActorID)
	}
	if filter.Action != "" {
		add("action = $%d", string(filter.Action))
	}
	if filter.Since != nil {
		add("timestamp >= $%d", filter.Since.UTC())
	}
	if filter.Success != nil {
		add("success = $%d", *filter.Success)
	}

	query := `
		SELECT id, timestamp, actor_id, action, severity, resource_type, resource_id,
		       permission, success, failure_reason, request_id, ip_address, metadata
		FROM security_audit_log`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit log: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var actorID sql.NullInt64
		var action, severity string
		var resourceType, resourceID, permission, failureReason, requestID, ip, metadata sql.NullString
		if err := rows.Scan(
			&e.ID, &e.Timestamp, &actorID, &action, &severity, &resourceType, &resourceID,
			&permission, &e.Success, &failureReason, &requestID, &ip, &metadata,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if actorID.Valid {
			id := actorID.Int64
			e.ActorID = &id
		}
		e.Action = Action(action)
		e.Severity = Severity(severity)
		e.ResourceType = ResourceType(resourceType.String)
		e.ResourceID = resourceID.String
		e.Permission = permission.String
		e.FailureReason = failureReason.String
		e.RequestID = requestID.String
		e.IPAddress = ip.String
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode audit metadata: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close is a no-op; the database handle is owned by the caller
func (s *DBSink) Close() error {
	return nil
}
