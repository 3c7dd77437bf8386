package audit

import (
	"encoding/json"
	"time"
)

// Action names the kind of security event being recorded
type Action string

const (
	ActionPermissionCheck            Action = "PERMISSION_CHECK"
	ActionRoleModified               Action = "ROLE_MODIFIED"
	ActionUserBanned                 Action = "USER_BANNED"
	ActionUserUnbanned               Action = "USER_UNBANNED"
	ActionUserSuspended              Action = "USER_SUSPENDED"
	ActionUserUnsuspended            Action = "USER_UNSUSPENDED"
	ActionSuspiciousActivity         Action = "SUSPICIOUS_ACTIVITY"
	ActionPrivilegeEscalationBlocked Action = "PRIVILEGE_ESCALATION_BLOCKED"
	ActionSuperAdminEscalation       Action = "SUPER_ADMIN_ESCALATION_BLOCKED"
	ActionPermissionDeleted          Action = "PERMISSION_DELETED"
	ActionAccessControlReset         Action = "ACCESS_CONTROL_RESET"
)

// UnauthorizedAttempt returns the action recorded when a hierarchy check
// blocks op, e.g. UNAUTHORIZED_BAN_ATTEMPT
func UnauthorizedAttempt(op string) Action {
	return Action("UNAUTHORIZED_" + op + "_ATTEMPT")
}

// Severity grades an entry for alerting
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// ResourceType is the kind of object an entry targets
type ResourceType string

const (
	ResourceTypeUser       ResourceType = "user"
	ResourceTypeRoute      ResourceType = "route"
	ResourceTypePermission ResourceType = "permission"
	ResourceTypeRole       ResourceType = "role"
	ResourceTypeSystem     ResourceType = "system"
)

// Well-known metadata keys
const (
	MetaViolation             = "violation"
	MetaActorRank             = "actorRank"
	MetaTargetRank            = "targetRank"
	MetaAdminPriority         = "adminPriority"
	MetaAttemptedRolePriority = "attemptedRolePriority"
	MetaSecurityValidation    = "securityValidation"
	MetaOperation             = "operation"
)

// Entry is one security audit log record
type Entry struct {
	ID            string                 `json:"id"`
	Timestamp     time.Time              `json:"timestamp"`
	ActorID       *int64                 `json:"actor_id,omitempty"`
	Action        Action                 `json:"action"`
	Severity      Severity               `json:"severity"`
	ResourceType  ResourceType           `json:"resource_type,omitempty"`
	ResourceID    string                 `json:"resource_id,omitempty"`
	Permission    string                 `json:"permission,omitempty"`
	Success       bool                   `json:"success"`
	FailureReason string                 `json:"failure_reason,omitempty"`
	RequestID     string                 `json:"request_id,omitempty"`
	IPAddress     string                 `json:"ip_address,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON converts the entry to JSON
func (e *Entry) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an entry from JSON
func FromJSON(data []byte) (*Entry, error) {
	var e Entry
	err := json.Unmarshal(data, &e)
	return &e, err
}

// Meta returns a metadata value, nil when absent
func (e *Entry) Meta(key string) interface{} {
	if e.Metadata == nil {
		return nil
	}
	return e.Metadata[key]
}

// Filter narrows a search over stored entries
type Filter struct {
	ActorID *int64
	Action  Action
	Since   *time.Time
	Success *bool
	Limit   int
}
