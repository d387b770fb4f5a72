// internal/models/audit.go
package models

import "time"

type AuditEntry struct {
	ID           string                 `json:"id" db:"id"`
	EventType    string                 `json:"eventType" db:"event_type"`
	ResourceType string                 `json:"resourceType" db:"resource_type"`
	ResourceID   string                 `json:"resourceId" db:"resource_id"`
	ActorID      *string                `json:"actorId,omitempty" db:"actor_id"`
	Details      map[string]interface{} `json:"details" db:"details"`
	CreatedAt    time.Time              `json:"createdAt" db:"created_at"`
}
