package outbox

import "example.com/repcount/internal/events"

const sessionCompletedSchema = `{
  "type": "object",
  "title": "ExerciseSessionCompleted",
  "properties": {
    "session_id": {"type": "string"},
    "tenant_id": {"type": "string"},
    "user_id": {"type": "string"},
    "exercise": {"type": "string"},
    "mode": {"type": "string", "enum": ["full", "basic"]},
    "end_reason": {"type": "string"},
    "total_frames": {"type": "integer"},
    "total_reps": {"type": "integer"},
    "duration_ms": {"type": "number"},
    "avg_elbow_angle": {"type": "number"},
    "avg_hip_angle": {"type": "number"},
    "last_feedback": {"type": "string"},
    "dataset_ready": {"type": "boolean"},
    "completed_at": {"type": "string", "format": "date-time"},
    "version": {"type": "string"}
  },
  "required": ["session_id", "tenant_id", "user_id", "exercise", "mode", "end_reason", "total_frames", "total_reps", "completed_at", "version"],
  "additionalProperties": false
}`

// SchemaCatalogEntry maps event type to schema definition.
type SchemaCatalogEntry struct {
	Schema string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	events.EventSessionCompleted: {
		Schema: sessionCompletedSchema,
	},
}
