package outbox

import "example.com/stepsync/internal/events"

const stepsRecordedSchema = `{
  "type": "object",
  "title": "StepsRecorded",
  "properties": {
    "user_id": {"type": "string"},
    "date": {"type": "string", "format": "date"},
    "steps": {"type": "integer", "minimum": 0},
    "distance_meters": {"type": "number", "minimum": 0},
    "calories_kcal": {"type": "number", "minimum": 0},
    "step_target": {"type": "integer", "minimum": 1},
    "recorded_at": {"type": "string", "format": "date-time"}
  },
  "required": ["user_id", "date", "steps", "distance_meters", "calories_kcal", "step_target", "recorded_at"],
  "additionalProperties": false
}`

// SchemaCatalogEntry maps event type to schema definition.
type SchemaCatalogEntry struct {
	Schema string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	events.StepsRecordedType: {
		Schema: stepsRecordedSchema,
	},
}
