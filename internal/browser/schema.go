package browser

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// eventSchema constrains bridge events before they reach the tracker.
// The bridge is the least trusted input source; malformed events are
// dropped at the boundary rather than handled downstream.
const eventSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["kind"],
  "properties": {
    "kind": {
      "enum": ["tab_activated", "tab_updated", "tab_loaded", "window_focus", "idle_state", "snapshot"]
    },
    "tab_id": {"type": "integer", "minimum": 0},
    "url": {"type": "string", "maxLength": 8192},
    "focused": {"type": "boolean"},
    "idle_state": {"enum": ["active", "idle", "locked"]}
  },
  "additionalProperties": false
}`

var compiledEventSchema = jsonschema.MustCompileString("event.schema.json", eventSchema)

// ParseEvent validates raw bridge JSON against the event schema and
// decodes it.
func ParseEvent(data []byte) (Event, error) {
	var instance any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&instance); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}

	if err := compiledEventSchema.Validate(instance); err != nil {
		return Event{}, fmt.Errorf("validate event: %w", err)
	}

	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return ev, nil
}
