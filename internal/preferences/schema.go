package preferences

import (
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

const maxBoost = 5.0

var (
	resolveOnce sync.Once
	resolved    *jsonschema.Resolved
	resolveErr  error
)

func ptr[T any](v T) *T { return &v }

// Schema returns the JSON Schema every stored record must satisfy.
func Schema() *jsonschema.Schema {
	clock := `^([01][0-9]|2[0-3]):[0-5][0-9]$`
	boost := &jsonschema.Schema{Type: "number", Minimum: ptr(0.0), Maximum: ptr(maxBoost)}
	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"enabled", "defaultBoost", "zones", "notificationPreferences", "version", "updatedAt"},
		Properties: map[string]*jsonschema.Schema{
			"enabled":      {Type: "boolean"},
			"defaultBoost": boost,
			"zones": {
				Type: "array",
				Items: &jsonschema.Schema{
					Type:     "object",
					Required: []string{"roomId", "roomName", "enabled", "boost"},
					Properties: map[string]*jsonschema.Schema{
						"roomId":   {Type: "string", MinLength: ptr(1)},
						"roomName": {Type: "string"},
						"enabled":  {Type: "boolean"},
						"boost":    boost,
					},
				},
			},
			"notificationPreferences": {
				Type:     "object",
				Required: []string{"maintenance", "coordination"},
				Properties: map[string]*jsonschema.Schema{
					"maintenance":     {Type: "boolean"},
					"coordination":    {Type: "boolean"},
					"quietHoursStart": {Type: "string", Pattern: clock},
					"quietHoursEnd":   {Type: "string", Pattern: clock},
				},
			},
			"version":   {Type: "integer", Minimum: ptr(1.0)},
			"updatedAt": {Type: "string", MinLength: ptr(1)},
		},
	}
}

// validate checks doc against the schema and the rules the schema cannot
// express. Every failure wraps ErrValidationFailed.
func validate(doc map[string]any) error {
	resolveOnce.Do(func() {
		resolved, resolveErr = Schema().Resolve(nil)
	})
	if resolveErr != nil {
		return fmt.Errorf("resolve preferences schema: %w", resolveErr)
	}
	if err := resolved.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	zones, _ := doc["zones"].([]any)
	seen := make(map[string]bool, len(zones))
	for _, z := range zones {
		zone, _ := z.(map[string]any)
		id, _ := zone["roomId"].(string)
		if seen[id] {
			return fmt.Errorf("%w: duplicate roomId %q", ErrValidationFailed, id)
		}
		seen[id] = true
	}
	return nil
}
