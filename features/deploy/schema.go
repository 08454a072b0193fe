package deploy

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Argument schemas for each deployment action. The model generates tool
// arguments freely; validation here keeps malformed proposals from ever
// reaching the confirmation prompt.
var actionSchemas = map[Action]string{
	ActionCreateJob: `{
		"type": "object",
		"properties": {
			"image": {"type": "string", "minLength": 1},
			"market": {"type": "string", "minLength": 1},
			"timeout_minutes": {"type": "integer", "minimum": 1},
			"exposed_port": {"type": "integer", "minimum": 1, "maximum": 65535}
		},
		"required": ["image", "market", "timeout_minutes"],
		"additionalProperties": false
	}`,
	ActionStopJob: `{
		"type": "object",
		"properties": {
			"job_address": {"type": "string", "minLength": 1}
		},
		"required": ["job_address"],
		"additionalProperties": false
	}`,
	ActionExtendJob: `{
		"type": "object",
		"properties": {
			"job_address": {"type": "string", "minLength": 1},
			"additional_minutes": {"type": "integer", "minimum": 1}
		},
		"required": ["job_address", "additional_minutes"],
		"additionalProperties": false
	}`,
}

// ToolSpec describes one deployment action in the shape model providers
// advertise tools: a name, a short description and a JSON Schema for the
// arguments.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

var actionDescriptions = map[Action]string{
	ActionCreateJob: "Deploy a container image as a GPU job on a compute market.",
	ActionStopJob:   "Stop a running GPU job.",
	ActionExtendJob: "Extend the timeout of a running GPU job.",
}

// ToolSpecs returns the advertised tool set, one spec per action, using the
// same schemas Validate enforces.
func ToolSpecs() ([]ToolSpec, error) {
	specs := make([]ToolSpec, 0, len(actionSchemas))
	for _, action := range []Action{ActionCreateJob, ActionStopJob, ActionExtendJob} {
		var params map[string]any
		if err := json.Unmarshal([]byte(actionSchemas[action]), &params); err != nil {
			return nil, fmt.Errorf("unmarshal %s schema: %w", action, err)
		}
		specs = append(specs, ToolSpec{
			Name:        string(action),
			Description: actionDescriptions[action],
			Parameters:  params,
		})
	}
	return specs, nil
}

// Validator checks proposed tool arguments against the action schemas.
// Compile once at startup and share across sessions; Validate is read-only.
type Validator struct {
	schemas map[Action]*jsonschema.Schema
}

// NewValidator compiles the action schemas.
func NewValidator() (*Validator, error) {
	compiled := make(map[Action]*jsonschema.Schema, len(actionSchemas))
	for action, raw := range actionSchemas {
		var doc any
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("unmarshal %s schema: %w", action, err)
		}
		c := jsonschema.NewCompiler()
		url := string(action) + ".json"
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add %s schema resource: %w", action, err)
		}
		schema, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", action, err)
		}
		compiled[action] = schema
	}
	return &Validator{schemas: compiled}, nil
}

// Validate checks args against the schema for action. Unknown actions fail:
// the model may only propose operations the executor understands.
func (v *Validator) Validate(action Action, args json.RawMessage) error {
	schema, ok := v.schemas[action]
	if !ok {
		return fmt.Errorf("unknown deployment action %q", action)
	}
	var payload any
	if err := json.Unmarshal(args, &payload); err != nil {
		return fmt.Errorf("unmarshal %s arguments: %w", action, err)
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("invalid %s arguments: %w", action, err)
	}
	return nil
}

// Summarize renders a human-readable confirmation prompt for a validated
// proposal. Falls back to a generic line when fields are missing.
func Summarize(action Action, args json.RawMessage) string {
	var m map[string]any
	_ = json.Unmarshal(args, &m)
	switch action {
	case ActionCreateJob:
		return fmt.Sprintf("Create a GPU job running %v on market %v for %v minutes",
			m["image"], m["market"], m["timeout_minutes"])
	case ActionStopJob:
		return fmt.Sprintf("Stop the job at %v", m["job_address"])
	case ActionExtendJob:
		return fmt.Sprintf("Extend the job at %v by %v minutes",
			m["job_address"], m["additional_minutes"])
	default:
		return fmt.Sprintf("Run deployment action %s", action)
	}
}
