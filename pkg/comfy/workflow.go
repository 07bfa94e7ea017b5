package comfy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// workflowSchema is the minimum shape a render graph must have: a
// non-empty map of nodes, each carrying an inputs object we can patch.
const workflowSchema = `{
	"type": "object",
	"minProperties": 1,
	"additionalProperties": {
		"type": "object",
		"required": ["inputs"],
		"properties": {
			"inputs": {"type": "object"}
		}
	}
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(workflowSchema)))
		if err != nil {
			schemaErr = err
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("workflow_schema.json", doc); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile("workflow_schema.json")
	})
	return schema, schemaErr
}

// Workflow is a render graph template, keyed by node id.
type Workflow map[string]map[string]any

// LoadWorkflow reads and validates a workflow template. Callers treat a
// failure here as "skip image generation", not a fatal error.
func LoadWorkflow(path string) (Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow %s: %w", path, err)
	}

	sch, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse workflow %s: %w", path, err)
	}
	if err := sch.Validate(doc); err != nil {
		return nil, fmt.Errorf("invalid workflow %s: %w", path, err)
	}

	var w Workflow
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode workflow %s: %w", path, err)
	}
	return w, nil
}

func (w Workflow) inputs(node string) (map[string]any, error) {
	n, ok := w[node]
	if !ok {
		return nil, fmt.Errorf("workflow has no node %q", node)
	}
	inputs, ok := n["inputs"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("workflow node %q has no inputs object", node)
	}
	return inputs, nil
}

// SetPrompt writes the positive prompt text into the given node.
func (w Workflow) SetPrompt(node, text string) error {
	inputs, err := w.inputs(node)
	if err != nil {
		return err
	}
	inputs["text"] = text
	return nil
}

// SetSeed writes the sampler seed into the given node.
func (w Workflow) SetSeed(node string, seed int64) error {
	inputs, err := w.inputs(node)
	if err != nil {
		return err
	}
	inputs["seed"] = seed
	return nil
}

// SetFilenamePrefix writes the output filename prefix into the given node.
func (w Workflow) SetFilenamePrefix(node, prefix string) error {
	inputs, err := w.inputs(node)
	if err != nil {
		return err
	}
	inputs["filename_prefix"] = prefix
	return nil
}
