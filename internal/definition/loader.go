package definition

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON []byte

var procedureSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("procedure.schema.json", bytes.NewReader(schemaJSON)); err != nil {
		panic(fmt.Sprintf("definition: bad embedded schema: %v", err))
	}
	schema, err := compiler.Compile("procedure.schema.json")
	if err != nil {
		panic(fmt.Sprintf("definition: bad embedded schema: %v", err))
	}
	return schema
}

// procedureDoc is the on-disk document shape. Steps are keyed by name; the
// custom decoder preserves document order.
type procedureDoc struct {
	Name          string         `yaml:"name"`
	Description   string         `yaml:"description"`
	Category      string         `yaml:"category"`
	Preconditions *Preconditions `yaml:"preconditions"`
	Steps         orderedSteps   `yaml:"steps"`
	Criteria      *Criteria      `yaml:"criteria"`
}

type orderedSteps []Step

type stepBody struct {
	Event        Event    `yaml:"event"`
	Actions      []Action `yaml:"actions"`
	Instructions []string `yaml:"instructions"`
}

// UnmarshalYAML walks the mapping node directly. A plain map decode would
// lose declaration order, and order decides which listener matches first.
func (s *orderedSteps) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: steps must be a mapping of step name to step", node.Line)
	}
	steps := make([]Step, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		var body stepBody
		if err := valNode.Decode(&body); err != nil {
			return fmt.Errorf("step %q: %w", keyNode.Value, err)
		}
		steps = append(steps, Step{
			Name:         keyNode.Value,
			Event:        body.Event,
			Actions:      body.Actions,
			Instructions: body.Instructions,
		})
	}
	*s = steps
	return nil
}

// Load reads, validates and decodes a single test procedure document.
func Load(path string) (*TestProcedure, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read procedure: %w", err)
	}
	proc, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("procedure %s: %w", filepath.Base(path), err)
	}
	return proc, nil
}

// LoadDir loads every .yaml/.yml document in dir, keyed and sorted by
// procedure name. Duplicate names are a configuration error.
func LoadDir(dir string) (map[string]*TestProcedure, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read procedure dir: %w", err)
	}
	procs := make(map[string]*TestProcedure)
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		proc, err := Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if _, dup := procs[proc.Name]; dup {
			return nil, fmt.Errorf("duplicate procedure name %q (file %s)", proc.Name, entry.Name())
		}
		procs[proc.Name] = proc
		names = append(names, proc.Name)
	}
	sort.Strings(names)
	return procs, nil
}

// Parse validates raw YAML against the embedded schema, then decodes it
// strictly. Schema first: it produces pointer-qualified errors instead of
// half-decoded structs.
func Parse(raw []byte) (*TestProcedure, error) {
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := validateAgainstSchema(generic); err != nil {
		return nil, err
	}

	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	var doc procedureDoc
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode procedure: %w", err)
	}

	proc := &TestProcedure{
		Name:          norm.NFC.String(doc.Name),
		Description:   doc.Description,
		Category:      doc.Category,
		Preconditions: doc.Preconditions,
		Criteria:      doc.Criteria,
		Steps:         []Step(doc.Steps),
	}
	normalizeProcedure(proc)
	if err := checkStepReferences(proc); err != nil {
		return nil, err
	}
	return proc, nil
}

// validateAgainstSchema round-trips the decoded YAML through encoding/json
// so the validator sees the value shapes it expects.
func validateAgainstSchema(doc any) error {
	encoded, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode for validation: %w", err)
	}
	var jsonDoc any
	if err := json.Unmarshal(encoded, &jsonDoc); err != nil {
		return fmt.Errorf("encode for validation: %w", err)
	}
	if err := procedureSchema.Validate(jsonDoc); err != nil {
		return fmt.Errorf("procedure failed schema validation: %w", err)
	}
	return nil
}

// normalizeProcedure NFC-normalizes every string that participates in
// matching: step names, endpoint parameters and step-name references in
// listener actions. Matching is byte equality, so both sides must be in
// the same normal form.
func normalizeProcedure(proc *TestProcedure) {
	for i := range proc.Steps {
		step := &proc.Steps[i]
		step.Name = norm.NFC.String(step.Name)
		normalizeParameters(step.Event.Parameters)
		for j := range step.Actions {
			normalizeParameters(step.Actions[j].Parameters)
		}
	}
	if proc.Preconditions != nil {
		for i := range proc.Preconditions.Actions {
			normalizeParameters(proc.Preconditions.Actions[i].Parameters)
		}
	}
}

func normalizeParameters(params Parameters) {
	for key, val := range params {
		switch key {
		case "endpoint":
			if s, ok := val.Const.(string); ok && val.Kind == ValueConstant {
				val.Const = norm.NFC.String(s)
				params[key] = val
			}
		case "listeners":
			if list, ok := val.Const.([]any); ok && val.Kind == ValueConstant {
				for i, item := range list {
					if s, ok := item.(string); ok {
						list[i] = norm.NFC.String(s)
					}
				}
			}
		}
	}
}

// checkStepReferences rejects enable-listeners / remove-listeners actions
// that name steps the procedure does not define. Catching this at load time
// turns a silent no-op mid-test into an immediate configuration error.
func checkStepReferences(proc *TestProcedure) error {
	known := make(map[string]struct{}, len(proc.Steps))
	for i := range proc.Steps {
		known[proc.Steps[i].Name] = struct{}{}
	}
	check := func(action Action, where string) error {
		if action.Type != ActionEnableListeners && action.Type != ActionRemoveListeners {
			return nil
		}
		val, ok := action.Parameters["listeners"]
		if !ok || val.Kind != ValueConstant {
			return nil
		}
		list, ok := val.Const.([]any)
		if !ok {
			return nil
		}
		for _, item := range list {
			name, ok := item.(string)
			if !ok {
				continue
			}
			if _, defined := known[name]; !defined {
				return fmt.Errorf("%s: %s references undefined step %q", where, action.Type, name)
			}
		}
		return nil
	}
	for i := range proc.Steps {
		for _, action := range proc.Steps[i].Actions {
			if err := check(action, fmt.Sprintf("step %q", proc.Steps[i].Name)); err != nil {
				return err
			}
		}
	}
	if proc.Preconditions != nil {
		for _, action := range proc.Preconditions.Actions {
			if err := check(action, "preconditions"); err != nil {
				return err
			}
		}
	}
	return nil
}

// EndpointParameter returns the endpoint string of a request event.
func (e *Event) EndpointParameter() (string, error) {
	val, ok := e.Parameters["endpoint"]
	if !ok {
		return "", fmt.Errorf("event %s has no endpoint parameter", e.Type)
	}
	s, ok := val.Const.(string)
	if !ok || val.Kind != ValueConstant {
		return "", fmt.Errorf("event %s endpoint parameter is not a string", e.Type)
	}
	return s, nil
}

// IsRequestEvent reports whether the event type is of the
// "<METHOD>-request-received" family, returning the method when so.
func (e *Event) IsRequestEvent() (method string, ok bool) {
	method, found := strings.CutSuffix(e.Type, "-request-received")
	if !found || method == "" {
		return "", false
	}
	return method, true
}
