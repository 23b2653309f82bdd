package rules

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/care/postura/internal/pose"
)

// ErrInvalidRule marks a rule document that cannot be turned into rules.
var ErrInvalidRule = errors.New("invalid rule")

//go:embed exercise.schema.json
var exerciseSchema []byte

const schemaURL = "https://postura.local/schemas/exercise.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

type ruleDoc struct {
	Joint   string    `json:"joint"`
	Kind    string    `json:"kind"`
	Points  []string  `json:"points"`
	Range   []float64 `json:"range"`
	Message string    `json:"message"`
	Side    *string   `json:"side"`
}

type exerciseDoc struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Rules []ruleDoc `json:"rules"`
}

// LoadFile reads an exercise document (YAML or JSON) from disk.
func LoadFile(path string) (ExerciseDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ExerciseDefinition{}, fmt.Errorf("failed to read exercise file: %w", err)
	}
	ex, err := Parse(data)
	if err != nil {
		return ExerciseDefinition{}, fmt.Errorf("%s: %w", path, err)
	}
	return ex, nil
}

// Parse decodes and validates an exercise document. JSON is accepted as a
// subset of YAML.
func Parse(data []byte) (ExerciseDefinition, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return ExerciseDefinition{}, fmt.Errorf("failed to parse exercise: %w", err)
	}

	// Normalise YAML scalars into JSON types before schema validation.
	normalized, err := json.Marshal(raw)
	if err != nil {
		return ExerciseDefinition{}, fmt.Errorf("failed to normalise exercise: %w", err)
	}
	var payload any
	if err := json.Unmarshal(normalized, &payload); err != nil {
		return ExerciseDefinition{}, fmt.Errorf("failed to normalise exercise: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return ExerciseDefinition{}, err
	}
	if err := schema.Validate(payload); err != nil {
		return ExerciseDefinition{}, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}

	var doc exerciseDoc
	if err := json.Unmarshal(normalized, &doc); err != nil {
		return ExerciseDefinition{}, fmt.Errorf("failed to decode exercise: %w", err)
	}

	ex := ExerciseDefinition{ID: doc.ID, Name: doc.Name}
	for i, rd := range doc.Rules {
		r, err := rd.toRule()
		if err != nil {
			return ExerciseDefinition{}, fmt.Errorf("rule %d: %w", i, err)
		}
		ex.Rules = append(ex.Rules, r)
	}
	return ex, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, bytes.NewReader(exerciseSchema)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(schemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile schema: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

func (rd ruleDoc) toRule() (Rule, error) {
	kind := rd.Kind
	if kind == "" {
		// Legacy documents carry no kind; arity decides once, here.
		kind = KindAngle
		if len(rd.Points) == 2 {
			kind = KindIncline
		}
	}

	meta := Meta{
		JointID: rd.Joint,
		Range:   Range{Min: rd.Range[0], Max: rd.Range[1]},
		Message: rd.Message,
	}
	if rd.Side != nil {
		meta.Side = Side(*rd.Side)
	}

	p := func(i int) pose.LandmarkID { return pose.LandmarkID(rd.Points[i]) }

	var r Rule
	switch kind {
	case KindAngle:
		if len(rd.Points) != 3 {
			return nil, fmt.Errorf("%w: joint %q angle rule needs 3 points, got %d", ErrInvalidRule, rd.Joint, len(rd.Points))
		}
		r = &AngleRule{Meta: meta, A: p(0), Vertex: p(1), C: p(2)}
	case KindIncline:
		if len(rd.Points) != 2 {
			return nil, fmt.Errorf("%w: joint %q incline rule needs 2 points, got %d", ErrInvalidRule, rd.Joint, len(rd.Points))
		}
		r = &InclineRule{Meta: meta, From: p(0), To: p(1)}
	default:
		return nil, fmt.Errorf("%w: joint %q unknown kind %q", ErrInvalidRule, rd.Joint, kind)
	}

	if err := validate(r); err != nil {
		return nil, err
	}
	return r, nil
}
