package pipeline

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/you/faceoff/internal/domain"
)

//go:embed schemas
var schemaFS embed.FS

// stageSchemas holds one compiled schema per stage, indexed by stage number.
// Compilation happens at package init; a malformed schema is a build defect
// and panics immediately.
var stageSchemas = compileStageSchemas()

func compileStageSchemas() [domain.StageCount]*jsonschema.Schema {
	var out [domain.StageCount]*jsonschema.Schema
	c := jsonschema.NewCompiler()
	for n := 0; n < domain.StageCount; n++ {
		name := fmt.Sprintf("stage%d.json", n)
		raw, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			panic(fmt.Sprintf("read stage schema %s: %v", name, err))
		}
		if err := c.AddResource(name, strings.NewReader(string(raw))); err != nil {
			panic(fmt.Sprintf("add stage schema %s: %v", name, err))
		}
		sch, err := c.Compile(name)
		if err != nil {
			panic(fmt.Sprintf("compile stage schema %s: %v", name, err))
		}
		out[n] = sch
	}
	return out
}

// ValidationError carries every violation found in a stage output, not just
// the first, so one failed run reveals the whole contract gap.
type ValidationError struct {
	Stage      int
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("stage %d (%s) output failed validation: %s",
		e.Stage, domain.StageName(e.Stage), strings.Join(e.Violations, "; "))
}

// Validate checks a stage output against that stage's schema. The output is
// round-tripped through JSON so the check sees exactly what will be persisted.
func Validate(stage int, output any) error {
	if stage < 0 || stage >= domain.StageCount {
		return fmt.Errorf("no schema for stage %d", stage)
	}
	raw, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("marshal stage %d output: %w", stage, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode stage %d output: %w", stage, err)
	}

	err = stageSchemas[stage].Validate(doc)
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err
	}
	return &ValidationError{Stage: stage, Violations: flattenCauses(ve)}
}

// flattenCauses collects the leaf messages of a validation error tree; the
// intermediate nodes only restate that something below them failed.
func flattenCauses(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []string{loc + ": " + ve.Message}
	}
	var out []string
	for _, c := range ve.Causes {
		out = append(out, flattenCauses(c)...)
	}
	return out
}
