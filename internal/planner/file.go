package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
	"gopkg.in/yaml.v3"

	tgerrors "github.com/felixgeelhaar/taskgraph/internal/errors"
	"github.com/felixgeelhaar/taskgraph/internal/task"
)

// File plans by reading a plan document. The format follows the extension:
// .json, .yaml/.yml or .hcl. The objective is available to HCL expressions
// as the variable "objective".
type File struct {
	Path string
}

// Plan implements Planner.
func (f File) Plan(_ context.Context, objective string) ([]task.Spec, error) {
	return LoadFile(f.Path, objective)
}

// LoadFile reads and decodes the plan document at path.
func LoadFile(path, objective string) ([]task.Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, tgerrors.NewFileNotFoundError(path)
		}
		return nil, tgerrors.Wrap(tgerrors.ErrCodeFileReadFailed, "failed to read plan file", err)
	}
	return Decode(path, data, objective)
}

// Decode parses plan data in the format implied by filename.
func Decode(filename string, data []byte, objective string) ([]task.Spec, error) {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".json":
		specs, err := ParseTasks(data)
		if err != nil {
			return nil, tgerrors.NewFileUnmarshalError(filename, "JSON", err)
		}
		return specs, nil
	case ".yaml", ".yml":
		specs, err := decodeYAML(data)
		if err != nil {
			return nil, tgerrors.NewFileUnmarshalError(filename, "YAML", err)
		}
		return specs, nil
	case ".hcl":
		specs, err := decodeHCL(filename, data, objective)
		if err != nil {
			return nil, tgerrors.NewFileUnmarshalError(filename, "HCL", err)
		}
		return specs, nil
	default:
		return nil, tgerrors.New(tgerrors.ErrCodePlanUnsupported,
			fmt.Sprintf("unsupported plan format %q", ext)).
			WithSuggestion("Use a .json, .yaml, .yml or .hcl plan file")
	}
}

func decodeYAML(data []byte) ([]task.Spec, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	if len(node.Content) == 0 {
		return nil, fmt.Errorf("plan document is empty")
	}

	if node.Content[0].Kind == yaml.SequenceNode {
		var tasks []wireTask
		if err := node.Content[0].Decode(&tasks); err != nil {
			return nil, err
		}
		return toSpecs(tasks), nil
	}

	var plan wirePlan
	if err := node.Content[0].Decode(&plan); err != nil {
		return nil, err
	}
	return toSpecs(plan.Tasks), nil
}

type hclPlan struct {
	Tasks []hclTask `hcl:"task,block"`
}

type hclTask struct {
	ID          string         `hcl:"id,label"`
	Tool        string         `hcl:"tool"`
	Description string         `hcl:"description,optional"`
	DependsOn   []string       `hcl:"depends_on,optional"`
	MaxAttempts int            `hcl:"max_attempts,optional"`
	Timeout     string         `hcl:"timeout,optional"`
	Arguments   hcl.Expression `hcl:"arguments,optional"`
}

// decodeHCL reads task blocks:
//
//	task "fetch" {
//	  tool       = "http_get"
//	  depends_on = ["resolve"]
//	  arguments  = { url = "https://example.com/${objective}" }
//	}
func decodeHCL(filename string, data []byte, objective string) ([]task.Spec, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL: %s", diags.Error())
	}

	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"objective": cty.StringVal(objective),
		},
	}

	var plan hclPlan
	if diags := gohcl.DecodeBody(file.Body, evalCtx, &plan); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	specs := make([]task.Spec, 0, len(plan.Tasks))
	for _, t := range plan.Tasks {
		spec := task.Spec{
			ID:          t.ID,
			Description: t.Description,
			ToolName:    t.Tool,
			DependsOn:   t.DependsOn,
			MaxAttempts: t.MaxAttempts,
		}
		if t.Timeout != "" {
			d, err := time.ParseDuration(t.Timeout)
			if err != nil {
				return nil, fmt.Errorf("task %q: invalid timeout: %w", t.ID, err)
			}
			spec.Timeout = task.Duration(d)
		}
		args, err := evalArguments(t.Arguments, evalCtx)
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", t.ID, err)
		}
		spec.Arguments = args
		specs = append(specs, spec)
	}
	return specs, nil
}

func evalArguments(expr hcl.Expression, evalCtx *hcl.EvalContext) (map[string]any, error) {
	if expr == nil {
		return nil, nil
	}
	val, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to evaluate arguments: %s", diags.Error())
	}
	if val.IsNull() {
		return nil, nil
	}
	if !val.Type().IsObjectType() && !val.Type().IsMapType() {
		return nil, fmt.Errorf("arguments must be an object, got %s", val.Type().FriendlyName())
	}

	data, err := ctyjson.Marshal(val, val.Type())
	if err != nil {
		return nil, fmt.Errorf("failed to convert arguments: %w", err)
	}
	var args map[string]any
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, err
	}
	return args, nil
}
