package validation

import (
	"encoding/json"
	"fmt"

	"github.com/rendis/jobflow/internal/expressions"
	"github.com/rendis/jobflow/pkg/schema"
)

// graphDef is the part jobs and flows share.
type graphDef struct {
	path  string
	name  string
	start string
	nodes []schema.NodeDefinition
}

// semanticChecker resolves names against the document itself first, then
// against the catalog lookups.
type semanticChecker struct {
	lookups Lookups
	jobs    map[string]bool
	flows   map[string]bool
	schemas *JSONSchemaValidator
}

// validateSemantic checks references, node fields and transition tables of
// every job and flow in doc.
func validateSemantic(doc *schema.Document, lookups Lookups, jsv *JSONSchemaValidator) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	c := &semanticChecker{
		lookups: lookups,
		jobs:    make(map[string]bool, len(doc.Jobs)),
		flows:   make(map[string]bool, len(doc.Flows)),
		schemas: jsv,
	}
	for _, j := range doc.Jobs {
		c.jobs[j.Name] = true
	}
	for _, f := range doc.Flows {
		c.flows[f.Name] = true
	}

	for i, f := range doc.Flows {
		c.checkGraph(graphDef{
			path: fmt.Sprintf("flows[%d]", i), name: f.Name, start: f.Start, nodes: f.Nodes,
		}, result)
	}
	for i, j := range doc.Jobs {
		path := fmt.Sprintf("jobs[%d]", i)
		c.checkParameters(path+".parameters", j.Parameters, result)
		c.checkGraph(graphDef{
			path: path, name: j.Name, start: j.Start, nodes: j.Nodes,
		}, result)
	}

	return result
}

func (c *semanticChecker) hasJob(name string) bool {
	return c.jobs[name] || (c.lookups.Jobs != nil && c.lookups.Jobs.Has(name))
}

func (c *semanticChecker) hasFlow(name string) bool {
	return c.flows[name] || (c.lookups.Flows != nil && c.lookups.Flows.Has(name))
}

func (c *semanticChecker) checkParameters(path string, params map[string]any, result *schema.ValidationResult) {
	if len(params) == 0 || c.schemas == nil {
		return
	}
	raw, err := json.Marshal(params)
	if err != nil {
		result.AddErrorf(path, schema.ErrCodeValidation, "parameter schema is not serializable: %v", err)
		return
	}
	if err := c.schemas.CheckSchema(raw); err != nil {
		result.AddErrorf(path, schema.ErrCodeValidation, "parameter schema does not compile: %v", err)
	}
}

func (c *semanticChecker) checkGraph(g graphDef, result *schema.ValidationResult) {
	ids := make(map[string]bool, len(g.nodes))
	for i, n := range g.nodes {
		if ids[n.ID] {
			result.AddErrorf(fmt.Sprintf("%s.nodes[%d].id", g.path, i), schema.ErrCodeConflict,
				"duplicate node id %q in %q", n.ID, g.name)
		}
		ids[n.ID] = true
	}
	if !ids[g.start] {
		result.AddErrorf(g.path+".start", schema.ErrCodeValidation,
			"start node %q is not declared in %q", g.start, g.name)
	}

	for i := range g.nodes {
		path := fmt.Sprintf("%s.nodes[%d]", g.path, i)
		c.checkNode(path, &g.nodes[i], result)
		checkTransitions(path, &g.nodes[i], ids, result)
	}
}

func (c *semanticChecker) checkNode(path string, n *schema.NodeDefinition, result *schema.ValidationResult) {
	switch n.NodeType() {
	case schema.NodeTypeStep:
		if n.Action == "" {
			result.AddErrorf(path+".action", schema.ErrCodeValidation, "step %q has no action", n.ID)
		} else if c.lookups.Actions != nil && !c.lookups.Actions.Has(n.Action) {
			result.AddErrorf(path+".action", schema.ErrCodeNotFound, "action %q not registered", n.Action)
		}
		checkParamRefs(path+".params", n.Params, result)
		if n.ExitStatus != nil && c.lookups.Engines != nil {
			engine := n.ExitStatus.Engine
			if engine == "" {
				engine = expressions.DefaultEngine
			}
			if !c.lookups.Engines.Has(engine) {
				result.AddErrorf(path+".exit_status.engine", schema.ErrCodeNotFound,
					"expression engine %q not available", engine)
			}
		}
	case schema.NodeTypeDecider:
		if n.Decider == "" {
			result.AddErrorf(path+".decider", schema.ErrCodeValidation, "decider %q names no decider", n.ID)
		} else if c.lookups.Deciders != nil && !c.lookups.Deciders.Has(n.Decider) {
			result.AddErrorf(path+".decider", schema.ErrCodeNotFound, "decider %q not registered", n.Decider)
		}
		if len(n.Transitions) == 0 {
			result.AddWarning(path+".transitions", schema.ErrCodeValidation,
				fmt.Sprintf("decider %q has no transitions; every decision will be unresolved", n.ID))
		}
	case schema.NodeTypeSplit:
		if len(n.Flows) == 0 {
			result.AddErrorf(path+".flows", schema.ErrCodeValidation, "split %q lists no flows", n.ID)
		}
		seen := make(map[string]bool, len(n.Flows))
		for j, f := range n.Flows {
			fpath := fmt.Sprintf("%s.flows[%d]", path, j)
			if seen[f] {
				result.AddErrorf(fpath, schema.ErrCodeConflict, "split %q lists flow %q twice", n.ID, f)
			}
			seen[f] = true
			if !c.hasFlow(f) {
				result.AddErrorf(fpath, schema.ErrCodeNotFound, "flow %q is not defined", f)
			}
		}
	case schema.NodeTypeJob:
		if n.Job == "" {
			result.AddErrorf(path+".job", schema.ErrCodeValidation, "job node %q names no job", n.ID)
		} else if !c.hasJob(n.Job) {
			result.AddErrorf(path+".job", schema.ErrCodeNotFound, "job %q is not defined", n.Job)
		}
	case schema.NodeTypeFlow:
		if n.Flow == "" {
			result.AddErrorf(path+".flow", schema.ErrCodeValidation, "flow node %q names no flow", n.ID)
		} else if !c.hasFlow(n.Flow) {
			result.AddErrorf(path+".flow", schema.ErrCodeNotFound, "flow %q is not defined", n.Flow)
		}
	default:
		result.AddErrorf(path+".type", schema.ErrCodeValidation, "unknown node type %q", n.Type)
	}
}

// checkTransitions verifies each rule has exactly one target, that targets
// exist, and that no two rules of the node share a pattern.
func checkTransitions(path string, n *schema.NodeDefinition, ids map[string]bool, result *schema.ValidationResult) {
	patterns := make(map[string]bool, len(n.Transitions))
	for i, t := range n.Transitions {
		tpath := fmt.Sprintf("%s.transitions[%d]", path, i)

		targets := 0
		for _, set := range []bool{t.To != "", t.End, t.Fail, t.Stop} {
			if set {
				targets++
			}
		}
		if targets != 1 {
			result.AddErrorf(tpath, schema.ErrCodeValidation,
				"transition on %q must set exactly one of to, end, fail, stop", t.On)
		}
		if t.To != "" && !ids[t.To] {
			result.AddErrorf(tpath+".to", schema.ErrCodeValidation, "transition targets undeclared node %q", t.To)
		}
		if t.To == n.ID {
			result.AddErrorf(tpath+".to", schema.ErrCodeCycleDetected, "node %q transitions to itself", n.ID)
		}

		if patterns[t.On] {
			result.AddErrorf(tpath+".on", schema.ErrCodeAmbiguousTransition,
				"node %q declares more than one transition on %q", n.ID, t.On)
		}
		patterns[t.On] = true
	}
}

// checkParamRefs walks step params and checks every ${{ }} reference.
func checkParamRefs(path string, v any, result *schema.ValidationResult) {
	switch val := v.(type) {
	case string:
		if err := expressions.CheckReferences(val); err != nil {
			code := schema.ErrCodeInterpolation
			if jfErr, ok := schema.AsJobflowError(err); ok {
				code = jfErr.Code
			}
			result.AddError(path, code, err.Error())
		}
	case map[string]any:
		for k, item := range val {
			checkParamRefs(path+"."+k, item, result)
		}
	case []any:
		for i, item := range val {
			checkParamRefs(fmt.Sprintf("%s[%d]", path, i), item, result)
		}
	}
}
