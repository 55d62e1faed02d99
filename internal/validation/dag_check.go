package validation

import (
	"fmt"
	"sort"

	"github.com/rendis/jobflow/pkg/schema"
)

// validateDAG checks the reference graph between the jobs and flows of a
// document: a job or flow that reaches itself through job, flow or split
// nodes would recurse forever. Cycles are found with Kahn's algorithm;
// in documents that declare jobs, flows nothing references are reported as
// warnings.
func validateDAG(doc *schema.Document) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	defined := make(map[string]bool, len(doc.Jobs)+len(doc.Flows))
	for _, j := range doc.Jobs {
		defined[jobKey(j.Name)] = true
	}
	for _, f := range doc.Flows {
		defined[flowKey(f.Name)] = true
	}

	// edges[k] = definitions k references, reverse[k] = definitions referencing k.
	edges := make(map[string][]string, len(defined))
	reverse := make(map[string][]string, len(defined))
	link := func(from string, nodes []schema.NodeDefinition) {
		seen := make(map[string]bool)
		for _, ref := range references(nodes) {
			if !defined[ref] || seen[ref] {
				continue // unknown refs already caught by semantic
			}
			seen[ref] = true
			edges[from] = append(edges[from], ref)
			reverse[ref] = append(reverse[ref], from)
		}
	}
	for _, j := range doc.Jobs {
		link(jobKey(j.Name), j.Nodes)
	}
	for _, f := range doc.Flows {
		link(flowKey(f.Name), f.Nodes)
	}

	// A definition is resolvable once everything it references is.
	pending := make(map[string]int, len(defined))
	for k := range defined {
		pending[k] = len(edges[k])
	}
	queue := make([]string, 0, len(defined))
	for k, n := range pending {
		if n == 0 {
			queue = append(queue, k)
		}
	}
	sort.Strings(queue)

	visited := 0
	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		visited++
		for _, user := range reverse[k] {
			pending[user]--
			if pending[user] == 0 {
				queue = append(queue, user)
			}
		}
	}

	if visited != len(defined) {
		var cyclic []string
		for k, n := range pending {
			if n > 0 {
				cyclic = append(cyclic, k)
			}
		}
		sort.Strings(cyclic)
		result.AddErrorf("/", schema.ErrCodeCycleDetected,
			"definitions reference each other recursively: %v", cyclic)
		return result
	}

	if len(doc.Jobs) == 0 {
		return result // a flow library is used by later documents
	}
	for i, f := range doc.Flows {
		if len(reverse[flowKey(f.Name)]) == 0 {
			result.AddWarning(fmt.Sprintf("flows[%d]", i), schema.ErrCodeValidation,
				fmt.Sprintf("flow %q is not used by any job or flow in this document", f.Name))
		}
	}

	return result
}

func jobKey(name string) string  { return "job:" + name }
func flowKey(name string) string { return "flow:" + name }

// references lists the job and flow keys nodes point at, in declaration order.
func references(nodes []schema.NodeDefinition) []string {
	var refs []string
	for _, n := range nodes {
		switch n.NodeType() {
		case schema.NodeTypeSplit:
			for _, f := range n.Flows {
				refs = append(refs, flowKey(f))
			}
		case schema.NodeTypeFlow:
			refs = append(refs, flowKey(n.Flow))
		case schema.NodeTypeJob:
			refs = append(refs, jobKey(n.Job))
		}
	}
	return refs
}

// References lists the jobs and flows a definition depends on, so callers
// can build them first.
func References(nodes []schema.NodeDefinition) (jobs, flows []string) {
	for _, ref := range references(nodes) {
		switch {
		case len(ref) > 4 && ref[:4] == "job:":
			jobs = append(jobs, ref[4:])
		case len(ref) > 5 && ref[:5] == "flow:":
			flows = append(flows, ref[5:])
		}
	}
	return jobs, flows
}
