package validation

import "github.com/rendis/jobflow/pkg/schema"

// deliveryDoc mirrors the package delivery sample: a job that packages an
// item and splits into delivery and billing flows.
func deliveryDoc() *schema.Document {
	return &schema.Document{
		Flows: []schema.FlowDefinition{
			{
				Name:  "deliveryFlow",
				Start: "driveToAddressStep",
				Nodes: []schema.NodeDefinition{
					{ID: "driveToAddressStep", Action: "log", Params: map[string]any{"message": "driving to ${{params.address}}"},
						Transitions: []schema.TransitionDefinition{
							{On: "FAILED", Fail: true},
							{On: "*", To: "deliveryDecider"},
						}},
					{ID: "deliveryDecider", Type: schema.NodeTypeDecider, Decider: "deliveryDecider",
						Transitions: []schema.TransitionDefinition{
							{On: "PRESENT", To: "givePackageToCustomerStep"},
							{On: "NOT PRESENT", To: "leavePackageStep"},
						}},
					{ID: "givePackageToCustomerStep", Action: "log", Params: map[string]any{"message": "here you go"},
						Transitions: []schema.TransitionDefinition{{On: "*", End: true}}},
					{ID: "leavePackageStep", Action: "log", Params: map[string]any{"message": "left at the door"},
						Transitions: []schema.TransitionDefinition{{On: "*", End: true}}},
				},
			},
			{
				Name:  "billingFlow",
				Start: "invoiceStep",
				Nodes: []schema.NodeDefinition{
					{ID: "invoiceStep", Action: "put", Params: map[string]any{"key": "invoice/${{params.item}}", "value": true}},
				},
			},
		},
		Jobs: []schema.JobDefinition{
			{
				Name:  "deliverPackageJob",
				Start: "packageItemStep",
				Parameters: map[string]any{
					"type":     "object",
					"required": []any{"item"},
				},
				Nodes: []schema.NodeDefinition{
					{ID: "packageItemStep", Action: "log", Params: map[string]any{"message": "packaging ${{params.item}}"},
						Transitions: []schema.TransitionDefinition{{On: "*", To: "deliverAndBill"}}},
					{ID: "deliverAndBill", Type: schema.NodeTypeSplit, Flows: []string{"deliveryFlow", "billingFlow"},
						Transitions: []schema.TransitionDefinition{{On: "*", End: true}}},
				},
			},
		},
	}
}

func names(ns ...string) LookupFunc {
	set := make(map[string]bool, len(ns))
	for _, n := range ns {
		set[n] = true
	}
	return func(name string) bool { return set[name] }
}

func fullLookups() Lookups {
	return Lookups{
		Actions:  names("log", "put", "exit"),
		Deciders: names("deliveryDecider", "itemValidator"),
		Engines:  names("cel", "expr", "jq"),
	}
}
