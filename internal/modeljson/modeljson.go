// Package modeljson loads a model descriptor from a JSON document
// using gjson path queries, the same library and access pattern the
// corpus uses for pulling named fields out of JSON feed payloads
// without a full struct-tag unmarshal.
package modeljson

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/desengine/internal/distributions"
	"github.com/R3E-Network/desengine/pkg/desengine"
)

// Load parses a JSON model descriptor of the form:
//
//	{
//	  "endTime": 10000, "warmup": 1000, "seed": 42,
//	  "resources": [{"id": "server", "name": "Server", "capacity": 1}],
//	  "processes": [{
//	    "id": "queue", "entityType": "customer",
//	    "steps": [
//	      {"id": "seize", "kind": "seize", "resource": "server", "quantity": 1},
//	      {"id": "service", "kind": "delay", "duration": {"type": "exponential", "parameters": {"rate": 1.0}}},
//	      {"id": "release", "kind": "release", "resource": "server", "quantity": 1}
//	    ]
//	  }],
//	  "entityTypes": [{"name": "customer", "processId": "queue", "arrival": {"kind": "poisson", "rate": 0.8}}]
//	}
func Load(doc []byte) (*desengine.Model, error) {
	if !gjson.ValidBytes(doc) {
		return nil, fmt.Errorf("modeljson: invalid JSON document")
	}
	root := gjson.ParseBytes(doc)
	m := desengine.NewModel()

	m.SetEndTime(root.Get("endTime").Float())
	m.SetWarmup(root.Get("warmup").Float())
	m.SetSeed(root.Get("seed").Int())
	if maxEvents := root.Get("maxEvents"); maxEvents.Exists() {
		m.SetMaxEvents(int(maxEvents.Int()))
	}

	for _, rv := range root.Get("resources").Array() {
		spec, err := parseResource(rv)
		if err != nil {
			return nil, err
		}
		m.AddResource(spec)
	}

	for _, pv := range root.Get("processes").Array() {
		spec, err := parseProcess(pv)
		if err != nil {
			return nil, err
		}
		m.AddProcess(spec)
	}

	for _, ev := range root.Get("entityTypes").Array() {
		spec, err := parseEntityType(ev)
		if err != nil {
			return nil, err
		}
		m.AddEntityType(spec)
	}

	return m, nil
}

func parseResource(v gjson.Result) (desengine.ResourceSpec, error) {
	spec := desengine.ResourceSpec{
		ID:       v.Get("id").String(),
		Name:     v.Get("name").String(),
		Capacity: int(v.Get("capacity").Int()),
	}
	if spec.ID == "" {
		return spec, fmt.Errorf("modeljson: resource missing id")
	}
	switch v.Get("discipline").String() {
	case "lifo":
		spec.Discipline = desengine.LIFO
	case "priority":
		spec.Discipline = desengine.PriorityLowFirst
	}
	if fv := v.Get("failureDist"); fv.Exists() {
		d := parseDistribution(fv)
		spec.FailureDist = &d
	}
	if rv := v.Get("repairDist"); rv.Exists() {
		d := parseDistribution(rv)
		spec.RepairDist = &d
	}
	return spec, nil
}

func parseProcess(v gjson.Result) (desengine.ProcessSpec, error) {
	spec := desengine.ProcessSpec{
		ID:         v.Get("id").String(),
		Name:       v.Get("name").String(),
		EntityType: v.Get("entityType").String(),
		BatchSize:  int(v.Get("batchSize").Int()),
	}
	if spec.ID == "" {
		return spec, fmt.Errorf("modeljson: process missing id")
	}
	for _, sv := range v.Get("steps").Array() {
		step, err := parseStep(sv)
		if err != nil {
			return spec, err
		}
		spec.Steps = append(spec.Steps, step)
	}
	return spec, nil
}

func parseStep(v gjson.Result) (desengine.Step, error) {
	step := desengine.Step{
		ID:       v.Get("id").String(),
		Resource: v.Get("resource").String(),
		Quantity: int(v.Get("quantity").Int()),
	}
	switch v.Get("kind").String() {
	case "seize":
		step.Kind = desengine.Seize
	case "delay":
		step.Kind = desengine.Delay
		step.Duration = parseDistribution(v.Get("duration"))
	case "release":
		step.Kind = desengine.Release
	case "decision":
		step.Kind = desengine.Decision
		step.Branches = parseBranches(v.Get("branches"))
	case "activity", "process":
		step.Kind = desengine.Activity
		step.Duration = parseDistribution(v.Get("duration"))
		step.Routes = parseBranches(v.Get("routes"))
		for _, rv := range v.Get("resourceRequirements").Array() {
			step.ResourceRequirements = append(step.ResourceRequirements, desengine.ResourceRequirement{
				ResourceID: rv.Get("resourceId").String(),
				Quantity:   int(rv.Get("quantity").Int()),
			})
		}
	default:
		return step, fmt.Errorf("modeljson: unknown step kind %q", v.Get("kind").String())
	}
	return step, nil
}

func parseBranches(v gjson.Result) []desengine.Branch {
	var branches []desengine.Branch
	for _, bv := range v.Array() {
		branches = append(branches, desengine.Branch{
			TargetStepID: bv.Get("target").String(),
			Probability:  bv.Get("probability").Float(),
			Predicate:    bv.Get("predicate").String(),
		})
	}
	return branches
}

func parseDistribution(v gjson.Result) distributions.Descriptor {
	params := make(map[string]float64)
	v.Get("parameters").ForEach(func(key, value gjson.Result) bool {
		params[key.String()] = value.Float()
		return true
	})
	return distributions.Descriptor{
		Type:       distributions.Family(v.Get("type").String()),
		Parameters: params,
	}
}

func parseEntityType(v gjson.Result) (desengine.EntityTypeSpec, error) {
	spec := desengine.EntityTypeSpec{
		Name:      v.Get("name").String(),
		ProcessID: v.Get("processId").String(),
	}
	if spec.Name == "" {
		return spec, fmt.Errorf("modeljson: entity type missing name")
	}
	arrival := v.Get("arrival")
	pattern := desengine.ArrivalPattern{}
	switch arrival.Get("kind").String() {
	case "constant":
		pattern.Kind = desengine.ArrivalConstant
		pattern.Interarrival = parseDistribution(arrival.Get("interarrival"))
	case "poisson":
		pattern.Kind = desengine.ArrivalPoisson
		pattern.Rate = arrival.Get("rate").Float()
	case "nonHomogeneousPoisson":
		pattern.Kind = desengine.ArrivalNonHomogeneousPoisson
		for _, pv := range arrival.Get("rateSchedule").Array() {
			pattern.RateSchedule = append(pattern.RateSchedule, desengine.RatePeriod{
				StartTime: pv.Get("startTime").Float(),
				EndTime:   pv.Get("endTime").Float(),
				Rate:      pv.Get("rate").Float(),
			})
		}
	case "explicitSchedule":
		pattern.Kind = desengine.ArrivalExplicitSchedule
		for _, sv := range arrival.Get("schedule").Array() {
			pattern.Schedule = append(pattern.Schedule, desengine.ScheduledArrival{
				Time:     sv.Get("time").Float(),
				Quantity: int(sv.Get("quantity").Int()),
			})
		}
	default:
		return spec, fmt.Errorf("modeljson: unknown arrival kind %q", arrival.Get("kind").String())
	}
	spec.Pattern = pattern
	return spec, nil
}
