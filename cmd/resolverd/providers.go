package main

import (
	"github.com/swarmguard/entityresolver/internal/flow"
	"github.com/swarmguard/entityresolver/internal/protocol"
	"github.com/swarmguard/entityresolver/internal/registry"
)

// registerSampleEntities seeds the registry with a small illustrative flow,
// the way the teacher's main.go seeds a sample workflow: a parameterized
// "region" entity, a derived "region_label" per case key, and a joint
// provider producing two related constants from one computation.
func registerSampleEntities(reg *registry.Registry) {
	reg.Register(&regionProvider{})
	reg.Register(&regionLabelProvider{})
	reg.Register(&buildInfoProvider{nameVersion: "version", nameCommit: "commit"})
}

// regionProvider is parameterized over a "region" case key entry, producing
// one of a fixed set of region codes verbatim.
type regionProvider struct{}

func (regionProvider) DependencyNames() []flow.EntityName { return nil }

func (regionProvider) KeySpace(map[flow.EntityName]flow.KeySpace) flow.KeySpace {
	regions := []string{"us-east", "us-west", "eu-central"}
	keys := make([]flow.CaseKey, len(regions))
	for i, r := range regions {
		keys[i] = flow.NewCaseKey(flow.CaseKeyEntry{Name: "region", Value: r})
	}
	return flow.KeySpace{CaseKeys: keys}
}

func (p regionProvider) Tasks(ks map[flow.EntityName]flow.KeySpace, _ map[flow.EntityName][]flow.TaskKey) []flow.Task {
	own := p.KeySpace(ks)
	tasks := make([]flow.Task, len(own.CaseKeys))
	for i, ck := range own.CaseKeys {
		ck := ck
		region, _ := ck.Get("region")
		tasks[i] = flow.Task{
			Keys:           []flow.TaskKey{{EntityName: "region", CaseKey: ck}},
			IsSimpleLookup: true,
			Compute: func([]any) ([]any, error) {
				return []any{region}, nil
			},
		}
	}
	return tasks
}

func (regionProvider) CodeID(ck flow.CaseKey) string { return "sample:region:" + ck.String() }
func (regionProvider) ProtocolFor(flow.EntityName) flow.Protocol {
	return protocol.NewJSON[string]("region")
}
func (regionProvider) Attrs() flow.ProviderAttrs {
	return flow.ProviderAttrs{Names: []flow.EntityName{"region"}, ShouldPersist: false}
}

// regionLabelProvider derives a human-readable label per region, exercising
// a parameterized dependency chain.
type regionLabelProvider struct{}

func (regionLabelProvider) DependencyNames() []flow.EntityName { return []flow.EntityName{"region"} }

func (regionLabelProvider) KeySpace(deps map[flow.EntityName]flow.KeySpace) flow.KeySpace {
	return deps["region"]
}

func (regionLabelProvider) Tasks(ks map[flow.EntityName]flow.KeySpace, depTaskKeys map[flow.EntityName][]flow.TaskKey) []flow.Task {
	own := ks["region"]
	regionKeys := depTaskKeys["region"]
	tasks := make([]flow.Task, len(own.CaseKeys))
	for i, ck := range own.CaseKeys {
		tasks[i] = flow.Task{
			Keys:    []flow.TaskKey{{EntityName: "region_label", CaseKey: ck}},
			DepKeys: []flow.TaskKey{regionKeys[i]},
			Compute: func(deps []any) ([]any, error) {
				return []any{"Region: " + deps[0].(string)}, nil
			},
		}
	}
	return tasks
}

func (regionLabelProvider) CodeID(ck flow.CaseKey) string { return "sample:region_label:" + ck.String() }
func (regionLabelProvider) ProtocolFor(flow.EntityName) flow.Protocol {
	return protocol.NewJSON[string]("region_label")
}
func (regionLabelProvider) Attrs() flow.ProviderAttrs {
	return flow.ProviderAttrs{Names: []flow.EntityName{"region_label"}, ShouldPersist: false}
}

// buildInfoProvider produces two related constants from a single joint
// computation, exercising the shared-TaskState joint-output path.
type buildInfoProvider struct {
	nameVersion, nameCommit flow.EntityName
}

func (p *buildInfoProvider) DependencyNames() []flow.EntityName { return nil }

func (p *buildInfoProvider) KeySpace(map[flow.EntityName]flow.KeySpace) flow.KeySpace {
	return flow.KeySpace{CaseKeys: []flow.CaseKey{flow.EmptyCaseKey}}
}

func (p *buildInfoProvider) Tasks(map[flow.EntityName]flow.KeySpace, map[flow.EntityName][]flow.TaskKey) []flow.Task {
	return []flow.Task{{
		Keys: []flow.TaskKey{
			{EntityName: p.nameVersion, CaseKey: flow.EmptyCaseKey},
			{EntityName: p.nameCommit, CaseKey: flow.EmptyCaseKey},
		},
		IsSimpleLookup: true,
		Compute: func([]any) ([]any, error) {
			return []any{"0.1.0", "unknown"}, nil
		},
	}}
}

func (p *buildInfoProvider) CodeID(flow.CaseKey) string { return "sample:build_info" }
func (p *buildInfoProvider) ProtocolFor(name flow.EntityName) flow.Protocol {
	return protocol.NewJSON[string](string(name))
}
func (p *buildInfoProvider) Attrs() flow.ProviderAttrs {
	return flow.ProviderAttrs{Names: []flow.EntityName{p.nameVersion, p.nameCommit}, ShouldPersist: false}
}
