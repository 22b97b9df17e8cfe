package modeljson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mm1Doc = `{
	"endTime": 5000, "warmup": 500, "seed": 42,
	"resources": [{"id": "server", "name": "Server", "capacity": 1}],
	"processes": [{
		"id": "queue", "entityType": "customer",
		"steps": [
			{"id": "seize", "kind": "seize", "resource": "server", "quantity": 1},
			{"id": "service", "kind": "delay", "duration": {"type": "exponential", "parameters": {"rate": 1.0}}},
			{"id": "release", "kind": "release", "resource": "server", "quantity": 1}
		]
	}],
	"entityTypes": [{"name": "customer", "processId": "queue", "arrival": {"kind": "poisson", "rate": 0.8}}]
}`

func TestLoadValidDocument(t *testing.T) {
	m, err := Load([]byte(mm1Doc))
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.NoError(t, m.Validate())
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	_, err := Load([]byte("{not json"))
	assert.Error(t, err)
}

func TestLoadRejectsMissingResourceID(t *testing.T) {
	doc := `{"resources": [{"name": "nope", "capacity": 1}]}`
	_, err := Load([]byte(doc))
	assert.Error(t, err)
}

func TestLoadRejectsUnknownStepKind(t *testing.T) {
	doc := `{
		"processes": [{"id": "p", "entityType": "x", "steps": [{"id":"s","kind":"teleport"}]}]
	}`
	_, err := Load([]byte(doc))
	assert.Error(t, err)
}

func TestLoadRejectsUnknownArrivalKind(t *testing.T) {
	doc := `{"entityTypes": [{"name": "x", "processId": "p", "arrival": {"kind": "unknown"}}]}`
	_, err := Load([]byte(doc))
	assert.Error(t, err)
}

func TestLoadDecisionBranchesAndPredicates(t *testing.T) {
	doc := `{
		"resources": [{"id": "a", "capacity": 1}, {"id": "b", "capacity": 1}],
		"processes": [{
			"id": "p", "entityType": "x",
			"steps": [
				{"id": "d", "kind": "decision", "branches": [
					{"target": "sa", "probability": 0.6},
					{"target": "sb", "probability": 0.4},
					{"target": "sa", "predicate": "priority > 2"}
				]},
				{"id": "sa", "kind": "seize", "resource": "a"},
				{"id": "sb", "kind": "seize", "resource": "b"}
			]
		}]
	}`
	m, err := Load([]byte(doc))
	require.NoError(t, err)
	assert.NoError(t, m.Validate())
}
