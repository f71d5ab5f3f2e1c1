package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAdjacency(t *testing.T) {
	nodes := []Node{
		{NodeID: "trigger"},
		{NodeID: "buy"},
		{NodeID: "sell"},
	}
	edges := []Edge{
		{Source: "trigger", Target: "buy"},
		{Source: "trigger", Target: "sell"},
	}

	graph := BuildAdjacency(nodes, edges)

	assert.Equal(t, []string{"buy", "sell"}, graph["trigger"])
	assert.Empty(t, graph["buy"])
	assert.Empty(t, graph["sell"])
}

func TestSelectTriggerNode(t *testing.T) {
	t.Run("single trigger", func(t *testing.T) {
		nodes := []Node{
			{NodeID: "a", Kind: NodeKindAction},
			{NodeID: "t", Kind: NodeKindTrigger},
		}

		trigger, err := SelectTriggerNode(nodes)
		require.NoError(t, err)
		assert.Equal(t, "t", trigger.NodeID)
	})

	t.Run("no trigger", func(t *testing.T) {
		nodes := []Node{{NodeID: "a", Kind: NodeKindAction}}

		_, err := SelectTriggerNode(nodes)
		assert.ErrorIs(t, err, ErrNoTriggerNode)
	})

	t.Run("multiple triggers rejected", func(t *testing.T) {
		nodes := []Node{
			{NodeID: "t1", Kind: NodeKindTrigger},
			{NodeID: "t2", Kind: NodeKindTrigger},
		}

		_, err := SelectTriggerNode(nodes)
		assert.ErrorIs(t, err, ErrMultipleTriggerNodes)
	})
}

func TestHasCycle(t *testing.T) {
	t.Run("acyclic chain", func(t *testing.T) {
		graph := map[string][]string{
			"a": {"b"},
			"b": {"c"},
			"c": {},
		}
		assert.False(t, HasCycle(graph))
	})

	t.Run("diamond is acyclic", func(t *testing.T) {
		graph := map[string][]string{
			"a": {"b", "c"},
			"b": {"d"},
			"c": {"d"},
			"d": {},
		}
		assert.False(t, HasCycle(graph))
	})

	t.Run("back edge", func(t *testing.T) {
		graph := map[string][]string{
			"a": {"b"},
			"b": {"c"},
			"c": {"a"},
		}
		assert.True(t, HasCycle(graph))
	})

	t.Run("self loop", func(t *testing.T) {
		graph := map[string][]string{"a": {"a"}}
		assert.True(t, HasCycle(graph))
	})
}
