package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDependencyCycle(t *testing.T) {
	// 2 depends on 1, 3 depends on 2.
	graph := map[int64][]int64{
		2: {1},
		3: {2},
	}

	assert.Nil(t, dependencyCycle(graph, 4, []int64{1, 3}), "new edges into an acyclic graph")
	assert.Nil(t, dependencyCycle(graph, 3, []int64{1}), "replacing own edges")
	assert.Equal(t, []int64{5, 5}, dependencyCycle(graph, 5, []int64{5}))
	assert.Equal(t, []int64{1, 3, 2, 1}, dependencyCycle(graph, 1, []int64{3}))
	assert.Equal(t, []int64{1, 2, 1}, dependencyCycle(graph, 1, []int64{2, 3}), "lowest dependency id is reported first")
}

func TestCycleMessage(t *testing.T) {
	assert.Equal(t, "a task cannot depend on itself", cycleMessage([]int64{4, 4}))
	assert.Equal(t, "dependency cycle: 1 -> 3 -> 2 -> 1", cycleMessage([]int64{1, 3, 2, 1}))
}
