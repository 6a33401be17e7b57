package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sage-x-project/meshnet/pkg/meshnet"
)

func TestRoutingTableInsertAndNextHops(t *testing.T) {
	table := NewRoutingTable()
	assert.False(t, table.Has("target-1"))

	table.Insert("target-1", "hop-a")
	table.Insert("target-1", "hop-b")

	assert.True(t, table.Has("target-1"))
	hops := table.NextHops("target-1")
	assert.ElementsMatch(t, []meshnet.NodeID{"hop-a", "hop-b"}, hops)
	assert.Equal(t, 1, table.Size())
}

func TestRoutingTableIgnoresSelfLoop(t *testing.T) {
	table := NewRoutingTable()
	table.Insert("node-1", "node-1")
	assert.False(t, table.Has("node-1"))
}

func TestRoutingTableRemoveDropsEmptyTarget(t *testing.T) {
	table := NewRoutingTable()
	table.Insert("target-1", "hop-a")
	table.Remove("target-1", "hop-a")

	assert.False(t, table.Has("target-1"))
	assert.Equal(t, 0, table.Size())
}

func TestRoutingTableRemoveKeepsOtherHops(t *testing.T) {
	table := NewRoutingTable()
	table.Insert("target-1", "hop-a")
	table.Insert("target-1", "hop-b")
	table.Remove("target-1", "hop-a")

	assert.True(t, table.Has("target-1"))
	assert.Equal(t, []meshnet.NodeID{"hop-b"}, table.NextHops("target-1"))
}
