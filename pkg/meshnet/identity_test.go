package meshnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewNodeIDUnique(t *testing.T) {
	a := NewNodeID()
	b := NewNodeID()
	assert.NotEqual(t, a, b)
	assert.NotEmpty(t, a.String())
}

func TestPeerRecordEqual(t *testing.T) {
	p1 := PeerRecord{ID: "node-1", Host: "127.0.0.1", Port: 9001}
	p2 := PeerRecord{ID: "node-1", Host: "127.0.0.1", Port: 9001}
	p3 := PeerRecord{ID: "node-1", Host: "127.0.0.1", Port: 9002}

	assert.True(t, p1.Equal(p2))
	assert.False(t, p1.Equal(p3))
	assert.Equal(t, "127.0.0.1:9001", p1.Address())
}
