package playback

import (
	"sort"
	"sync"

	"github.com/moviola-io/moviola/types"
)

// Coordinator tracks sync groups: sets of nodes whose frame indices move
// in lock-step. Movement is translated as a delta from the origin node and
// clamped per member, so nodes of different lengths drift at the edges and
// re-align when the origin moves back into range. Disabling sync freezes
// members where they are; re-enabling resumes relative movement without
// snapping anyone to an absolute position.
type Coordinator struct {
	mu         sync.Mutex
	enabled    bool
	groups     map[types.SyncGroupID][]types.NodeID
	membership map[types.NodeID]types.SyncGroupID
}

// NewCoordinator creates a coordinator with sync enabled and no groups.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		enabled:    true,
		groups:     make(map[types.SyncGroupID][]types.NodeID),
		membership: make(map[types.NodeID]types.SyncGroupID),
	}
}

// Enable turns delta propagation on.
func (c *Coordinator) Enable() {
	c.mu.Lock()
	c.enabled = true
	c.mu.Unlock()
}

// Disable turns delta propagation off. Group membership is kept.
func (c *Coordinator) Disable() {
	c.mu.Lock()
	c.enabled = false
	c.mu.Unlock()
}

// Enabled reports whether deltas propagate.
func (c *Coordinator) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// SetGroup assigns the given nodes to group id, replacing the group's
// previous membership. A node can belong to one group at a time; it is
// removed from any other group first.
func (c *Coordinator) SetGroup(id types.SyncGroupID, nodes ...types.NodeID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, member := range c.groups[id] {
		delete(c.membership, member)
	}
	c.groups[id] = nil

	for _, node := range nodes {
		if prev, ok := c.membership[node]; ok {
			c.groups[prev] = removeNode(c.groups[prev], node)
		}
		c.membership[node] = id
		c.groups[id] = append(c.groups[id], node)
	}
	sort.Slice(c.groups[id], func(i, j int) bool { return c.groups[id][i] < c.groups[id][j] })
}

// Join adds a node to group id, leaving any previous group.
func (c *Coordinator) Join(id types.SyncGroupID, node types.NodeID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.membership[node]; ok {
		if prev == id {
			return
		}
		c.groups[prev] = removeNode(c.groups[prev], node)
	}
	c.membership[node] = id
	c.groups[id] = append(c.groups[id], node)
	sort.Slice(c.groups[id], func(i, j int) bool { return c.groups[id][i] < c.groups[id][j] })
}

// Leave removes a node from its group, if any.
func (c *Coordinator) Leave(node types.NodeID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.membership[node]
	if !ok {
		return
	}
	delete(c.membership, node)
	c.groups[id] = removeNode(c.groups[id], node)
	if len(c.groups[id]) == 0 {
		delete(c.groups, id)
	}
}

// Group returns the node's group id, or false when ungrouped.
func (c *Coordinator) Group(node types.NodeID) (types.SyncGroupID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.membership[node]
	return id, ok
}

// Members returns the nodes sharing a group with node, including node
// itself, in id order. A node without a group is its own sole member.
func (c *Coordinator) Members(node types.NodeID) []types.NodeID {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.membership[node]
	if !ok {
		return []types.NodeID{node}
	}
	members := make([]types.NodeID, len(c.groups[id]))
	copy(members, c.groups[id])
	return members
}

func removeNode(nodes []types.NodeID, node types.NodeID) []types.NodeID {
	for i := range nodes {
		if nodes[i] == node {
			return append(nodes[:i], nodes[i+1:]...)
		}
	}
	return nodes
}
