package domain

import "fmt"

// ChainIndex is the adjacency map of achievement chains, built once per
// evaluation batch or admin write from the full definition list.
type ChainIndex struct {
	defs     map[string]Definition
	parent   map[string]string
	children map[string][]string
}

// NewChainIndex indexes defs by id and by parent link
func NewChainIndex(defs []Definition) *ChainIndex {
	idx := &ChainIndex{
		defs:     make(map[string]Definition, len(defs)),
		parent:   make(map[string]string),
		children: make(map[string][]string),
	}
	for _, d := range defs {
		idx.defs[d.ID] = d
		if d.ParentID != nil {
			idx.parent[d.ID] = *d.ParentID
			idx.children[*d.ParentID] = append(idx.children[*d.ParentID], d.ID)
		}
	}
	return idx
}

// Definition returns the indexed definition by id
func (c *ChainIndex) Definition(id string) (Definition, bool) {
	d, ok := c.defs[id]
	return d, ok
}

// Parent returns the parent definition of id, if any
func (c *ChainIndex) Parent(id string) (Definition, bool) {
	pid, ok := c.parent[id]
	if !ok {
		return Definition{}, false
	}
	d, ok := c.defs[pid]
	return d, ok
}

// Depth returns how many indexed ancestors id has. The walk stops at a
// missing parent or a cycle.
func (c *ChainIndex) Depth(id string) int {
	depth := 0
	seen := map[string]bool{id: true}
	for cur := c.parent[id]; cur != ""; cur = c.parent[cur] {
		if _, ok := c.defs[cur]; !ok || seen[cur] {
			break
		}
		seen[cur] = true
		depth++
	}
	return depth
}

// CheckLink verifies that giving id the parent parentID keeps every chain a
// simple forward path: the parent exists, no cycle forms and the parent has
// no other successor.
func (c *ChainIndex) CheckLink(id, parentID string) error {
	if _, ok := c.defs[parentID]; !ok {
		return fmt.Errorf("parent %s: %w", parentID, ErrDefinitionNotFound)
	}
	for _, child := range c.children[parentID] {
		if child != id {
			return fmt.Errorf("parent %s already continues with %s: %w", parentID, child, ErrChainIntegrity)
		}
	}
	seen := map[string]bool{id: true}
	for cur := parentID; cur != ""; cur = c.parent[cur] {
		if seen[cur] {
			return fmt.Errorf("linking %s to %s forms a cycle: %w", id, parentID, ErrChainIntegrity)
		}
		seen[cur] = true
	}
	return nil
}
