// Copyright 2016 The Sandpass Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package model

// Group is a hierarchical collection of child nodes (Groups and Entries).
type Group struct {
	UUID                    UUID
	Name                    string
	Notes                   string
	IconID                  int
	CustomIconUUID          UUID
	Times                   Times
	IsExpanded              bool
	DefaultAutoTypeSequence string
	EnableAutoType          Tristate
	EnableSearching         Tristate
	LastTopVisibleEntry     UUID
	CustomData              map[string]string

	children []Node
	owner    *Group
}

// NodeUUID implements Node.
func (g *Group) NodeUUID() UUID { return g.UUID }

func (g *Group) nodeTimes() *Times { return &g.Times }
func (g *Group) setParent(p *Group) { g.owner = p }
func (g *Group) parent() *Group { return g.owner }

// Parent returns g's parent group, or nil if g is the root.
func (g *Group) Parent() *Group { return g.owner }

// Children returns g's direct children in order. The returned slice
// is a copy; mutating it does not affect the tree.
func (g *Group) Children() []Node {
	out := make([]Node, len(g.children))
	copy(out, g.children)
	return out
}

// Groups returns g's direct subgroups in order.
func (g *Group) Groups() []*Group {
	var out []*Group
	for _, n := range g.children {
		if sub, ok := n.(*Group); ok {
			out = append(out, sub)
		}
	}
	return out
}

// Entries returns g's direct entries in order.
func (g *Group) Entries() []*Entry {
	var out []*Entry
	for _, n := range g.children {
		if e, ok := n.(*Entry); ok {
			out = append(out, e)
		}
	}
	return out
}

// AppendChild appends a child without any invariant checking. Codecs
// use this while building a freshly parsed tree, before it is handed
// to a Database where invariants (UUID uniqueness, acyclicity) are
// enforced centrally.
func (g *Group) AppendChild(n Node) {
	n.setParent(g)
	g.children = append(g.children, n)
}

// detach removes n from g's children, if present.
func (g *Group) detach(n Node) bool {
	for i, c := range g.children {
		if c == n {
			copy(g.children[i:], g.children[i+1:])
			g.children[len(g.children)-1] = nil
			g.children = g.children[:len(g.children)-1]
			n.setParent(nil)
			return true
		}
	}
	return false
}

// Walk calls fn for g and every descendant, pre-order, depth-first.
// Walk never skips a node; fn's return value does not affect traversal.
func Walk(n Node, fn func(Node)) {
	fn(n)
	if g, ok := n.(*Group); ok {
		for _, c := range g.children {
			Walk(c, fn)
		}
	}
}
