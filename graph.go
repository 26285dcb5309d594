package persist

import (
	"reflect"
	"slices"
)

// Graph is a fetch plan for a managed type: the relation attributes to
// load together with the entity, each optionally refined by a subgraph.
type Graph struct {
	name  string
	class reflect.Type
	nodes []*AttributeNode
}

// NewGraph returns an empty named graph rooted at T. T may be the struct
// type or a pointer to it.
func NewGraph[T any](name string) *Graph {
	return &Graph{name: name, class: indirect(reflect.TypeFor[T]())}
}

// Name returns the graph name. Subgraphs are unnamed.
func (g *Graph) Name() string { return g.name }

// ClassType returns the managed type the graph was defined against.
func (g *Graph) ClassType() reflect.Type { return g.class }

// AddAttributeNodes adds nodes for the named attributes. Attributes that
// already have a node are left unchanged.
func (g *Graph) AddAttributeNodes(names ...string) *Graph {
	for _, name := range names {
		g.node(name)
	}
	return g
}

// AddSubgraph adds a node for attr, rooted at class, and returns its
// subgraph. An existing subgraph for attr is returned as is.
func (g *Graph) AddSubgraph(attr string, class reflect.Type) *Subgraph {
	n := g.node(attr)
	if n.subgraph == nil {
		n.subgraph = &Subgraph{Graph: Graph{class: indirect(class)}}
	}
	return n.subgraph
}

// AddSubgraphOf is AddSubgraph with the subgraph type given statically.
func AddSubgraphOf[T any](g *Graph, attr string) *Subgraph {
	return g.AddSubgraph(attr, reflect.TypeFor[T]())
}

// AttributeNode returns the node for the named attribute.
func (g *Graph) AttributeNode(name string) (*AttributeNode, bool) {
	for _, n := range g.nodes {
		if n.name == name {
			return n, true
		}
	}
	return nil, false
}

// HasAttributeNode reports whether the graph includes the attribute.
func (g *Graph) HasAttributeNode(name string) bool {
	_, ok := g.AttributeNode(name)
	return ok
}

// RemoveAttributeNode removes the node for the named attribute.
func (g *Graph) RemoveAttributeNode(name string) {
	g.nodes = slices.DeleteFunc(g.nodes, func(n *AttributeNode) bool { return n.name == name })
}

// AttributeNodes returns the nodes in insertion order.
func (g *Graph) AttributeNodes() []*AttributeNode {
	return slices.Clone(g.nodes)
}

func (g *Graph) node(name string) *AttributeNode {
	if n, ok := g.AttributeNode(name); ok {
		return n
	}
	n := &AttributeNode{name: name}
	g.nodes = append(g.nodes, n)
	return n
}

// Subgraph is the part of a fetch plan that applies to a related type.
type Subgraph struct {
	Graph
}

// AttributeNode is one attribute of a fetch plan.
type AttributeNode struct {
	name     string
	subgraph *Subgraph
}

// Name returns the attribute name.
func (n *AttributeNode) Name() string { return n.name }

// Subgraph returns the subgraph attached to the node, if any.
func (n *AttributeNode) Subgraph() (*Subgraph, bool) {
	return n.subgraph, n.subgraph != nil
}

func indirect(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
