package link

import (
	"net/netip"
	"sort"
)

// Router holds the routing table: the set of registered peers plus the
// distinguished self node, with the selection primitives the link
// layer needs. Like Node, it is owned by the link layer task.
type Router struct {
	self  *Node
	nodes map[netip.AddrPort]*Node

	// rr advances on every master selection so load scatters over the
	// network deterministically within a process.
	rr int
}

// NewRouter creates an empty routing table.
func NewRouter() *Router {
	return &Router{nodes: make(map[netip.AddrPort]*Node)}
}

// SelfNode returns the local node, or nil before the join finished.
func (r *Router) SelfNode() *Node {
	return r.self
}

// SetSelfNode installs the local node and adds it to the table.
func (r *Router) SetSelfNode(n *Node) {
	r.self = n
	r.nodes[n.Endpoint()] = n
}

// UpdateNode adds a peer to the table, or re-indexes it after its
// fields changed.
func (r *Router) UpdateNode(n *Node) {
	r.nodes[n.Endpoint()] = n
}

// RemoveNode drops a peer from the table.
func (r *Router) RemoveNode(n *Node) {
	delete(r.nodes, n.Endpoint())
}

// Contains reports whether the peer is in the table.
func (r *Router) Contains(n *Node) bool {
	got, ok := r.nodes[n.Endpoint()]
	return ok && got == n
}

// Count returns the number of registered nodes including self.
func (r *Router) Count() int {
	return len(r.nodes)
}

// Nodes returns all registered nodes ordered by endpoint.
func (r *Router) Nodes() []*Node {
	out := make([]*Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	sortNodes(out)
	return out
}

// OtherNodes returns all registered nodes except self.
func (r *Router) OtherNodes() []*Node {
	out := make([]*Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		if n != r.self {
			out = append(out, n)
		}
	}
	sortNodes(out)
	return out
}

// Masters returns all registered masters including self.
func (r *Router) Masters() []*Node {
	var out []*Node
	for _, n := range r.nodes {
		if n.IsMaster() {
			out = append(out, n)
		}
	}
	sortNodes(out)
	return out
}

// OtherMasters returns all registered masters except self.
func (r *Router) OtherMasters() []*Node {
	var out []*Node
	for _, n := range r.nodes {
		if n.IsMaster() && n != r.self {
			out = append(out, n)
		}
	}
	sortNodes(out)
	return out
}

// MasterCount returns the number of registered masters.
func (r *Router) MasterCount() int {
	count := 0
	for _, n := range r.nodes {
		if n.IsMaster() {
			count++
		}
	}
	return count
}

// FindByOverlayIP looks a peer up by its overlay address.
func (r *Router) FindByOverlayIP(ip netip.Addr) *Node {
	for _, n := range r.nodes {
		if n.Identity().IP == ip {
			return n
		}
	}
	return nil
}

// SelectMaster picks a master round-robin, preferring masters other
// than self so requests scatter over the network. It returns self only
// when self is the sole master, and nil when there is no master at
// all.
func (r *Router) SelectMaster() *Node {
	masters := r.OtherMasters()
	if len(masters) == 0 {
		if r.self != nil && r.self.IsMaster() {
			return r.self
		}
		return nil
	}
	m := masters[r.rr%len(masters)]
	r.rr++
	return m
}

// SelectReincarnationTarget picks a slave eligible for promotion: not
// self, not a master, not behind NAT. Returns nil when none qualifies.
func (r *Router) SelectReincarnationTarget() *Node {
	for _, n := range r.Nodes() {
		if n == r.self || n.IsMaster() || n.IsBehindNAT() {
			continue
		}
		return n
	}
	return nil
}

// Clear drops all nodes including self.
func (r *Router) Clear() {
	r.self = nil
	r.nodes = make(map[netip.AddrPort]*Node)
	r.rr = 0
}

// sortNodes orders nodes by endpoint so selection is deterministic
// within a process.
func sortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool {
		a, b := nodes[i].Endpoint(), nodes[j].Endpoint()
		if a.Addr() != b.Addr() {
			return a.Addr().Less(b.Addr())
		}
		return a.Port() < b.Port()
	})
}
