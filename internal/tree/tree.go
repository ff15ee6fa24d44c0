// Package tree rebuilds reply forests from flat, time-ordered node lists.
package tree

// Node is anything that knows its own id and its parent's id. An empty
// parent id marks a root.
type Node interface {
	NodeID() string
	ParentNodeID() string
}

// Thread is one node of the rebuilt forest
type Thread[T Node] struct {
	Node    T            `json:"node"`
	Replies []*Thread[T] `json:"replies"`
}

// Build returns the forest for nodes, which must be in chronological order.
//
// A node is attached to its parent only when the parent occurs earlier in the
// input. Nodes whose parent is missing, occurs later, or is the node itself
// become roots, so no node is ever dropped and the result cannot contain a
// cycle. Roots and replies keep their input order.
func Build[T Node](nodes []T) []*Thread[T] {
	n := len(nodes)
	if n == 0 {
		return nil
	}

	// arena: index links instead of pointer chasing while resolving parents
	index := make(map[string]int, n)
	parent := make([]int, n)
	children := make([][]int, n)
	for i, node := range nodes {
		parent[i] = -1
		if p, ok := index[node.ParentNodeID()]; ok && node.ParentNodeID() != "" && node.ParentNodeID() != node.NodeID() {
			parent[i] = p
			children[p] = append(children[p], i)
		}
		// first occurrence wins for duplicate ids
		if _, seen := index[node.NodeID()]; !seen {
			index[node.NodeID()] = i
		}
	}

	threads := make([]*Thread[T], n)
	for i := n - 1; i >= 0; i-- {
		t := &Thread[T]{Node: nodes[i]}
		if len(children[i]) > 0 {
			t.Replies = make([]*Thread[T], len(children[i]))
			for j, c := range children[i] {
				t.Replies[j] = threads[c]
			}
		}
		threads[i] = t
	}

	var roots []*Thread[T]
	for i := 0; i < n; i++ {
		if parent[i] < 0 {
			roots = append(roots, threads[i])
		}
	}
	return roots
}

// Count returns the number of nodes in a forest
func Count[T Node](forest []*Thread[T]) int {
	total := 0
	for _, t := range forest {
		total += 1 + Count(t.Replies)
	}
	return total
}

// Flatten returns the forest's nodes in depth-first pre-order
func Flatten[T Node](forest []*Thread[T]) []T {
	out := make([]T, 0, Count(forest))
	var walk func([]*Thread[T])
	walk = func(ts []*Thread[T]) {
		for _, t := range ts {
			out = append(out, t.Node)
			walk(t.Replies)
		}
	}
	walk(forest)
	return out
}

// Depth returns the number of levels in the forest; 0 for an empty forest
func Depth[T Node](forest []*Thread[T]) int {
	deepest := 0
	for _, t := range forest {
		if d := 1 + Depth(t.Replies); d > deepest {
			deepest = d
		}
	}
	return deepest
}

// Find returns the subtree rooted at id, or nil
func Find[T Node](forest []*Thread[T], id string) *Thread[T] {
	for _, t := range forest {
		if t.Node.NodeID() == id {
			return t
		}
		if found := Find(t.Replies, id); found != nil {
			return found
		}
	}
	return nil
}
