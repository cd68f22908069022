package comm

import (
	"fmt"
	"sort"
	"strings"
)

// Structs

// VClock maps replica names to the number of
// operations of that replica a node has applied.
type VClock map[string]uint32

// Functions

// Copy returns a deep copy of the vector clock.
func (vc VClock) Copy() VClock {

	cp := make(VClock, len(vc))
	for node, value := range vc {
		cp[node] = value
	}

	return cp
}

// Join adjusts the vector clock to the pair-wise
// maximum of both clocks' elements.
func (vc VClock) Join(other VClock) {

	for node, value := range other {

		if value > vc[node] {
			vc[node] = value
		}
	}
}

// Covers reports whether every entry of other is
// less than or equal to the corresponding entry.
func (vc VClock) Covers(other VClock) bool {

	for node, value := range other {

		if value > vc[node] {
			return false
		}
	}

	return true
}

// String returns the entries as 'node:value' pairs
// separated by semicolons, sorted by node name.
func (vc VClock) String() string {

	nodes := make([]string, 0, len(vc))
	for node := range vc {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)

	pairs := make([]string, 0, len(nodes))
	for _, node := range nodes {
		pairs = append(pairs, fmt.Sprintf("%s:%d", node, vc[node]))
	}

	return strings.Join(pairs, ";")
}
