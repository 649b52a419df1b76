// Package scene defines the host scene-graph boundary consumed by the
// DFF exporter: nodes, evaluated meshes, armatures and material readers.
// Adapters (such as the glTF loader) populate these types; the exporter
// only ever reads them.
package scene

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/rwkit/dffexport/pkg/dff"
)

// Kind discriminates the scene object kinds the exporter dispatches on.
type Kind int

const (
	KindMesh Kind = iota
	KindEmpty
	KindArmature
)

// Node is one object of the host scene graph.
type Node struct {
	Name   string
	Kind   Kind
	Parent string // parent node name, "" for roots

	Local mgl32.Mat4 // transform relative to the parent
	World mgl32.Mat4 // transform in scene space

	UserData *dff.UserData

	Mesh     *Mesh     // set when Kind == KindMesh
	Armature *Armature // set when Kind == KindArmature

	Settings NodeSettings
}

// NodeSettings are the per-node export switches the host exposes.
type NodeSettings struct {
	ClumpID       int
	Selected      bool
	ExportNormals bool
	WriteBinMesh  bool
	Light         bool
	ModulateColor bool
	DayColors     bool
	NightColors   bool
	UVMap1        bool
	UVMap2        bool
	Pipeline      string // "", or an integer literal in any Go base syntax
}

// GroupWeight is one vertex-group influence on a source vertex.
type GroupWeight struct {
	Group  int
	Weight float32
}

// Corner is one polygon corner: a reference into the vertex buffer plus
// the per-corner attributes the host evaluated for it.
type Corner struct {
	Vertex int
	Normal mgl32.Vec3
	UVs    []mgl32.Vec2  // one per UV layer, source orientation
	Colors [][4]float32  // up to two color layers, 0..1 components
}

// Polygon is an evaluated face of any arity; the geometry builder fan
// triangulates it.
type Polygon struct {
	MaterialIndex int
	Corners       []Corner
}

// Mesh is the evaluated mesh payload of a mesh node. All non-armature
// modifiers are already applied; armature deformation is suppressed so
// skin data reflects the rest pose.
type Mesh struct {
	Positions []mgl32.Vec3
	Polygons  []Polygon

	UVLayerCount    int
	ColorLayerCount int

	GroupNames    []string      // vertex group index -> group name
	VertexWeights [][]GroupWeight // per source vertex, host order

	ArmatureName string // armature modifier target, "" when unskinned

	Materials []*Material // slot order; nil slots are skipped

	UserData *dff.UserData

	BoundBox   [8]mgl32.Vec3 // local-space bounding box corners
	Dimensions mgl32.Vec3    // world-space extents
}

// Armature is the bone list of an armature node, in declaration order.
type Armature struct {
	Bones []Bone
}

// Bone is one skeletal joint with its host-declared id and type.
type Bone struct {
	Name   string
	ID     int32
	Type   uint32
	Parent string     // parent bone name, "" for the root
	Local  mgl32.Mat4 // transform relative to the parent bone
	Rest   mgl32.Mat4 // local-to-armature rest matrix
}

// Graph is a full host scene: all nodes plus the grouping used by batch
// export (one collection per output unit).
type Graph struct {
	Nodes       []*Node
	Collections []Collection

	byName map[string]*Node
}

// Collection is one top-level scene grouping.
type Collection struct {
	Name  string
	Nodes []*Node
}

// Node returns the named node, or nil when absent.
func (g *Graph) Node(name string) *Node {
	if g.byName == nil {
		g.byName = make(map[string]*Node, len(g.Nodes))
		for _, n := range g.Nodes {
			g.byName[n.Name] = n
		}
	}
	return g.byName[name]
}

// Add appends a node and keeps the name index coherent.
func (g *Graph) Add(n *Node) {
	g.Nodes = append(g.Nodes, n)
	if g.byName != nil {
		g.byName[n.Name] = n
	}
}

// ParentDepth returns the number of parent links above the node.
func (g *Graph) ParentDepth(n *Node) int {
	depth := 0
	for p := g.Node(n.Parent); p != nil; p = g.Node(p.Parent) {
		depth++
	}
	return depth
}
