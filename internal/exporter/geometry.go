package exporter

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"github.com/rwkit/dffexport/pkg/dff"
	"github.com/rwkit/dffexport/pkg/scene"
)

// ErrTooManyVertices reports a mesh whose deduplicated vertices no longer
// fit the 16-bit index space of the triangle buffer.
var ErrTooManyVertices = errors.New("too many vertices for 16-bit triangle indices")

// maxBoneInfluences is the per-vertex influence cap of the skin plugin.
const maxBoneInfluences = 4

// boundRadiusFactor approximates an enclosing sphere from the largest
// world-space dimension (sqrt(3)/2 of it, matching the format family's
// established output bit for bit).
const boundRadiusFactor = 1.732

// boneInfluence is one (bone index, weight) pair on a corner.
type boneInfluence struct {
	bone   int
	weight float32
}

// corner is one triangulated face corner before deduplication.
type corner struct {
	src    int
	normal mgl32.Vec3
	uvs    [2]mgl32.Vec2
	uvN    int
	colors [][4]float32
	bones  []boneInfluence
}

// vertexKey identifies corners that collapse into one stored vertex: same
// source vertex, same normal, same UV set. Colors and bone weights derive
// from the source vertex, so they are necessarily equal when the key is.
type vertexKey struct {
	src    int
	normal [3]float32
	uvs    [2][2]float32
	uvN    int
}

func (c *corner) key() vertexKey {
	k := vertexKey{
		src:    c.src,
		normal: [3]float32{c.normal.X(), c.normal.Y(), c.normal.Z()},
		uvN:    c.uvN,
	}
	for i := 0; i < c.uvN; i++ {
		k.uvs[i] = [2]float32{c.uvs[i].X(), c.uvs[i].Y()}
	}
	return k
}

// exportAtomic builds the geometry for a mesh node, creates its frame and
// binds the two with an atomic.
func (s *Session) exportAtomic(cs *clumpState, n *scene.Node) error {
	geom, err := s.buildGeometry(n)
	if err != nil {
		return err
	}

	frameIndex := s.createFrame(cs, frameSpec{
		name:     n.Name,
		local:    n.Local,
		parent:   n.Parent,
		userData: n.UserData,
	})

	geom.Bounds = boundingSphere(n)
	geom.Materials = s.buildMaterials(n)

	st := n.Settings
	geom.ExportNormals = st.ExportNormals
	geom.WriteBinMesh = st.WriteBinMesh
	geom.Light = st.Light
	geom.ModulateColor = st.ModulateColor
	geom.UserData = n.Mesh.UserData

	if st.Pipeline != "" && st.Pipeline != "NONE" {
		p, err := strconv.ParseUint(st.Pipeline, 0, 32)
		if err != nil {
			s.log.Warn("invalid pipeline identifier, omitting",
				zap.String("object", n.Name),
				zap.String("pipeline", st.Pipeline))
		} else {
			geom.Pipeline = uint32(p)
		}
	}

	cs.clump.Geometries = append(cs.clump.Geometries, geom)
	cs.clump.Atomics = append(cs.clump.Atomics, dff.Atomic{
		FrameIndex:    uint32(frameIndex),
		GeometryIndex: uint32(len(cs.clump.Geometries) - 1),
		Flags:         dff.AtomicRenderFlags,
	})
	return nil
}

// buildGeometry triangulates the evaluated mesh, collects per-corner
// attributes, deduplicates shared corners and emits the consolidated
// vertex and triangle buffers plus the optional skin binding.
func (s *Session) buildGeometry(n *scene.Node) (*dff.Geometry, error) {
	mesh := n.Mesh
	st := n.Settings

	// Maximum exported UV layers: 0 without the first map, 2 only when
	// the second map is requested on top of the first.
	maxUV := 0
	if st.UVMap1 {
		maxUV = 1
		if st.UVMap2 {
			maxUV = 2
		}
	}
	if maxUV > mesh.UVLayerCount {
		maxUV = mesh.UVLayerCount
	}

	skin, boneGroups := s.buildSkin(n)

	var (
		emitted  []corner
		index    = make(map[vertexKey]uint16)
		tris     []dff.Triangle
		overflow bool
	)

	emit := func(c corner) uint16 {
		k := c.key()
		if i, ok := index[k]; ok {
			return i
		}
		if len(emitted) > math.MaxUint16 {
			overflow = true
			return 0
		}
		i := uint16(len(emitted))
		emitted = append(emitted, c)
		index[k] = i
		return i
	}

	for pi := range mesh.Polygons {
		poly := &mesh.Polygons[pi]
		corners := make([]corner, len(poly.Corners))
		for ci := range poly.Corners {
			corners[ci] = s.collectCorner(mesh, &poly.Corners[ci], maxUV, boneGroups)
		}
		// Fan triangulation; every polygon is convex by contract.
		for i := 1; i+1 < len(corners); i++ {
			a := emit(corners[0])
			b := emit(corners[i])
			c := emit(corners[i+1])
			tris = append(tris, dff.Triangle{
				B:          b,
				A:          a,
				MaterialID: uint16(poly.MaterialIndex),
				C:          c,
			})
		}
	}

	if overflow {
		return nil, fmt.Errorf("%w: limit is %d", ErrTooManyVertices, math.MaxUint16+1)
	}

	geom := &dff.Geometry{Triangles: tris}
	s.populateVertexBuffers(geom, emitted, mesh, st, maxUV, skin)
	return geom, nil
}

// collectCorner gathers one corner's attributes: position reference,
// split normal, up to maxUV texture coordinates, up to two color layers
// and up to four positive bone influences.
func (s *Session) collectCorner(mesh *scene.Mesh, src *scene.Corner, maxUV int, boneGroups map[int]int) corner {
	c := corner{
		src:    src.Vertex,
		normal: src.Normal,
	}
	for i := 0; i < maxUV && i < len(src.UVs); i++ {
		c.uvs[i] = src.UVs[i]
		c.uvN++
	}
	for i := 0; i < 2 && i < len(src.Colors); i++ {
		c.colors = append(c.colors, src.Colors[i])
	}
	if boneGroups != nil && src.Vertex < len(mesh.VertexWeights) {
		for _, gw := range mesh.VertexWeights[src.Vertex] {
			if len(c.bones) >= maxBoneInfluences {
				break
			}
			bone, ok := boneGroups[gw.Group]
			if !ok || gw.Weight <= 0 {
				continue
			}
			c.bones = append(c.bones, boneInfluence{bone: bone, weight: gw.Weight})
		}
	}
	return c
}

// populateVertexBuffers emits the deduplicated vertices in the fixed
// order: positions, normals, prelit colors, night colors (extension), UV
// layers with flipped V, and the zero-padded skin arrays. Corners missing
// an announced attribute pad with zero entries so every emitted buffer
// matches the vertex count.
func (s *Session) populateVertexBuffers(geom *dff.Geometry, emitted []corner, mesh *scene.Mesh, st scene.NodeSettings, maxUV int, skin *dff.Skin) {
	hasPrelit := mesh.ColorLayerCount > 0 && st.DayColors
	hasNight := mesh.ColorLayerCount > 1 && st.NightColors

	var extra *dff.ExtraVertColor
	if hasNight {
		extra = &dff.ExtraVertColor{}
	}
	if maxUV > 0 {
		geom.UVLayers = make([][]dff.TexCoord, maxUV)
	}

	for _, c := range emitted {
		geom.Vertices = append(geom.Vertices, mesh.Positions[c.src])
		geom.Normals = append(geom.Normals, c.normal)

		if hasPrelit {
			var col dff.RGBA
			if len(c.colors) > 0 {
				col = colorToRGBA(c.colors[0])
			}
			geom.PrelitColors = append(geom.PrelitColors, col)
		}
		if hasNight {
			var col dff.RGBA
			if len(c.colors) > 1 {
				col = colorToRGBA(c.colors[1])
			}
			extra.Colors = append(extra.Colors, col)
		}

		for i := range geom.UVLayers {
			var uv dff.TexCoord
			if i < c.uvN {
				uv = dff.TexCoord{U: c.uvs[i].X(), V: 1 - c.uvs[i].Y()}
			}
			geom.UVLayers[i] = append(geom.UVLayers[i], uv)
		}

		if skin != nil {
			var idx [4]uint8
			var w [4]float32
			for i, b := range c.bones {
				idx[i] = uint8(b.bone)
				w[i] = b.weight
			}
			skin.Indices = append(skin.Indices, idx)
			skin.Weights = append(skin.Weights, w)
		}
	}

	geom.Skin = skin
	geom.ExtraColors = extra
}

// buildSkin prepares the skin binding and the vertex-group to bone-index
// table from the mesh's armature modifier. Groups with no matching bone
// name are silently skipped; a missing armature yields no skin at all.
func (s *Session) buildSkin(n *scene.Node) (*dff.Skin, map[int]int) {
	mesh := n.Mesh
	if mesh.ArmatureName == "" {
		return nil, nil
	}
	armNode := s.graph.Node(mesh.ArmatureName)
	if armNode == nil || armNode.Armature == nil {
		s.log.Debug("armature modifier target not found, skipping skin",
			zap.String("object", n.Name),
			zap.String("armature", mesh.ArmatureName))
		return nil, nil
	}

	groupIndex := make(map[string]int, len(mesh.GroupNames))
	for i, name := range mesh.GroupNames {
		groupIndex[name] = i
	}

	skin := &dff.Skin{}
	boneGroups := make(map[int]int)
	for i, bone := range armNode.Armature.Bones {
		// Inverse rest matrix, transposed like the frame rotations.
		skin.Matrices = append(skin.Matrices, bone.Rest.Inv().Transpose())
		if gi, ok := groupIndex[bone.Name]; ok {
			boneGroups[gi] = i
		}
	}
	return skin, boneGroups
}

// boundingSphere mirrors the established approximation: center is the
// world-space average of the eight local bounding-box corners, radius is
// sqrt(3) times half the largest world-space dimension.
func boundingSphere(n *scene.Node) dff.Sphere {
	var sum mgl32.Vec3
	for _, c := range n.Mesh.BoundBox {
		sum = sum.Add(c)
	}
	center := sum.Mul(1.0 / 8.0)
	world := n.World.Mul4x1(center.Vec4(1)).Vec3()

	d := n.Mesh.Dimensions
	max := d.X()
	if d.Y() > max {
		max = d.Y()
	}
	if d.Z() > max {
		max = d.Z()
	}
	return dff.Sphere{
		Center: world,
		Radius: boundRadiusFactor * max / 2,
	}
}

// colorToRGBA converts 0..1 float components to 8-bit, clamping out of
// range input.
func colorToRGBA(c [4]float32) dff.RGBA {
	conv := func(f float32) uint8 {
		v := int(f * 255)
		if v < 0 {
			v = 0
		}
		if v > 255 {
			v = 255
		}
		return uint8(v)
	}
	return dff.RGBA{R: conv(c[0]), G: conv(c[1]), B: conv(c[2]), A: conv(c[3])}
}
