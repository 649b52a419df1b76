// Package gltfscene loads glTF/GLB documents and presents them as the
// scene graph the exporter consumes. Nodes keep their hierarchy and
// transforms, mesh primitives become polygons with per-corner attributes,
// skins become armatures and PBR materials back the shader material reader.
package gltfscene

import (
	"fmt"
	"path/filepath"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"go.uber.org/zap"

	"github.com/rwkit/dffexport/pkg/scene"
)

// Load opens a glTF or GLB file and converts it into a scene graph.
func Load(path string, log *zap.Logger) (*scene.Graph, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gltf: %w", err)
	}
	return Build(doc, log)
}

// Build converts an in-memory glTF document into a scene graph.
func Build(doc *gltf.Document, log *zap.Logger) (*scene.Graph, error) {
	if log == nil {
		log = zap.NewNop()
	}
	b := &builder{
		doc:       doc,
		log:       log,
		names:     make([]string, len(doc.Nodes)),
		parent:    make([]int, len(doc.Nodes)),
		local:     make([]mgl32.Mat4, len(doc.Nodes)),
		world:     make([]mgl32.Mat4, len(doc.Nodes)),
		materials: make(map[int]*scene.Material),
		graph:     &scene.Graph{},
	}
	return b.build()
}

type builder struct {
	doc *gltf.Document
	log *zap.Logger

	names  []string
	parent []int // gltf node index -> parent node index, -1 for roots
	local  []mgl32.Mat4
	world  []mgl32.Mat4

	armatures []string // skin index -> armature node name
	materials map[int]*scene.Material

	graph *scene.Graph
}

func (b *builder) build() (*scene.Graph, error) {
	b.resolveNames()
	b.resolveTransforms()
	b.buildArmatures()

	sceneNodes := make([]*scene.Node, len(b.doc.Nodes))
	for i, gn := range b.doc.Nodes {
		n, err := b.buildNode(i, gn)
		if err != nil {
			return nil, err
		}
		sceneNodes[i] = n
		b.graph.Add(n)
	}

	b.buildCollections(sceneNodes)
	return b.graph, nil
}

// resolveNames assigns a unique name to every node; unnamed or duplicate
// nodes fall back to their index.
func (b *builder) resolveNames() {
	used := make(map[string]bool, len(b.doc.Nodes))
	for i, n := range b.doc.Nodes {
		name := n.Name
		if name == "" || used[name] {
			name = fmt.Sprintf("node_%03d", i)
		}
		used[name] = true
		b.names[i] = name
	}
}

func (b *builder) resolveTransforms() {
	for i := range b.parent {
		b.parent[i] = -1
	}
	for i, n := range b.doc.Nodes {
		for _, c := range n.Children {
			b.parent[c] = i
		}
		b.local[i] = localTransform(n)
	}
	var walk func(i int, parentWorld mgl32.Mat4)
	walk = func(i int, parentWorld mgl32.Mat4) {
		b.world[i] = parentWorld.Mul4(b.local[i])
		for _, c := range b.doc.Nodes[i].Children {
			walk(c, b.world[i])
		}
	}
	for i := range b.doc.Nodes {
		if b.parent[i] == -1 {
			walk(i, mgl32.Ident4())
		}
	}
}

// localTransform composes a node transform from either the matrix or the
// TRS properties, per the glTF spec.
func localTransform(n *gltf.Node) mgl32.Mat4 {
	if m := n.MatrixOrDefault(); m != gltf.DefaultMatrix {
		var out mgl32.Mat4
		for i, v := range m {
			out[i] = float32(v)
		}
		return out
	}
	t := n.TranslationOrDefault()
	r := n.RotationOrDefault()
	s := n.ScaleOrDefault()
	trans := mgl32.Translate3D(float32(t[0]), float32(t[1]), float32(t[2]))
	rot := mgl32.Quat{
		W: float32(r[3]),
		V: mgl32.Vec3{float32(r[0]), float32(r[1]), float32(r[2])},
	}.Mat4()
	scale := mgl32.Scale3D(float32(s[0]), float32(s[1]), float32(s[2]))
	return trans.Mul4(rot).Mul4(scale)
}

// buildArmatures synthesizes one armature node per skin. The armature
// sits at the scene root, so bone rest matrices are the joints' world
// transforms and the joint hierarchy inside the skin carries parenting.
func (b *builder) buildArmatures() {
	b.armatures = make([]string, len(b.doc.Skins))
	for si, sk := range b.doc.Skins {
		name := sk.Name
		if name == "" {
			name = fmt.Sprintf("armature_%02d", si)
		}
		b.armatures[si] = name

		joints := make(map[int]bool, len(sk.Joints))
		for _, j := range sk.Joints {
			joints[j] = true
		}

		arm := &scene.Armature{Bones: make([]scene.Bone, 0, len(sk.Joints))}
		for _, j := range sk.Joints {
			gn := b.doc.Nodes[j]
			bone := scene.Bone{
				Name:  b.names[j],
				ID:    boneID(gn.Extras, int32(len(arm.Bones))),
				Type:  boneType(gn.Extras),
				Local: b.local[j],
				Rest:  b.world[j],
			}
			if p := b.parent[j]; p >= 0 && joints[p] {
				bone.Parent = b.names[p]
			} else {
				bone.Local = b.world[j]
			}
			arm.Bones = append(arm.Bones, bone)
		}

		b.graph.Add(&scene.Node{
			Name:     name,
			Kind:     scene.KindArmature,
			Local:    mgl32.Ident4(),
			World:    mgl32.Ident4(),
			Armature: arm,
		})
	}
}

func (b *builder) buildNode(i int, gn *gltf.Node) (*scene.Node, error) {
	n := &scene.Node{
		Name:  b.names[i],
		Kind:  scene.KindEmpty,
		Local: b.local[i],
		World: b.world[i],
	}
	if p := b.parent[i]; p >= 0 {
		n.Parent = b.names[p]
	}

	if gn.Mesh != nil {
		n.Kind = scene.KindMesh
		mesh, err := b.buildMesh(*gn.Mesh, gn.Skin)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", n.Name, err)
		}
		// Extents are measured in scene space.
		if len(mesh.Positions) > 0 {
			mesh.Dimensions = worldExtents(mesh.BoundBox, n.World)
		}
		n.Mesh = mesh
	}

	n.Settings = nodeSettings(gn.Extras, n.Mesh)
	return n, nil
}

// nodeSettings derives per-node export switches from the mesh content and
// lets glTF extras override them.
func nodeSettings(extras any, mesh *scene.Mesh) scene.NodeSettings {
	st := scene.NodeSettings{
		Light:        true,
		WriteBinMesh: true,
	}
	if mesh != nil {
		st.ExportNormals = meshHasNormals(mesh)
		st.UVMap1 = mesh.UVLayerCount > 0
		st.UVMap2 = mesh.UVLayerCount > 1
		st.DayColors = mesh.ColorLayerCount > 0
		st.NightColors = mesh.ColorLayerCount > 1
	}
	m, ok := extras.(map[string]any)
	if !ok {
		return st
	}
	extraInt(m, "clump", &st.ClumpID)
	extraBool(m, "selected", &st.Selected)
	extraBool(m, "export_normals", &st.ExportNormals)
	extraBool(m, "bin_mesh", &st.WriteBinMesh)
	extraBool(m, "light", &st.Light)
	extraBool(m, "modulate_color", &st.ModulateColor)
	extraBool(m, "day_colors", &st.DayColors)
	extraBool(m, "night_colors", &st.NightColors)
	extraBool(m, "uv_map1", &st.UVMap1)
	extraBool(m, "uv_map2", &st.UVMap2)
	extraString(m, "pipeline", &st.Pipeline)
	return st
}

func meshHasNormals(m *scene.Mesh) bool {
	for _, p := range m.Polygons {
		for _, c := range p.Corners {
			if c.Normal.Len() > 0 {
				return true
			}
		}
	}
	return false
}

func (b *builder) buildMesh(meshIdx int, skin *int) (*scene.Mesh, error) {
	gm := b.doc.Meshes[meshIdx]
	mesh := &scene.Mesh{}

	// Slot index within the mesh material list, per document material.
	slots := make(map[int]int)

	for pi, prim := range gm.Primitives {
		if prim.Mode != gltf.PrimitiveTriangles && prim.Mode != 0 {
			b.log.Debug("skipping non-triangle primitive",
				zap.String("mesh", gm.Name), zap.Int("primitive", pi))
			continue
		}
		if err := b.buildPrimitive(mesh, prim, slots); err != nil {
			return nil, fmt.Errorf("primitive %d: %w", pi, err)
		}
	}

	if skin != nil {
		b.bindSkin(mesh, *skin)
	}

	computeBounds(mesh)
	return mesh, nil
}

func (b *builder) buildPrimitive(mesh *scene.Mesh, prim *gltf.Primitive, slots map[int]int) error {
	posIdx, ok := prim.Attributes[gltf.POSITION]
	if !ok {
		return nil
	}
	positions, err := modeler.ReadPosition(b.doc, b.doc.Accessors[posIdx], nil)
	if err != nil {
		return fmt.Errorf("read positions: %w", err)
	}

	var normals [][3]float32
	if idx, ok := prim.Attributes[gltf.NORMAL]; ok {
		if normals, err = modeler.ReadNormal(b.doc, b.doc.Accessors[idx], nil); err != nil {
			return fmt.Errorf("read normals: %w", err)
		}
	}

	var uvLayers [][][2]float32
	for _, key := range []string{gltf.TEXCOORD_0, gltf.TEXCOORD_1} {
		idx, ok := prim.Attributes[key]
		if !ok {
			break
		}
		uvs, err := modeler.ReadTextureCoord(b.doc, b.doc.Accessors[idx], nil)
		if err != nil {
			return fmt.Errorf("read %s: %w", key, err)
		}
		uvLayers = append(uvLayers, uvs)
	}

	var colorLayers [][][4]uint16
	for _, key := range []string{gltf.COLOR_0, "COLOR_1"} {
		idx, ok := prim.Attributes[key]
		if !ok {
			break
		}
		colors, err := modeler.ReadColor64(b.doc, b.doc.Accessors[idx], nil)
		if err != nil {
			return fmt.Errorf("read %s: %w", key, err)
		}
		colorLayers = append(colorLayers, colors)
	}

	var joints [][4]uint16
	var weights [][4]float32
	if idx, ok := prim.Attributes[gltf.JOINTS_0]; ok {
		if joints, err = modeler.ReadJoints(b.doc, b.doc.Accessors[idx], nil); err != nil {
			return fmt.Errorf("read joints: %w", err)
		}
	}
	if idx, ok := prim.Attributes[gltf.WEIGHTS_0]; ok {
		if weights, err = modeler.ReadWeights(b.doc, b.doc.Accessors[idx], nil); err != nil {
			return fmt.Errorf("read weights: %w", err)
		}
	}

	base := len(mesh.Positions)
	for _, p := range positions {
		mesh.Positions = append(mesh.Positions, mgl32.Vec3(p))
	}
	for vi := range positions {
		var gw []scene.GroupWeight
		if vi < len(joints) && vi < len(weights) {
			for k := 0; k < 4; k++ {
				if weights[vi][k] > 0 {
					gw = append(gw, scene.GroupWeight{
						Group:  int(joints[vi][k]),
						Weight: weights[vi][k],
					})
				}
			}
		}
		mesh.VertexWeights = append(mesh.VertexWeights, gw)
	}

	if len(uvLayers) > mesh.UVLayerCount {
		mesh.UVLayerCount = len(uvLayers)
	}
	if len(colorLayers) > mesh.ColorLayerCount {
		mesh.ColorLayerCount = len(colorLayers)
	}

	slot := b.materialSlot(mesh, prim.Material, slots)

	corner := func(idx int) scene.Corner {
		c := scene.Corner{Vertex: base + idx}
		if idx < len(normals) {
			c.Normal = mgl32.Vec3(normals[idx])
		}
		for _, uvs := range uvLayers {
			if idx < len(uvs) {
				c.UVs = append(c.UVs, mgl32.Vec2(uvs[idx]))
			}
		}
		for _, colors := range colorLayers {
			if idx < len(colors) {
				c.Colors = append(c.Colors, [4]float32{
					float32(colors[idx][0]) / 65535,
					float32(colors[idx][1]) / 65535,
					float32(colors[idx][2]) / 65535,
					float32(colors[idx][3]) / 65535,
				})
			}
		}
		return c
	}

	triangle := func(a, b, c int) {
		mesh.Polygons = append(mesh.Polygons, scene.Polygon{
			MaterialIndex: slot,
			Corners:       []scene.Corner{corner(a), corner(b), corner(c)},
		})
	}

	if prim.Indices != nil {
		indices, err := modeler.ReadIndices(b.doc, b.doc.Accessors[*prim.Indices], nil)
		if err != nil {
			return fmt.Errorf("read indices: %w", err)
		}
		for i := 0; i+2 < len(indices); i += 3 {
			triangle(int(indices[i]), int(indices[i+1]), int(indices[i+2]))
		}
	} else {
		for i := 0; i+2 < len(positions); i += 3 {
			triangle(i, i+1, i+2)
		}
	}
	return nil
}

// materialSlot returns the mesh-local slot for a document material,
// converting and appending it on first use.
func (b *builder) materialSlot(mesh *scene.Mesh, material *int, slots map[int]int) int {
	if material == nil {
		if len(mesh.Materials) == 0 {
			mesh.Materials = append(mesh.Materials, defaultMaterial())
		}
		return 0
	}
	if slot, ok := slots[*material]; ok {
		return slot
	}
	slot := len(mesh.Materials)
	slots[*material] = slot
	mesh.Materials = append(mesh.Materials, b.buildMaterial(*material))
	return slot
}

func defaultMaterial() *scene.Material {
	return &scene.Material{
		Name:   "default",
		Source: &scene.ShaderMaterial{Color: [4]float32{1, 1, 1, 1}},
	}
}

func (b *builder) buildMaterial(idx int) *scene.Material {
	if m, ok := b.materials[idx]; ok {
		return m
	}
	gm := b.doc.Materials[idx]

	src := &scene.ShaderMaterial{Color: [4]float32{1, 1, 1, 1}}
	if pbr := gm.PBRMetallicRoughness; pbr != nil {
		if f := pbr.BaseColorFactor; f != nil {
			for i, v := range f {
				src.Color[i] = float32(v)
			}
		}
		if pbr.RoughnessFactor != nil {
			src.Roughness = float32(*pbr.RoughnessFactor)
		}
		if pbr.MetallicFactor != nil {
			src.Specular = float32(*pbr.MetallicFactor)
		}
		if tex := pbr.BaseColorTexture; tex != nil {
			src.ImageName = b.imageName(tex.Index)
		}
	}

	m := &scene.Material{Name: gm.Name, Source: src}
	if ex, ok := gm.Extras.(map[string]any); ok {
		applyMaterialExtras(m, src, ex)
	}
	b.materials[idx] = m
	return m
}

// applyMaterialExtras reads the plugin settings a document may carry in
// material extras; absent keys leave the plugin off.
func applyMaterialExtras(m *scene.Material, src *scene.ShaderMaterial, ex map[string]any) {
	extraFloat(ex, "ambient", &src.Ambient)

	var specLevel float32
	if extraFloat(ex, "specular_level", &specLevel) {
		spec := &scene.SpecularSettings{Level: specLevel}
		extraString(ex, "specular_texture", &spec.Texture)
		m.Specular = spec
	}

	var envTex string
	if extraString(ex, "env_texture", &envTex) {
		env := &scene.EnvSettings{TextureName: envTex, Coefficient: 1}
		extraFloat(ex, "env_coefficient", &env.Coefficient)
		extraBool(ex, "env_fb_alpha", &env.UseFBAlpha)
		m.Env = env
	}

	var bumpTex string
	if extraString(ex, "bump_texture", &bumpTex) {
		bump := &scene.BumpSettings{Intensity: 1, BumpImage: bumpTex}
		extraFloat(ex, "bump_intensity", &bump.Intensity)
		extraString(ex, "bump_height_texture", &bump.HeightTex)
		m.Bump = bump
	}

	var reflIntensity float32
	if extraFloat(ex, "reflection_intensity", &reflIntensity) {
		refl := &scene.ReflectionSettings{Intensity: reflIntensity, ScaleX: 1, ScaleY: 1}
		extraFloat(ex, "reflection_scale_x", &refl.ScaleX)
		extraFloat(ex, "reflection_scale_y", &refl.ScaleY)
		extraFloat(ex, "reflection_offset_x", &refl.OffsetX)
		extraFloat(ex, "reflection_offset_y", &refl.OffsetY)
		m.Reflection = refl
	}
}

func (b *builder) imageName(texture int) string {
	t := b.doc.Textures[texture]
	if t.Source == nil {
		return ""
	}
	img := b.doc.Images[*t.Source]
	if img.Name != "" {
		return img.Name
	}
	return filepath.Base(img.URI)
}

// bindSkin attaches the skin's armature to the mesh. JOINTS_0 values
// index the skin joint list, so the group order is the joint order.
func (b *builder) bindSkin(mesh *scene.Mesh, skinIdx int) {
	sk := b.doc.Skins[skinIdx]
	mesh.ArmatureName = b.armatures[skinIdx]
	mesh.GroupNames = make([]string, len(sk.Joints))
	for i := range sk.Joints {
		mesh.GroupNames[i] = b.names[sk.Joints[i]]
	}
}

func computeBounds(mesh *scene.Mesh) {
	if len(mesh.Positions) == 0 {
		return
	}
	min, max := mesh.Positions[0], mesh.Positions[0]
	for _, p := range mesh.Positions[1:] {
		for i := 0; i < 3; i++ {
			if p[i] < min[i] {
				min[i] = p[i]
			}
			if p[i] > max[i] {
				max[i] = p[i]
			}
		}
	}
	k := 0
	for _, x := range []float32{min.X(), max.X()} {
		for _, y := range []float32{min.Y(), max.Y()} {
			for _, z := range []float32{min.Z(), max.Z()} {
				mesh.BoundBox[k] = mgl32.Vec3{x, y, z}
				k++
			}
		}
	}
}

func worldExtents(box [8]mgl32.Vec3, world mgl32.Mat4) mgl32.Vec3 {
	first := world.Mul4x1(box[0].Vec4(1)).Vec3()
	min, max := first, first
	for _, c := range box[1:] {
		p := world.Mul4x1(c.Vec4(1)).Vec3()
		for i := 0; i < 3; i++ {
			if p[i] < min[i] {
				min[i] = p[i]
			}
			if p[i] > max[i] {
				max[i] = p[i]
			}
		}
	}
	return max.Sub(min)
}

// buildCollections maps glTF scenes onto batch groupings; a document with
// no scenes gets a single grouping holding everything.
func (b *builder) buildCollections(nodes []*scene.Node) {
	if len(b.doc.Scenes) == 0 {
		b.graph.Collections = []scene.Collection{{Name: "root", Nodes: b.graph.Nodes}}
		return
	}
	for si, gs := range b.doc.Scenes {
		name := gs.Name
		if name == "" {
			name = fmt.Sprintf("scene_%02d", si)
		}
		col := scene.Collection{Name: name}
		armatures := make(map[string]bool)

		var walk func(i int)
		walk = func(i int) {
			n := nodes[i]
			col.Nodes = append(col.Nodes, n)
			if n.Mesh != nil && n.Mesh.ArmatureName != "" {
				armatures[n.Mesh.ArmatureName] = true
			}
			for _, c := range b.doc.Nodes[i].Children {
				walk(c)
			}
		}
		for _, root := range gs.Nodes {
			walk(root)
		}
		for name := range armatures {
			if arm := b.graph.Node(name); arm != nil {
				col.Nodes = append(col.Nodes, arm)
			}
		}
		b.graph.Collections = append(b.graph.Collections, col)
	}
}

func extraBool(m map[string]any, key string, out *bool) bool {
	switch v := m[key].(type) {
	case bool:
		*out = v
	case float64:
		*out = v != 0
	default:
		return false
	}
	return true
}

func extraInt(m map[string]any, key string, out *int) bool {
	if v, ok := m[key].(float64); ok {
		*out = int(v)
		return true
	}
	return false
}

func extraFloat(m map[string]any, key string, out *float32) bool {
	if v, ok := m[key].(float64); ok {
		*out = float32(v)
		return true
	}
	return false
}

func extraString(m map[string]any, key string, out *string) bool {
	if v, ok := m[key].(string); ok {
		*out = v
		return true
	}
	return false
}

func boneID(extras any, fallback int32) int32 {
	if m, ok := extras.(map[string]any); ok {
		if v, ok := m["bone_id"].(float64); ok {
			return int32(v)
		}
	}
	return fallback
}

func boneType(extras any) uint32 {
	if m, ok := extras.(map[string]any); ok {
		if v, ok := m["bone_type"].(float64); ok {
			return uint32(v)
		}
	}
	return 0
}
