package dff

import (
	"github.com/go-gl/mathgl/mgl32"
)

// RGBA is an 8-bit color in wire order.
type RGBA struct {
	R, G, B, A uint8
}

// TexCoord is a single UV pair. V is stored flipped (1 - source V) by the
// geometry builder.
type TexCoord struct {
	U, V float32
}

// Sphere is a bounding sphere in world space.
type Sphere struct {
	Center mgl32.Vec3
	Radius float32
}

// Triangle field order matches the wire layout: vertex b, vertex a,
// material index, vertex c.
type Triangle struct {
	B          uint16
	A          uint16
	MaterialID uint16
	C          uint16
}

// SurfaceProperties are the ambient/specular/diffuse reflectance scalars.
type SurfaceProperties struct {
	Ambient  float32
	Specular float32
	Diffuse  float32
}

// UserDataType selects the element type of a user data section.
type UserDataType uint32

const (
	UserDataInt    UserDataType = 1
	UserDataFloat  UserDataType = 2
	UserDataString UserDataType = 3
)

// UserDataSection is one named, homogeneously typed array in a user data
// plugin. Only the slice matching Type is encoded.
type UserDataSection struct {
	Name    string
	Type    UserDataType
	Ints    []int32
	Floats  []float32
	Strings []string
}

// UserData is the user data plugin payload attachable to frames,
// geometries and materials.
type UserData struct {
	Sections []UserDataSection
}

// Bone is one entry of the HAnim skeleton table.
type Bone struct {
	ID    uint32
	Index uint32
	Type  uint32
}

// HAnimVersion is the only HAnim plugin revision the format family uses.
const HAnimVersion = 0x100

// hAnimKeyframeSize is the keyframe stride advertised in the skeleton header.
const hAnimKeyframeSize = 36

// HAnim is the hierarchical-animation payload of a bone frame. Bones is
// populated only on the armature's root bone and shared by reference.
type HAnim struct {
	ID    int32
	Bones []Bone
}

// Frame is a node of the rigid-transform hierarchy. Rotation holds the
// local 3x3 matrix already transposed into the format's layout.
type Frame struct {
	Name          string
	Rotation      mgl32.Mat3
	Position      mgl32.Vec3
	Parent        int32
	CreationFlags uint32
	UserData      *UserData
	Bone          *HAnim
}

// Skin is the per-geometry skin binding: one inverse bind matrix per bone
// (transposed, matching the Frame rotation convention) and up to four
// weighted bone influences per vertex, zero padded.
type Skin struct {
	Matrices []mgl32.Mat4
	Indices  [][4]uint8
	Weights  [][4]float32
}

// ExtraVertColor is the secondary (night) vertex color layer extension.
type ExtraVertColor struct {
	Colors []RGBA
}

// Texture is a texture reference on a material or material effect.
type Texture struct {
	Name    string
	Mask    string
	Filters uint32
}

// BumpMapFX is the bump branch of the material effects plugin.
type BumpMapFX struct {
	Intensity     float32
	BumpTexture   *Texture
	HeightTexture *Texture
}

// EnvMapFX is the environment-map branch of the material effects plugin.
type EnvMapFX struct {
	Coefficient float32
	UseFBAlpha  bool
	Texture     *Texture
}

// SpecularMat is the specular override plugin.
type SpecularMat struct {
	Level   float32
	Texture string
}

// ReflectionMat is the reflection override plugin.
type ReflectionMat struct {
	ScaleX    float32
	ScaleY    float32
	OffsetX   float32
	OffsetY   float32
	Intensity float32
}

// Material is a base material record plus its optional plugin extensions.
// The plugin set is closed, so each plugin is a dedicated optional field.
type Material struct {
	Color    RGBA
	Surface  SurfaceProperties
	Textures []Texture

	BumpMap    *BumpMapFX
	EnvMap     *EnvMapFX
	Specular   *SpecularMat
	Reflection *ReflectionMat
	UserData   *UserData
	UVAnimName string
}

// Geometry is a mesh payload: consolidated vertex buffers, triangle list,
// bounding sphere and material list, plus optional extensions. The export
// flags affect encoding only, never the shape of the data.
type Geometry struct {
	Vertices     []mgl32.Vec3
	Normals      []mgl32.Vec3
	PrelitColors []RGBA
	UVLayers     [][]TexCoord
	Triangles    []Triangle
	Bounds       Sphere
	Surface      SurfaceProperties
	Materials    []Material
	Pipeline     uint32

	Skin        *Skin
	ExtraColors *ExtraVertColor
	UserData    *UserData

	ExportNormals bool
	WriteBinMesh  bool
	Light         bool
	ModulateColor bool
}

// Atomic binds one frame index to one geometry index with fixed render flags.
type Atomic struct {
	FrameIndex    uint32
	GeometryIndex uint32
	Flags         uint32
}

// AtomicRenderFlags is the render flag set every exported atomic carries.
const AtomicRenderFlags = 0x04

// UVFrame is one keyed UV-offset frame: 2 x (scale, offset) pairs packed
// into six floats at fixed slots.
type UVFrame struct {
	Time      float32
	UV        [6]float32
	PrevFrame int32
}

// UVAnim is a named UV animation track stored in the clump-level dictionary.
type UVAnim struct {
	Name     string
	Frames   []UVFrame
	Duration float32
}

// Clump owns the frame hierarchy, geometries and atomics of one exported
// object group, plus optional collision blobs attached by the assembler.
type Clump struct {
	Frames     []Frame
	Geometries []*Geometry
	Atomics    []Atomic
	Collisions [][]byte
}

// File is a version-tagged container of clumps and the UV animation
// dictionary shared by their materials.
type File struct {
	Clumps  []*Clump
	UVAnims []UVAnim
}

// AddUVAnim appends anim to the dictionary unless a track with the same
// name is already present.
func (f *File) AddUVAnim(anim UVAnim) {
	for _, a := range f.UVAnims {
		if a.Name == anim.Name {
			return
		}
	}
	f.UVAnims = append(f.UVAnims, anim)
}
