package scene

import (
	"strings"

	"github.com/rwkit/dffexport/pkg/dff"
)

// MaterialSource reads the shading scalars and primary texture off a host
// material. Two implementations exist: ShaderMaterial for node-graph-backed
// materials and FlatMaterial for plain property blocks.
type MaterialSource interface {
	// BaseColor returns the base RGBA in 0..1 components.
	BaseColor() [4]float32
	// Surface returns the ambient, specular and diffuse scalars.
	Surface() (ambient, specular, diffuse float32)
	// Texture returns the primary texture name, or ok=false when the
	// material carries none.
	Texture() (name string, ok bool)
}

// ShaderMaterial reads from a principled-style shader graph: a color
// factor plus an image node whose label may override the image name.
type ShaderMaterial struct {
	Color     [4]float32
	Ambient   float32
	Specular  float32
	Roughness float32

	ImageName string // "" when no base color texture is linked
	NodeLabel string
}

func (m *ShaderMaterial) BaseColor() [4]float32 { return m.Color }

func (m *ShaderMaterial) Surface() (float32, float32, float32) {
	return m.Ambient, m.Specular, m.Roughness
}

// Texture selects the image node's label when it is a non-empty substring
// of the image name, else the image name itself, with any filename
// extension stripped.
func (m *ShaderMaterial) Texture() (string, bool) {
	if m.ImageName == "" {
		return "", false
	}
	name := m.ImageName
	if m.NodeLabel != "" && strings.Contains(m.ImageName, m.NodeLabel) {
		name = m.NodeLabel
	}
	return ClearExtension(name), true
}

// FlatMaterial reads from flat material properties, for hosts without a
// shader graph.
type FlatMaterial struct {
	Diffuse     [3]float32
	Alpha       float32
	Ambient     float32
	SpecularInt float32
	DiffuseInt  float32
	TextureName string
}

func (m *FlatMaterial) BaseColor() [4]float32 {
	return [4]float32{m.Diffuse[0], m.Diffuse[1], m.Diffuse[2], m.Alpha}
}

func (m *FlatMaterial) Surface() (float32, float32, float32) {
	return m.Ambient, m.SpecularInt, m.DiffuseInt
}

func (m *FlatMaterial) Texture() (string, bool) {
	if m.TextureName == "" {
		return "", false
	}
	return ClearExtension(m.TextureName), true
}

// ClearExtension drops everything from the last period onward.
func ClearExtension(s string) string {
	if k := strings.LastIndexByte(s, '.'); k >= 0 {
		return s[:k]
	}
	return s
}

// BumpSettings gates and parameterizes the bump map plugin.
type BumpSettings struct {
	Intensity float32
	BumpImage string // image-node texture, "" when unlinked
	NodeLabel string
	HeightTex string // explicit height texture name
}

// EnvSettings gates and parameterizes the environment map plugin.
type EnvSettings struct {
	TextureName string
	Coefficient float32
	UseFBAlpha  bool
}

// SpecularSettings gates the specular override plugin.
type SpecularSettings struct {
	Level   float32
	Texture string
}

// ReflectionSettings gates the reflection override plugin.
type ReflectionSettings struct {
	ScaleX, ScaleY   float32
	OffsetX, OffsetY float32
	Intensity        float32
}

// CurvePath identifies which of the four animated UV scalars a curve keys.
type CurvePath int

const (
	PathScaleU CurvePath = iota
	PathScaleV
	PathOffsetU
	PathOffsetV
)

// UVSlot maps a curve path to its slot in the six-float UV frame record.
func (p CurvePath) UVSlot() int {
	switch p {
	case PathScaleU:
		return 1
	case PathScaleV:
		return 2
	case PathOffsetU:
		return 4
	case PathOffsetV:
		return 5
	}
	return -1
}

// Keyframe is one key of an animated scalar curve.
type Keyframe struct {
	Frame float32 // host frame number
	Value float32
}

// Curve is one animated UV scalar.
type Curve struct {
	Path CurvePath
	Keys []Keyframe
}

// UVAnimSettings gates the UV animation plugin: the named track and the
// animated texture-coordinate curves it is built from.
type UVAnimSettings struct {
	Name   string
	FPS    float32
	Curves []Curve
}

// Material is one material slot: a polymorphic property reader plus the
// independently gated plugin settings.
type Material struct {
	Name   string
	Source MaterialSource

	Bump       *BumpSettings
	Env        *EnvSettings
	Specular   *SpecularSettings
	Reflection *ReflectionSettings
	UserData   *dff.UserData
	UVAnim     *UVAnimSettings
}
