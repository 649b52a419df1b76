package exporter

import (
	"strings"

	"go.uber.org/zap"

	"github.com/rwkit/dffexport/pkg/dff"
	"github.com/rwkit/dffexport/pkg/scene"
)

// defaultFPS is used when a UV animation carries no frame rate.
const defaultFPS = 30

// buildMaterials encodes every non-nil material slot in slot order: base
// color, surface scalars and primary texture from the material reader,
// plus each plugin that its per-material flag enables.
func (s *Session) buildMaterials(n *scene.Node) []dff.Material {
	var out []dff.Material
	for _, slot := range n.Mesh.Materials {
		if slot == nil {
			continue
		}
		out = append(out, s.buildMaterial(n, slot))
	}
	return out
}

func (s *Session) buildMaterial(n *scene.Node, slot *scene.Material) dff.Material {
	src := slot.Source

	mat := dff.Material{
		Color: colorToRGBA(src.BaseColor()),
	}
	mat.Surface.Ambient, mat.Surface.Specular, mat.Surface.Diffuse = src.Surface()

	if name, ok := src.Texture(); ok {
		mat.Textures = append(mat.Textures, dff.Texture{Name: name})
	}

	mat.BumpMap = buildBumpMap(slot.Bump)
	mat.EnvMap = buildEnvMap(slot.Env)
	if sp := slot.Specular; sp != nil {
		mat.Specular = &dff.SpecularMat{Level: sp.Level, Texture: sp.Texture}
	}
	if rf := slot.Reflection; rf != nil {
		mat.Reflection = &dff.ReflectionMat{
			ScaleX:    rf.ScaleX,
			ScaleY:    rf.ScaleY,
			OffsetX:   rf.OffsetX,
			OffsetY:   rf.OffsetY,
			Intensity: rf.Intensity,
		}
	}
	mat.UserData = slot.UserData

	if anim := s.buildUVAnim(n, slot); anim != nil {
		mat.UVAnimName = anim.Name
		s.file.AddUVAnim(*anim)
	}
	return mat
}

// buildBumpMap emits the bump plugin only when a bump texture is actually
// linked; the optional height texture rides along when named.
func buildBumpMap(b *scene.BumpSettings) *dff.BumpMapFX {
	if b == nil || b.BumpImage == "" {
		return nil
	}
	name := b.BumpImage
	if b.NodeLabel != "" && strings.Contains(b.BumpImage, b.NodeLabel) {
		name = b.NodeLabel
	}
	fx := &dff.BumpMapFX{
		Intensity:   b.Intensity,
		BumpTexture: &dff.Texture{Name: scene.ClearExtension(name)},
	}
	if b.HeightTex != "" {
		fx.HeightTexture = &dff.Texture{Name: b.HeightTex}
	}
	return fx
}

func buildEnvMap(e *scene.EnvSettings) *dff.EnvMapFX {
	if e == nil {
		return nil
	}
	return &dff.EnvMapFX{
		Coefficient: e.Coefficient,
		UseFBAlpha:  e.UseFBAlpha,
		Texture:     &dff.Texture{Name: e.TextureName},
	}
}

// buildUVAnim buckets the animated texture-coordinate curves into keyed
// UV frames: each curve writes its value into the fixed slot of the
// frame record for its keyframe ordinal, frame time is the keyframe's
// frame number divided by the scene frame rate, and the duration tracks
// the running maximum time.
func (s *Session) buildUVAnim(n *scene.Node, slot *scene.Material) *dff.UVAnim {
	set := slot.UVAnim
	if set == nil {
		return nil
	}

	fps := set.FPS
	if fps <= 0 {
		s.log.Warn("uv animation without frame rate, assuming default",
			zap.String("object", n.Name),
			zap.String("animation", set.Name),
			zap.Float32("fps", defaultFPS))
		fps = defaultFPS
	}

	anim := &dff.UVAnim{Name: set.Name}
	for _, curve := range set.Curves {
		uvSlot := curve.Path.UVSlot()
		if uvSlot < 0 {
			continue
		}
		for i, key := range curve.Keys {
			for len(anim.Frames) <= i {
				anim.Frames = append(anim.Frames, dff.UVFrame{
					PrevFrame: int32(len(anim.Frames)) - 1,
				})
			}
			fr := &anim.Frames[i]
			fr.UV[uvSlot] = key.Value
			fr.Time = key.Frame / fps
			if fr.Time > anim.Duration {
				anim.Duration = fr.Time
			}
		}
	}
	if len(anim.Frames) == 0 {
		return nil
	}
	return anim
}
