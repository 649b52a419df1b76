package dff

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-gl/mathgl/mgl32"
)

// Geometry format flags.
const (
	geometryTriStrip      = 0x00000001
	geometryPositions     = 0x00000002
	geometryTextured      = 0x00000004
	geometryPrelit        = 0x00000008
	geometryNormals       = 0x00000010
	geometryLight         = 0x00000020
	geometryModulateColor = 0x00000040
	geometryTextured2     = 0x00000080
)

// uvAnimTypeID is the interpolator type id of linear UV animations.
const uvAnimTypeID = 0x1C1

// Encode serializes the container to the version-tagged chunk stream.
func (f *File) Encode(v Version) []byte {
	e := newEncoder(v)
	if len(f.UVAnims) > 0 {
		e.chunk(SectionUVAnimDict, func(e *encoder) {
			e.chunk(SectionStruct, func(e *encoder) {
				e.u32(uint32(len(f.UVAnims)))
			})
			for i := range f.UVAnims {
				f.UVAnims[i].encode(e)
			}
		})
	}
	for _, c := range f.Clumps {
		c.encode(e, v)
	}
	return e.buf.Bytes()
}

// WriteFile encodes the container and writes it to path. The file is
// created only after the full byte stream has been assembled in memory.
func (f *File) WriteFile(path string, v Version) error {
	data := f.Encode(v)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// mat3 writes a 3x3 matrix row by row.
func (e *encoder) mat3(m mgl32.Mat3) {
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			e.f32(m.At(row, col))
		}
	}
}

// mat4 writes a 4x4 matrix row by row.
func (e *encoder) mat4(m mgl32.Mat4) {
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			e.f32(m.At(row, col))
		}
	}
}

func (e *encoder) vec3(v mgl32.Vec3) {
	e.f32(v.X())
	e.f32(v.Y())
	e.f32(v.Z())
}

func (e *encoder) rgba(c RGBA) {
	e.u8(c.R)
	e.u8(c.G)
	e.u8(c.B)
	e.u8(c.A)
}

func (c *Clump) encode(e *encoder, v Version) {
	e.chunk(SectionClump, func(e *encoder) {
		e.chunk(SectionStruct, func(e *encoder) {
			e.u32(uint32(len(c.Atomics)))
			if v >= 0x33000 {
				e.u32(0) // lights
				e.u32(0) // cameras
			}
		})

		e.chunk(SectionFrameList, func(e *encoder) {
			e.chunk(SectionStruct, func(e *encoder) {
				e.u32(uint32(len(c.Frames)))
				for i := range c.Frames {
					fr := &c.Frames[i]
					e.mat3(fr.Rotation)
					e.vec3(fr.Position)
					e.i32(fr.Parent)
					e.u32(fr.CreationFlags)
				}
			})
			for i := range c.Frames {
				c.Frames[i].encodeExtension(e)
			}
		})

		e.chunk(SectionGeometryList, func(e *encoder) {
			e.chunk(SectionStruct, func(e *encoder) {
				e.u32(uint32(len(c.Geometries)))
			})
			for _, g := range c.Geometries {
				g.encode(e, v)
			}
		})

		for _, a := range c.Atomics {
			geom := c.Geometries[a.GeometryIndex]
			e.chunk(SectionAtomic, func(e *encoder) {
				e.chunk(SectionStruct, func(e *encoder) {
					e.u32(a.FrameIndex)
					e.u32(a.GeometryIndex)
					e.u32(a.Flags)
					e.u32(0)
				})
				e.chunk(SectionExtension, func(e *encoder) {
					if geom.Pipeline != 0 {
						e.chunk(SectionPipelineSet, func(e *encoder) {
							e.u32(geom.Pipeline)
						})
					}
				})
			})
		}

		e.chunk(SectionExtension, func(e *encoder) {
			for _, blob := range c.Collisions {
				e.chunk(SectionCollisionModel, func(e *encoder) {
					e.raw(blob)
				})
			}
		})
	})
}

func (f *Frame) encodeExtension(e *encoder) {
	e.chunk(SectionExtension, func(e *encoder) {
		if f.Bone != nil {
			f.Bone.encode(e)
		}
		if f.UserData != nil {
			f.UserData.encode(e)
		}
		if f.Name != "" {
			e.chunk(SectionFrameNode, func(e *encoder) {
				e.raw([]byte(f.Name))
			})
		}
	})
}

func (h *HAnim) encode(e *encoder) {
	e.chunk(SectionHAnimPLG, func(e *encoder) {
		e.u32(HAnimVersion)
		e.i32(h.ID)
		e.u32(uint32(len(h.Bones)))
		if len(h.Bones) > 0 {
			e.u32(0) // flags
			e.u32(hAnimKeyframeSize)
			for _, b := range h.Bones {
				e.u32(b.ID)
				e.u32(b.Index)
				e.u32(b.Type)
			}
		}
	})
}

// formatFlags derives the geometry format word from the populated buffers
// and the per-geometry export flags.
func (g *Geometry) formatFlags() uint32 {
	flags := uint32(geometryPositions)
	switch {
	case len(g.UVLayers) > 1:
		flags |= geometryTextured2
	case len(g.UVLayers) == 1:
		flags |= geometryTextured
	}
	if len(g.PrelitColors) > 0 {
		flags |= geometryPrelit
	}
	if len(g.Normals) > 0 && g.ExportNormals {
		flags |= geometryNormals
	}
	if g.Light {
		flags |= geometryLight
	}
	if g.ModulateColor {
		flags |= geometryModulateColor
	}
	return flags | uint32(len(g.UVLayers))<<16
}

func (g *Geometry) encode(e *encoder, v Version) {
	hasNormals := len(g.Normals) > 0 && g.ExportNormals

	e.chunk(SectionGeometry, func(e *encoder) {
		e.chunk(SectionStruct, func(e *encoder) {
			e.u32(g.formatFlags())
			e.u32(uint32(len(g.Triangles)))
			e.u32(uint32(len(g.Vertices)))
			e.u32(1) // morph targets

			if v < 0x34000 {
				e.f32(g.Surface.Ambient)
				e.f32(g.Surface.Specular)
				e.f32(g.Surface.Diffuse)
			}

			if len(g.PrelitColors) > 0 {
				for _, c := range g.PrelitColors {
					e.rgba(c)
				}
			}
			for _, layer := range g.UVLayers {
				for _, uv := range layer {
					e.f32(uv.U)
					e.f32(uv.V)
				}
			}
			for _, t := range g.Triangles {
				e.u16(t.B)
				e.u16(t.A)
				e.u16(t.MaterialID)
				e.u16(t.C)
			}

			// Single morph target: bounding sphere + vertex data.
			e.vec3(g.Bounds.Center)
			e.f32(g.Bounds.Radius)
			e.u32(1)
			if hasNormals {
				e.u32(1)
			} else {
				e.u32(0)
			}
			for _, p := range g.Vertices {
				e.vec3(p)
			}
			if hasNormals {
				for _, n := range g.Normals {
					e.vec3(n)
				}
			}
		})

		e.chunk(SectionMaterialList, func(e *encoder) {
			e.chunk(SectionStruct, func(e *encoder) {
				e.u32(uint32(len(g.Materials)))
				for range g.Materials {
					e.i32(-1)
				}
			})
			for i := range g.Materials {
				g.Materials[i].encode(e)
			}
		})

		e.chunk(SectionExtension, func(e *encoder) {
			if g.WriteBinMesh {
				g.encodeBinMesh(e)
			}
			if g.Skin != nil {
				g.Skin.encode(e)
			}
			if g.ExtraColors != nil {
				e.chunk(SectionExtraVertColor, func(e *encoder) {
					e.u32(1)
					for _, c := range g.ExtraColors.Colors {
						e.rgba(c)
					}
				})
			}
			if g.UserData != nil {
				g.UserData.encode(e)
			}
		})
	})
}

// encodeBinMesh emits the triangle-list mesh plugin, one index run per
// referenced material in ascending material order.
func (g *Geometry) encodeBinMesh(e *encoder) {
	groups := make(map[uint16][]uint32)
	maxID := uint16(0)
	for _, t := range g.Triangles {
		groups[t.MaterialID] = append(groups[t.MaterialID], uint32(t.A), uint32(t.B), uint32(t.C))
		if t.MaterialID > maxID {
			maxID = t.MaterialID
		}
	}

	e.chunk(SectionBinMeshPLG, func(e *encoder) {
		e.u32(0) // triangle list
		e.u32(uint32(len(groups)))
		e.u32(uint32(len(g.Triangles) * 3))
		for id := uint16(0); id <= maxID; id++ {
			indices, ok := groups[id]
			if !ok {
				continue
			}
			e.u32(uint32(len(indices)))
			e.u32(uint32(id))
			for _, idx := range indices {
				e.u32(idx)
			}
		}
	})
}

func (s *Skin) encode(e *encoder) {
	e.chunk(SectionSkinPLG, func(e *encoder) {
		e.u8(uint8(len(s.Matrices)))
		e.u8(0) // used bone table omitted
		e.u8(0) // max weights per vertex unspecified
		e.u8(0)
		for _, idx := range s.Indices {
			e.raw(idx[:])
		}
		for _, w := range s.Weights {
			for _, f := range w {
				e.f32(f)
			}
		}
		for _, m := range s.Matrices {
			e.mat4(m)
		}
	})
}

func (m *Material) encode(e *encoder) {
	e.chunk(SectionMaterial, func(e *encoder) {
		e.chunk(SectionStruct, func(e *encoder) {
			e.u32(0) // flags
			e.rgba(m.Color)
			e.u32(0) // unused
			if len(m.Textures) > 0 {
				e.u32(1)
			} else {
				e.u32(0)
			}
			e.f32(m.Surface.Ambient)
			e.f32(m.Surface.Specular)
			e.f32(m.Surface.Diffuse)
		})
		for i := range m.Textures {
			m.Textures[i].encode(e)
		}
		e.chunk(SectionExtension, func(e *encoder) {
			m.encodeEffects(e)
			if m.Specular != nil {
				e.chunk(SectionSpecularMat, func(e *encoder) {
					e.f32(m.Specular.Level)
					e.fixedStr(m.Specular.Texture, 24)
				})
			}
			if m.Reflection != nil {
				e.chunk(SectionReflectionMat, func(e *encoder) {
					e.f32(m.Reflection.ScaleX)
					e.f32(m.Reflection.ScaleY)
					e.f32(m.Reflection.OffsetX)
					e.f32(m.Reflection.OffsetY)
					e.f32(m.Reflection.Intensity)
					e.u32(0)
				})
			}
			if m.UVAnimName != "" {
				e.chunk(SectionUVAnimPLG, func(e *encoder) {
					e.chunk(SectionStruct, func(e *encoder) {
						e.u32(0)
						e.fixedStr(m.UVAnimName, 32)
					})
				})
			}
			if m.UserData != nil {
				m.UserData.encode(e)
			}
		})
	})
}

// Material effect type words.
const (
	matFXNone    = 0
	matFXBump    = 1
	matFXEnv     = 2
	matFXBumpEnv = 3
)

// encodeEffects writes the material effects plugin when a bump or
// environment map is attached. The plugin always carries two effect
// slots; unused slots hold the none type.
func (m *Material) encodeEffects(e *encoder) {
	if m.BumpMap == nil && m.EnvMap == nil {
		return
	}
	overall := uint32(matFXNone)
	switch {
	case m.BumpMap != nil && m.EnvMap != nil:
		overall = matFXBumpEnv
	case m.BumpMap != nil:
		overall = matFXBump
	case m.EnvMap != nil:
		overall = matFXEnv
	}

	e.chunk(SectionMaterialFXPLG, func(e *encoder) {
		e.u32(overall)
		slots := 0
		if m.BumpMap != nil {
			e.u32(matFXBump)
			e.f32(m.BumpMap.Intensity)
			encodeOptTexture(e, m.BumpMap.BumpTexture)
			encodeOptTexture(e, m.BumpMap.HeightTexture)
			slots++
		}
		if m.EnvMap != nil {
			e.u32(matFXEnv)
			e.f32(m.EnvMap.Coefficient)
			if m.EnvMap.UseFBAlpha {
				e.u32(1)
			} else {
				e.u32(0)
			}
			encodeOptTexture(e, m.EnvMap.Texture)
			slots++
		}
		for ; slots < 2; slots++ {
			e.u32(matFXNone)
		}
	})
}

func encodeOptTexture(e *encoder, t *Texture) {
	if t == nil {
		e.u32(0)
		return
	}
	e.u32(1)
	t.encode(e)
}

func (t *Texture) encode(e *encoder) {
	e.chunk(SectionTexture, func(e *encoder) {
		e.chunk(SectionStruct, func(e *encoder) {
			e.u32(t.Filters)
		})
		e.chunk(SectionString, func(e *encoder) {
			e.str(t.Name)
		})
		e.chunk(SectionString, func(e *encoder) {
			e.str(t.Mask)
		})
		e.chunk(SectionExtension, func(e *encoder) {})
	})
}

func (u *UserData) encode(e *encoder) {
	e.chunk(SectionUserDataPLG, func(e *encoder) {
		e.u32(uint32(len(u.Sections)))
		for _, s := range u.Sections {
			e.u32(uint32(len(s.Name) + 1))
			e.raw([]byte(s.Name))
			e.u8(0)
			e.u32(uint32(s.Type))
			switch s.Type {
			case UserDataInt:
				e.u32(uint32(len(s.Ints)))
				for _, v := range s.Ints {
					e.i32(v)
				}
			case UserDataFloat:
				e.u32(uint32(len(s.Floats)))
				for _, v := range s.Floats {
					e.f32(v)
				}
			case UserDataString:
				e.u32(uint32(len(s.Strings)))
				for _, v := range s.Strings {
					e.u32(uint32(len(v) + 1))
					e.raw([]byte(v))
					e.u8(0)
				}
			}
		}
	})
}

func (a *UVAnim) encode(e *encoder) {
	e.chunk(SectionAnimAnimation, func(e *encoder) {
		e.u32(HAnimVersion)
		e.u32(uvAnimTypeID)
		e.i32(int32(len(a.Frames)))
		e.u32(0) // flags
		e.f32(a.Duration)
		e.fixedStr(a.Name, 32)
		for i := 0; i < 8; i++ {
			e.f32(0) // node-to-uv channel map
		}
		for _, fr := range a.Frames {
			e.f32(fr.Time)
			for _, v := range fr.UV {
				e.f32(v)
			}
			e.i32(fr.PrevFrame)
		}
	})
}
