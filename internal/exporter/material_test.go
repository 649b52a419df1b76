package exporter

import (
	"testing"

	"github.com/rwkit/dffexport/pkg/dff"
	"github.com/rwkit/dffexport/pkg/scene"
)

func TestBuildMaterialFromSources(t *testing.T) {
	tests := []struct {
		name     string
		source   scene.MaterialSource
		wantTex  string
		textured bool
	}{
		{
			name: "flat with texture",
			source: &scene.FlatMaterial{
				Diffuse:     [3]float32{1, 0, 0},
				Alpha:       1,
				TextureName: "wall_brick.png",
			},
			wantTex:  "wall_brick",
			textured: true,
		},
		{
			name: "flat untextured",
			source: &scene.FlatMaterial{
				Diffuse: [3]float32{0, 0, 1},
				Alpha:   0.5,
			},
			textured: false,
		},
		{
			name: "shader label overrides image name",
			source: &scene.ShaderMaterial{
				Color:     [4]float32{1, 1, 1, 1},
				ImageName: "generic_wall_brick_df.png",
				NodeLabel: "wall_brick",
			},
			wantTex:  "wall_brick",
			textured: true,
		},
		{
			name: "shader label not a substring",
			source: &scene.ShaderMaterial{
				Color:     [4]float32{1, 1, 1, 1},
				ImageName: "roof_tile.png",
				NodeLabel: "wall_brick",
			},
			wantTex:  "roof_tile",
			textured: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := meshNode("obj", triangleMesh())
			s := newTestSession(testGraph(n))

			mat := s.buildMaterial(n, &scene.Material{Name: "m", Source: tt.source})
			if tt.textured {
				if len(mat.Textures) != 1 || mat.Textures[0].Name != tt.wantTex {
					t.Errorf("textures = %+v, want one named %q", mat.Textures, tt.wantTex)
				}
			} else if len(mat.Textures) != 0 {
				t.Errorf("textures = %+v, want none", mat.Textures)
			}
		})
	}
}

func TestBuildMaterialsSkipsNilSlots(t *testing.T) {
	n := meshNode("obj", triangleMesh())
	n.Mesh.Materials = []*scene.Material{
		nil,
		{Name: "m", Source: &scene.FlatMaterial{Alpha: 1}},
		nil,
	}
	s := newTestSession(testGraph(n))

	if got := s.buildMaterials(n); len(got) != 1 {
		t.Errorf("material count = %d, want 1", len(got))
	}
}

func TestBuildBumpMap(t *testing.T) {
	tests := []struct {
		name string
		in   *scene.BumpSettings
		want string // bump texture name, "" = plugin off
	}{
		{"nil settings", nil, ""},
		{"no image linked", &scene.BumpSettings{Intensity: 1}, ""},
		{
			"plain image",
			&scene.BumpSettings{Intensity: 1, BumpImage: "rock_bump.png"},
			"rock_bump",
		},
		{
			"label substring wins",
			&scene.BumpSettings{Intensity: 1, BumpImage: "tex_rock_bump.png", NodeLabel: "rock_bump"},
			"rock_bump",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := buildBumpMap(tt.in)
			if tt.want == "" {
				if fx != nil {
					t.Errorf("bump plugin emitted: %+v", fx)
				}
				return
			}
			if fx == nil || fx.BumpTexture == nil || fx.BumpTexture.Name != tt.want {
				t.Errorf("bump texture = %+v, want %q", fx, tt.want)
			}
		})
	}
}

func TestBuildBumpMapHeightTexture(t *testing.T) {
	fx := buildBumpMap(&scene.BumpSettings{
		Intensity: 0.5,
		BumpImage: "bump.png",
		HeightTex: "height",
	})
	if fx.HeightTexture == nil || fx.HeightTexture.Name != "height" {
		t.Errorf("height texture = %+v, want %q", fx.HeightTexture, "height")
	}
}

func uvAnimMaterial(fps float32) *scene.Material {
	return &scene.Material{
		Name:   "anim",
		Source: &scene.FlatMaterial{Alpha: 1},
		UVAnim: &scene.UVAnimSettings{
			Name: "scroll",
			FPS:  fps,
			Curves: []scene.Curve{
				{Path: scene.PathScaleU, Keys: []scene.Keyframe{
					{Frame: 0, Value: 1}, {Frame: 10, Value: 2},
				}},
				{Path: scene.PathOffsetV, Keys: []scene.Keyframe{
					{Frame: 0, Value: 0}, {Frame: 10, Value: 0.5},
				}},
			},
		},
	}
}

func TestBuildUVAnim(t *testing.T) {
	n := meshNode("obj", triangleMesh())
	s := newTestSession(testGraph(n))

	anim := s.buildUVAnim(n, uvAnimMaterial(25))
	if anim == nil {
		t.Fatal("animation missing")
	}
	if anim.Name != "scroll" {
		t.Errorf("name = %q", anim.Name)
	}
	if len(anim.Frames) != 2 {
		t.Fatalf("frame count = %d, want 2", len(anim.Frames))
	}

	f0, f1 := anim.Frames[0], anim.Frames[1]
	if f0.Time != 0 || f1.Time != 0.4 {
		t.Errorf("times = %v %v, want 0 and 0.4", f0.Time, f1.Time)
	}
	if f0.PrevFrame != -1 || f1.PrevFrame != 0 {
		t.Errorf("prev frames = %d %d, want -1 and 0", f0.PrevFrame, f1.PrevFrame)
	}
	// Scale U keys slot 1, offset V keys slot 5.
	if f1.UV[1] != 2 || f1.UV[5] != 0.5 {
		t.Errorf("frame 1 slots = %v, want scale 2 at [1], offset 0.5 at [5]", f1.UV)
	}
	if anim.Duration != f1.Time {
		t.Errorf("duration = %v, want %v", anim.Duration, f1.Time)
	}
	for i := 1; i < len(anim.Frames); i++ {
		if anim.Frames[i].Time < anim.Frames[i-1].Time {
			t.Errorf("times not monotonic at %d", i)
		}
	}
}

func TestBuildUVAnimDefaultFPS(t *testing.T) {
	n := meshNode("obj", triangleMesh())
	s := newTestSession(testGraph(n))

	anim := s.buildUVAnim(n, uvAnimMaterial(0))
	if anim == nil {
		t.Fatal("animation missing")
	}
	if want := float32(10) / defaultFPS; anim.Frames[1].Time != want {
		t.Errorf("frame 1 time = %v, want %v (default fps)", anim.Frames[1].Time, want)
	}
}

func TestBuildUVAnimEmptyCurves(t *testing.T) {
	n := meshNode("obj", triangleMesh())
	s := newTestSession(testGraph(n))

	anim := s.buildUVAnim(n, &scene.Material{
		Name:   "m",
		Source: &scene.FlatMaterial{Alpha: 1},
		UVAnim: &scene.UVAnimSettings{Name: "empty", FPS: 30},
	})
	if anim != nil {
		t.Errorf("keyless animation should be dropped, got %+v", anim)
	}
}

func TestBuildMaterialRegistersUVAnim(t *testing.T) {
	n := meshNode("obj", triangleMesh())
	s := newTestSession(testGraph(n))

	mat := s.buildMaterial(n, uvAnimMaterial(25))
	if mat.UVAnimName != "scroll" {
		t.Errorf("material animation name = %q, want %q", mat.UVAnimName, "scroll")
	}
	if len(s.file.UVAnims) != 1 {
		t.Fatalf("dictionary size = %d, want 1", len(s.file.UVAnims))
	}

	// A second material reusing the track must not duplicate it.
	s.buildMaterial(n, uvAnimMaterial(25))
	if len(s.file.UVAnims) != 1 {
		t.Errorf("dictionary size = %d after reuse, want 1", len(s.file.UVAnims))
	}
}

func TestBuildMaterialPlugins(t *testing.T) {
	n := meshNode("obj", triangleMesh())
	s := newTestSession(testGraph(n))

	mat := s.buildMaterial(n, &scene.Material{
		Name:   "m",
		Source: &scene.FlatMaterial{Alpha: 1},
		Env: &scene.EnvSettings{
			TextureName: "chrome",
			Coefficient: 0.8,
			UseFBAlpha:  true,
		},
		Specular:   &scene.SpecularSettings{Level: 0.7, Texture: "spec"},
		Reflection: &scene.ReflectionSettings{ScaleX: 2, Intensity: 0.3},
		UserData: &dff.UserData{Sections: []dff.UserDataSection{
			{Name: "tag", Type: dff.UserDataInt, Ints: []int32{1}},
		}},
	})

	if mat.EnvMap == nil || mat.EnvMap.Texture.Name != "chrome" || !mat.EnvMap.UseFBAlpha {
		t.Errorf("env map = %+v", mat.EnvMap)
	}
	if mat.Specular == nil || mat.Specular.Level != 0.7 {
		t.Errorf("specular = %+v", mat.Specular)
	}
	if mat.Reflection == nil || mat.Reflection.ScaleX != 2 {
		t.Errorf("reflection = %+v", mat.Reflection)
	}
	if mat.UserData == nil {
		t.Error("user data dropped")
	}
	if mat.BumpMap != nil {
		t.Error("bump map emitted without settings")
	}
}
