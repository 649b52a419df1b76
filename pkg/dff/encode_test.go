package dff

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

// testGeometry builds a minimal one-triangle geometry.
func testGeometry() *Geometry {
	return &Geometry{
		Vertices: []mgl32.Vec3{
			{0, 0, 0}, {1, 0, 0}, {0, 1, 0},
		},
		Normals: []mgl32.Vec3{
			{0, 0, 1}, {0, 0, 1}, {0, 0, 1},
		},
		Triangles: []Triangle{
			{B: 1, A: 0, MaterialID: 0, C: 2},
		},
		Bounds:    Sphere{Center: mgl32.Vec3{0.5, 0.5, 0}, Radius: 1},
		Materials: []Material{{Color: RGBA{255, 255, 255, 255}}},

		ExportNormals: true,
		Light:         true,
	}
}

func testClump() *Clump {
	return &Clump{
		Frames: []Frame{
			{Rotation: mgl32.Ident3(), Parent: -1},
			{Name: "child", Rotation: mgl32.Ident3(), Position: mgl32.Vec3{1, 2, 3}, Parent: 0},
		},
		Geometries: []*Geometry{testGeometry()},
		Atomics: []Atomic{
			{FrameIndex: 1, GeometryIndex: 0, Flags: AtomicRenderFlags},
		},
	}
}

func TestEncodeClumpStructure(t *testing.T) {
	f := &File{Clumps: []*Clump{testClump()}}
	data := f.Encode(Version3_6_0_3)

	hdr, body, rest, err := ReadChunk(data)
	if err != nil {
		t.Fatalf("ReadChunk: %v", err)
	}
	if hdr.ID != SectionClump {
		t.Fatalf("top chunk id = 0x%X, want clump", uint32(hdr.ID))
	}
	if len(rest) != 0 {
		t.Fatalf("trailing bytes after clump: %d", len(rest))
	}

	st, ok := FindChunk(body, SectionStruct)
	if !ok {
		t.Fatal("clump struct missing")
	}
	if len(st) != 12 {
		t.Fatalf("clump struct size = %d, want 12", len(st))
	}
	if n := binary.LittleEndian.Uint32(st[0:4]); n != 1 {
		t.Errorf("atomic count = %d, want 1", n)
	}
	if lights := binary.LittleEndian.Uint32(st[4:8]); lights != 0 {
		t.Errorf("light count = %d, want 0", lights)
	}

	fl, ok := FindChunk(body, SectionFrameList)
	if !ok {
		t.Fatal("frame list missing")
	}
	flStruct, ok := FindChunk(fl, SectionStruct)
	if !ok {
		t.Fatal("frame list struct missing")
	}
	if n := binary.LittleEndian.Uint32(flStruct[0:4]); n != 2 {
		t.Fatalf("frame count = %d, want 2", n)
	}
	// 4-byte count plus one 56-byte record per frame.
	if len(flStruct) != 4+2*56 {
		t.Errorf("frame list struct size = %d, want %d", len(flStruct), 4+2*56)
	}
	// Second frame: rotation 36 bytes in, then position, parent, flags.
	rec := flStruct[4+56:]
	if x := math.Float32frombits(binary.LittleEndian.Uint32(rec[36:40])); x != 1 {
		t.Errorf("frame position x = %v, want 1", x)
	}
	if parent := int32(binary.LittleEndian.Uint32(rec[48:52])); parent != 0 {
		t.Errorf("frame parent = %d, want 0", parent)
	}

	gl, ok := FindChunk(body, SectionGeometryList)
	if !ok {
		t.Fatal("geometry list missing")
	}
	glStruct, _ := FindChunk(gl, SectionStruct)
	if n := binary.LittleEndian.Uint32(glStruct[0:4]); n != 1 {
		t.Errorf("geometry count = %d, want 1", n)
	}

	at, ok := FindChunk(body, SectionAtomic)
	if !ok {
		t.Fatal("atomic missing")
	}
	atStruct, _ := FindChunk(at, SectionStruct)
	if len(atStruct) != 16 {
		t.Fatalf("atomic struct size = %d, want 16", len(atStruct))
	}
	if fi := binary.LittleEndian.Uint32(atStruct[0:4]); fi != 1 {
		t.Errorf("atomic frame index = %d, want 1", fi)
	}
	if flags := binary.LittleEndian.Uint32(atStruct[8:12]); flags != AtomicRenderFlags {
		t.Errorf("atomic flags = 0x%X, want 0x%X", flags, AtomicRenderFlags)
	}
}

func geometryStruct(t *testing.T, data []byte) []byte {
	t.Helper()
	_, clumpBody, _, err := ReadChunk(data)
	if err != nil {
		t.Fatalf("ReadChunk: %v", err)
	}
	gl, ok := FindChunk(clumpBody, SectionGeometryList)
	if !ok {
		t.Fatal("geometry list missing")
	}
	geom, ok := FindChunk(gl, SectionGeometry)
	if !ok {
		t.Fatal("geometry missing")
	}
	st, ok := FindChunk(geom, SectionStruct)
	if !ok {
		t.Fatal("geometry struct missing")
	}
	return st
}

func TestGeometrySurfacePropsVersioned(t *testing.T) {
	clump := testClump()

	old := (&File{Clumps: []*Clump{clump}}).Encode(Version3_3_0_2)
	modern := (&File{Clumps: []*Clump{clump}}).Encode(Version3_6_0_3)

	so := geometryStruct(t, old)
	sm := geometryStruct(t, modern)

	// Pre-3.4 output carries three extra surface floats.
	if len(so) != len(sm)+12 {
		t.Errorf("struct sizes: 3.3.0.2 = %d, 3.6.0.3 = %d, want difference 12", len(so), len(sm))
	}
}

func TestGeometryFormatFlags(t *testing.T) {
	tests := []struct {
		name string
		prep func(*Geometry)
		want uint32
	}{
		{
			name: "positions normals light",
			prep: func(g *Geometry) {},
			want: geometryPositions | geometryNormals | geometryLight,
		},
		{
			name: "normals suppressed",
			prep: func(g *Geometry) { g.ExportNormals = false },
			want: geometryPositions | geometryLight,
		},
		{
			name: "one uv layer",
			prep: func(g *Geometry) {
				g.UVLayers = [][]TexCoord{{{0, 0}, {0, 0}, {0, 0}}}
			},
			want: geometryPositions | geometryNormals | geometryLight |
				geometryTextured | 1<<16,
		},
		{
			name: "two uv layers",
			prep: func(g *Geometry) {
				layer := []TexCoord{{0, 0}, {0, 0}, {0, 0}}
				g.UVLayers = [][]TexCoord{layer, layer}
			},
			want: geometryPositions | geometryNormals | geometryLight |
				geometryTextured2 | 2<<16,
		},
		{
			name: "prelit modulated",
			prep: func(g *Geometry) {
				g.PrelitColors = []RGBA{{}, {}, {}}
				g.ModulateColor = true
			},
			want: geometryPositions | geometryNormals | geometryLight |
				geometryPrelit | geometryModulateColor,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := testGeometry()
			tt.prep(g)
			if got := g.formatFlags(); got != tt.want {
				t.Errorf("formatFlags() = 0x%X, want 0x%X", got, tt.want)
			}
		})
	}
}

func TestTriangleWireOrder(t *testing.T) {
	g := testGeometry()
	g.Triangles = []Triangle{{B: 1, A: 0, MaterialID: 5, C: 2}}
	data := (&File{Clumps: []*Clump{{Geometries: []*Geometry{g}}}}).Encode(Version3_6_0_3)

	st := geometryStruct(t, data)
	// Header: flags, triangle count, vertex count, morph target count.
	tri := st[16:24]
	want := []uint16{1, 0, 5, 2}
	for i, w := range want {
		if got := binary.LittleEndian.Uint16(tri[i*2:]); got != w {
			t.Errorf("triangle word %d = %d, want %d", i, got, w)
		}
	}
}

func TestBinMeshGrouping(t *testing.T) {
	g := testGeometry()
	g.WriteBinMesh = true
	g.Triangles = []Triangle{
		{B: 1, A: 0, MaterialID: 2, C: 2},
		{B: 2, A: 1, MaterialID: 0, C: 0},
		{B: 0, A: 2, MaterialID: 0, C: 1},
	}
	data := (&File{Clumps: []*Clump{{Geometries: []*Geometry{g}}}}).Encode(Version3_6_0_3)

	_, clumpBody, _, _ := ReadChunk(data)
	gl, _ := FindChunk(clumpBody, SectionGeometryList)
	geom, _ := FindChunk(gl, SectionGeometry)
	ext, ok := FindChunk(geom, SectionExtension)
	if !ok {
		t.Fatal("geometry extension missing")
	}
	bm, ok := FindChunk(ext, SectionBinMeshPLG)
	if !ok {
		t.Fatal("bin mesh plugin missing")
	}

	if kind := binary.LittleEndian.Uint32(bm[0:4]); kind != 0 {
		t.Errorf("mesh kind = %d, want triangle list", kind)
	}
	if groups := binary.LittleEndian.Uint32(bm[4:8]); groups != 2 {
		t.Fatalf("group count = %d, want 2", groups)
	}
	if total := binary.LittleEndian.Uint32(bm[8:12]); total != 9 {
		t.Errorf("total indices = %d, want 9", total)
	}

	// Groups come in ascending material order: material 0 first.
	first := bm[12:]
	if n := binary.LittleEndian.Uint32(first[0:4]); n != 6 {
		t.Fatalf("first group length = %d, want 6", n)
	}
	if id := binary.LittleEndian.Uint32(first[4:8]); id != 0 {
		t.Errorf("first group material = %d, want 0", id)
	}
	// Indices per triangle are written a, b, c.
	wantIdx := []uint32{1, 2, 0, 2, 0, 1}
	for i, w := range wantIdx {
		if got := binary.LittleEndian.Uint32(first[8+i*4:]); got != w {
			t.Errorf("index %d = %d, want %d", i, got, w)
		}
	}

	second := first[8+6*4:]
	if id := binary.LittleEndian.Uint32(second[4:8]); id != 2 {
		t.Errorf("second group material = %d, want 2", id)
	}
}

func TestSkinChunkLayout(t *testing.T) {
	g := testGeometry()
	g.Skin = &Skin{
		Matrices: []mgl32.Mat4{mgl32.Ident4(), mgl32.Ident4(), mgl32.Ident4()},
		Indices:  [][4]uint8{{0, 1, 0, 0}, {1, 0, 0, 0}, {2, 0, 0, 0}},
		Weights:  [][4]float32{{0.5, 0.5, 0, 0}, {1, 0, 0, 0}, {1, 0, 0, 0}},
	}
	data := (&File{Clumps: []*Clump{{Geometries: []*Geometry{g}}}}).Encode(Version3_6_0_3)

	_, clumpBody, _, _ := ReadChunk(data)
	gl, _ := FindChunk(clumpBody, SectionGeometryList)
	geom, _ := FindChunk(gl, SectionGeometry)
	ext, _ := FindChunk(geom, SectionExtension)
	skin, ok := FindChunk(ext, SectionSkinPLG)
	if !ok {
		t.Fatal("skin plugin missing")
	}

	// Header + per-vertex indices + per-vertex weights + bone matrices.
	want := 4 + 3*4 + 3*16 + 3*64
	if len(skin) != want {
		t.Fatalf("skin size = %d, want %d", len(skin), want)
	}
	if bones := skin[0]; bones != 3 {
		t.Errorf("bone count = %d, want 3", bones)
	}
	if idx := skin[4:8]; idx[0] != 0 || idx[1] != 1 {
		t.Errorf("first vertex indices = %v", idx)
	}
	w := math.Float32frombits(binary.LittleEndian.Uint32(skin[16:20]))
	if w != 0.5 {
		t.Errorf("first weight = %v, want 0.5", w)
	}
}

func TestUVAnimDictPrecedesClumps(t *testing.T) {
	f := &File{Clumps: []*Clump{testClump()}}
	f.AddUVAnim(UVAnim{
		Name:     "scroll",
		Duration: 1.5,
		Frames: []UVFrame{
			{Time: 0, PrevFrame: -1},
			{Time: 1.5, PrevFrame: 0},
		},
	})
	data := f.Encode(Version3_6_0_3)

	hdr, body, rest, err := ReadChunk(data)
	if err != nil {
		t.Fatalf("ReadChunk: %v", err)
	}
	if hdr.ID != SectionUVAnimDict {
		t.Fatalf("first chunk id = 0x%X, want uv anim dictionary", uint32(hdr.ID))
	}

	st, ok := FindChunk(body, SectionStruct)
	if !ok || binary.LittleEndian.Uint32(st[0:4]) != 1 {
		t.Fatalf("dictionary count wrong: %v", st)
	}
	anim, ok := FindChunk(body, SectionAnimAnimation)
	if !ok {
		t.Fatal("animation chunk missing")
	}
	// Fixed header (84 bytes) plus two 32-byte keyframes.
	if len(anim) != 84+2*32 {
		t.Fatalf("animation size = %d, want %d", len(anim), 84+2*32)
	}
	if v := binary.LittleEndian.Uint32(anim[0:4]); v != HAnimVersion {
		t.Errorf("animation version = 0x%X, want 0x%X", v, HAnimVersion)
	}
	if typ := binary.LittleEndian.Uint32(anim[4:8]); typ != uvAnimTypeID {
		t.Errorf("interpolator type = 0x%X, want 0x%X", typ, uvAnimTypeID)
	}
	if n := binary.LittleEndian.Uint32(anim[8:12]); n != 2 {
		t.Errorf("frame count = %d, want 2", n)
	}
	if string(anim[20:26]) != "scroll" {
		t.Errorf("animation name = %q", anim[20:26])
	}

	if hdr, _, _, err = ReadChunk(rest); err != nil || hdr.ID != SectionClump {
		t.Errorf("clump should follow dictionary, got id 0x%X err %v", uint32(hdr.ID), err)
	}
}

func TestAddUVAnimDeduplicates(t *testing.T) {
	f := &File{}
	f.AddUVAnim(UVAnim{Name: "a"})
	f.AddUVAnim(UVAnim{Name: "b"})
	f.AddUVAnim(UVAnim{Name: "a"})
	if len(f.UVAnims) != 2 {
		t.Errorf("dictionary size = %d, want 2", len(f.UVAnims))
	}
}

func TestMaterialEncoding(t *testing.T) {
	g := testGeometry()
	g.Materials = []Material{{
		Color:      RGBA{10, 20, 30, 255},
		Surface:    SurfaceProperties{Ambient: 1, Specular: 0.5, Diffuse: 0.25},
		Textures:   []Texture{{Name: "body"}},
		Specular:   &SpecularMat{Level: 0.7, Texture: "body_spec"},
		UVAnimName: "scroll",
	}}
	data := (&File{Clumps: []*Clump{{Geometries: []*Geometry{g}}}}).Encode(Version3_6_0_3)

	_, clumpBody, _, _ := ReadChunk(data)
	gl, _ := FindChunk(clumpBody, SectionGeometryList)
	geom, _ := FindChunk(gl, SectionGeometry)
	ml, ok := FindChunk(geom, SectionMaterialList)
	if !ok {
		t.Fatal("material list missing")
	}
	mlStruct, _ := FindChunk(ml, SectionStruct)
	if n := binary.LittleEndian.Uint32(mlStruct[0:4]); n != 1 {
		t.Fatalf("material count = %d, want 1", n)
	}
	if idx := int32(binary.LittleEndian.Uint32(mlStruct[4:8])); idx != -1 {
		t.Errorf("material instance index = %d, want -1", idx)
	}

	mat, ok := FindChunk(ml, SectionMaterial)
	if !ok {
		t.Fatal("material missing")
	}
	st, _ := FindChunk(mat, SectionStruct)
	if len(st) != 28 {
		t.Fatalf("material struct size = %d, want 28", len(st))
	}
	if st[4] != 10 || st[5] != 20 || st[6] != 30 || st[7] != 255 {
		t.Errorf("material color = %v", st[4:8])
	}
	if textured := binary.LittleEndian.Uint32(st[12:16]); textured != 1 {
		t.Errorf("textured flag = %d, want 1", textured)
	}

	tex, ok := FindChunk(mat, SectionTexture)
	if !ok {
		t.Fatal("texture missing")
	}
	name, ok := FindChunk(tex, SectionString)
	if !ok || string(name[:4]) != "body" {
		t.Errorf("texture name section = %q", name)
	}

	ext, _ := FindChunk(mat, SectionExtension)
	spec, ok := FindChunk(ext, SectionSpecularMat)
	if !ok {
		t.Fatal("specular plugin missing")
	}
	if len(spec) != 28 {
		t.Errorf("specular size = %d, want 28", len(spec))
	}
	if string(spec[4:13]) != "body_spec" {
		t.Errorf("specular texture = %q", spec[4:13])
	}

	uv, ok := FindChunk(ext, SectionUVAnimPLG)
	if !ok {
		t.Fatal("uv anim plugin missing")
	}
	uvStruct, _ := FindChunk(uv, SectionStruct)
	if len(uvStruct) != 36 {
		t.Errorf("uv anim plugin struct size = %d, want 36", len(uvStruct))
	}
	if string(uvStruct[4:10]) != "scroll" {
		t.Errorf("uv anim name = %q", uvStruct[4:10])
	}
}

func TestMaterialEffectsSlots(t *testing.T) {
	tests := []struct {
		name    string
		mat     Material
		overall uint32
	}{
		{
			name: "env only",
			mat: Material{EnvMap: &EnvMapFX{
				Coefficient: 1, Texture: &Texture{Name: "chrome"},
			}},
			overall: matFXEnv,
		},
		{
			name: "bump only",
			mat: Material{BumpMap: &BumpMapFX{
				Intensity: 0.5, BumpTexture: &Texture{Name: "bump"},
			}},
			overall: matFXBump,
		},
		{
			name: "bump and env",
			mat: Material{
				BumpMap: &BumpMapFX{Intensity: 1, BumpTexture: &Texture{Name: "b"}},
				EnvMap:  &EnvMapFX{Coefficient: 1, Texture: &Texture{Name: "e"}},
			},
			overall: matFXBumpEnv,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := testGeometry()
			g.Materials = []Material{tt.mat}
			data := (&File{Clumps: []*Clump{{Geometries: []*Geometry{g}}}}).Encode(Version3_6_0_3)

			_, clumpBody, _, _ := ReadChunk(data)
			gl, _ := FindChunk(clumpBody, SectionGeometryList)
			geom, _ := FindChunk(gl, SectionGeometry)
			ml, _ := FindChunk(geom, SectionMaterialList)
			mat, _ := FindChunk(ml, SectionMaterial)
			ext, _ := FindChunk(mat, SectionExtension)
			fx, ok := FindChunk(ext, SectionMaterialFXPLG)
			if !ok {
				t.Fatal("material effects plugin missing")
			}
			if got := binary.LittleEndian.Uint32(fx[0:4]); got != tt.overall {
				t.Errorf("overall effect = %d, want %d", got, tt.overall)
			}
		})
	}
}

func TestMaterialWithoutEffectsOmitsPlugin(t *testing.T) {
	g := testGeometry()
	data := (&File{Clumps: []*Clump{{Geometries: []*Geometry{g}}}}).Encode(Version3_6_0_3)

	_, clumpBody, _, _ := ReadChunk(data)
	gl, _ := FindChunk(clumpBody, SectionGeometryList)
	geom, _ := FindChunk(gl, SectionGeometry)
	ml, _ := FindChunk(geom, SectionMaterialList)
	mat, _ := FindChunk(ml, SectionMaterial)
	ext, _ := FindChunk(mat, SectionExtension)
	if _, ok := FindChunk(ext, SectionMaterialFXPLG); ok {
		t.Error("plain material should not carry the effects plugin")
	}
}

func TestFrameExtensions(t *testing.T) {
	clump := &Clump{
		Frames: []Frame{{
			Name:   "Root",
			Parent: -1,
			Bone: &HAnim{
				ID: 0,
				Bones: []Bone{
					{ID: 0, Index: 0, Type: 0},
					{ID: 1, Index: 1, Type: 2},
					{ID: 2, Index: 2, Type: 1},
				},
			},
			UserData: &UserData{Sections: []UserDataSection{
				{Name: "tag", Type: UserDataInt, Ints: []int32{7}},
			}},
		}},
	}
	data := (&File{Clumps: []*Clump{clump}}).Encode(Version3_6_0_3)

	_, clumpBody, _, _ := ReadChunk(data)
	fl, _ := FindChunk(clumpBody, SectionFrameList)
	ext, ok := FindChunk(fl, SectionExtension)
	if !ok {
		t.Fatal("frame extension missing")
	}

	hanim, ok := FindChunk(ext, SectionHAnimPLG)
	if !ok {
		t.Fatal("hanim plugin missing")
	}
	// Header, id, count, flags, keyframe size, then 12 bytes per bone.
	if len(hanim) != 20+3*12 {
		t.Fatalf("hanim size = %d, want %d", len(hanim), 20+3*12)
	}
	if v := binary.LittleEndian.Uint32(hanim[0:4]); v != HAnimVersion {
		t.Errorf("hanim version = 0x%X", v)
	}
	if n := binary.LittleEndian.Uint32(hanim[8:12]); n != 3 {
		t.Errorf("hanim bone count = %d, want 3", n)
	}
	if ks := binary.LittleEndian.Uint32(hanim[16:20]); ks != 36 {
		t.Errorf("keyframe size = %d, want 36", ks)
	}
	// Second bone record.
	if typ := binary.LittleEndian.Uint32(hanim[20+12+8:]); typ != 2 {
		t.Errorf("second bone type = %d, want 2", typ)
	}

	name, ok := FindChunk(ext, SectionFrameNode)
	if !ok || string(name) != "Root" {
		t.Errorf("frame node name = %q, ok=%v", name, ok)
	}

	ud, ok := FindChunk(ext, SectionUserDataPLG)
	if !ok {
		t.Fatal("user data plugin missing")
	}
	if n := binary.LittleEndian.Uint32(ud[0:4]); n != 1 {
		t.Errorf("user data section count = %d", n)
	}
	if string(ud[8:11]) != "tag" {
		t.Errorf("user data section name = %q", ud[8:11])
	}
}

func TestCollisionExtension(t *testing.T) {
	clump := testClump()
	clump.Collisions = [][]byte{{0xC0, 0x11, 0x51, 0x04}}
	data := (&File{Clumps: []*Clump{clump}}).Encode(Version3_6_0_3)

	_, clumpBody, _, _ := ReadChunk(data)
	ext, ok := FindChunk(clumpBody, SectionExtension)
	if !ok {
		t.Fatal("clump extension missing")
	}
	col, ok := FindChunk(ext, SectionCollisionModel)
	if !ok {
		t.Fatal("collision chunk missing")
	}
	if len(col) != 4 || col[0] != 0xC0 {
		t.Errorf("collision payload = % X", col)
	}
}

func TestWriteFileCreatesDirectories(t *testing.T) {
	f := &File{Clumps: []*Clump{testClump()}}
	path := filepath.Join(t.TempDir(), "models", "out.dff")

	if err := f.WriteFile(path, Version3_6_0_3); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	hdr, _, _, err := ReadChunk(data)
	if err != nil || hdr.ID != SectionClump {
		t.Errorf("output does not start with a clump chunk: %v %v", hdr, err)
	}
}
