package exporter

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/rwkit/dffexport/pkg/dff"
	"github.com/rwkit/dffexport/pkg/scene"
)

// frameSpec carries everything needed to derive one Frame from a scene
// node or bone. bone selects the registry the frame registers in;
// parentBone selects the registry the parent name resolves against (an
// armature's root bone registers as a bone but parents to a plain frame).
type frameSpec struct {
	name       string
	local      mgl32.Mat4
	parent     string
	bone       bool
	parentBone bool
	userData   *dff.UserData
}

// createFrame appends a frame built from the node's local transform. The
// rotation is stored as the transpose of the local 3x3 matrix to match the
// format's row/column layout. Parent references are recorded by name and
// resolved after the walk.
func (s *Session) createFrame(cs *clumpState, spec frameSpec) int {
	frame := dff.Frame{
		Name:     scene.ClearExtension(spec.name),
		Rotation: spec.local.Mat3().Transpose(),
		Position: spec.local.Col(3).Vec3(),
		Parent:   -1,
		UserData: spec.userData,
	}

	idx := len(cs.clump.Frames)
	cs.clump.Frames = append(cs.clump.Frames, frame)

	if spec.bone {
		cs.bones[spec.name] = idx
	} else {
		cs.frames[spec.name] = idx
	}

	if spec.parent != "" {
		cs.links = append(cs.links, parentLink{
			frame:  idx,
			parent: spec.parent,
			bone:   spec.parentBone,
		})
	}
	return idx
}

// exportArmature emits one frame per bone, carrying the bone's
// parent-relative rest transform. The first bone carries the full HAnim
// skeleton table and is parented to the armature object's own parent;
// every other bone is parented to its parent bone.
func (s *Session) exportArmature(cs *clumpState, n *scene.Node) {
	if n.Armature == nil {
		return
	}
	bones := n.Armature.Bones

	for i, b := range bones {
		spec := frameSpec{
			name:       b.Name,
			local:      b.Local,
			bone:       true,
			parentBone: true,
			parent:     b.Parent,
		}
		if i == 0 {
			spec.parent = n.Parent
			spec.parentBone = false
		}

		idx := s.createFrame(cs, spec)
		hanim := &dff.HAnim{ID: b.ID}
		if i == 0 {
			hanim.Bones = make([]dff.Bone, len(bones))
			for j, tb := range bones {
				hanim.Bones[j] = dff.Bone{
					ID:    uint32(tb.ID),
					Index: uint32(j),
					Type:  tb.Type,
				}
			}
		}
		cs.clump.Frames[idx].Bone = hanim
	}
}
