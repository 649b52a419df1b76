package exporter

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/davecgh/go-spew/spew"
	"go.uber.org/zap"

	"github.com/rwkit/dffexport/internal/collision"
	"github.com/rwkit/dffexport/pkg/scene"
)

// ExportUnit walks the given objects, assembles their clumps and writes
// one DFF file to outPath. It returns written=false when the unit holds
// no exportable objects; in that case no file is produced.
func (s *Session) ExportUnit(nodes []*scene.Node, unitName, outPath string) (written bool, err error) {
	if s.state != stateIdle && s.state != stateSerialized {
		return false, ErrBusy
	}
	s.reset()

	objects := s.filterSelected(nodes)
	if len(objects) == 0 {
		s.log.Debug("unit has no exportable objects, skipping",
			zap.String("unit", unitName))
		return false, nil
	}

	s.state = stateWalking
	sortByParentDepth(s.graph, objects)

	for _, n := range objects {
		cs := s.clumpFor(n.Settings.ClumpID)
		switch n.Kind {
		case scene.KindMesh:
			if err := s.exportAtomic(cs, n); err != nil {
				return false, fmt.Errorf("exporting mesh %q: %w", n.Name, err)
			}
		case scene.KindEmpty:
			s.createFrame(cs, frameSpec{
				name:     n.Name,
				local:    n.Local,
				parent:   n.Parent,
				userData: n.UserData,
			})
		case scene.KindArmature:
			s.exportArmature(cs, n)
		}
	}

	for _, cs := range s.clumps {
		s.resolveParents(cs)
	}

	s.state = stateAssembling
	s.file.Clumps = s.sortedClumps()

	if s.opts.ExportCollision {
		if err := s.attachCollision(unitName); err != nil {
			return false, err
		}
	}

	if s.opts.Dump != nil {
		fmt.Fprintf(s.opts.Dump, "=== %s ===\n", unitName)
		spew.Fdump(s.opts.Dump, s.file)
	}

	if err := s.file.WriteFile(outPath, s.opts.Version); err != nil {
		return false, err
	}
	s.state = stateSerialized
	s.log.Info("unit exported",
		zap.String("unit", unitName),
		zap.String("path", outPath),
		zap.Int("clumps", len(s.file.Clumps)))
	return true, nil
}

// filterSelected applies the selected-only policy.
func (s *Session) filterSelected(nodes []*scene.Node) []*scene.Node {
	if !s.opts.SelectedOnly {
		out := make([]*scene.Node, len(nodes))
		copy(out, nodes)
		return out
	}
	var out []*scene.Node
	for _, n := range nodes {
		if n.Settings.Selected {
			out = append(out, n)
		}
	}
	return out
}

// sortByParentDepth orders objects root-first so parent frames always
// exist before their children are appended.
func sortByParentDepth(g *scene.Graph, nodes []*scene.Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return g.ParentDepth(nodes[i]) < g.ParentDepth(nodes[j])
	})
}

// resolveParents is the second pass of the frame build: every recorded
// parent link is resolved by registry lookup. A parent that was never
// registered, or that would point forward, leaves the frame at the root.
func (s *Session) resolveParents(cs *clumpState) {
	for _, l := range cs.links {
		reg := cs.frames
		if l.bone {
			reg = cs.bones
		}
		idx, ok := reg[l.parent]
		if !ok {
			s.log.Debug("parent frame never registered, attaching to root",
				zap.String("parent", l.parent),
				zap.String("frame", cs.clump.Frames[l.frame].Name))
			continue
		}
		if idx >= l.frame {
			s.log.Debug("forward parent reference, attaching to root",
				zap.String("parent", l.parent),
				zap.String("frame", cs.clump.Frames[l.frame].Name))
			continue
		}
		cs.clump.Frames[l.frame].Parent = int32(idx)
	}
}

// attachCollision asks the external collision exporter for the unit's
// blob and attaches it to the first clump. An empty blob is a no-op.
func (s *Session) attachCollision(unitName string) error {
	blob, err := s.col.Export(collision.Config{
		Name:         unitName,
		InMemory:     true,
		Version:      3,
		Collection:   unitName,
		OnlySelected: s.opts.SelectedOnly,
		MassExport:   false,
	})
	if err != nil {
		return fmt.Errorf("collision export for %q: %w", unitName, err)
	}
	if len(blob) > 0 && len(s.file.Clumps) > 0 {
		s.file.Clumps[0].Collisions = append(s.file.Clumps[0].Collisions, blob)
	}
	return nil
}

// Result summarizes a scene export.
type Result struct {
	Written []string
	Skipped []string
}

// ExportScene exports a whole scene graph. In batch mode every collection
// becomes its own unit written to directory/<collection>.dff; otherwise
// all nodes form a single unit written to fileName.
func ExportScene(graph *scene.Graph, opts Options, col collision.Exporter, log *zap.Logger, fileName, directory string) (Result, error) {
	var res Result

	if !opts.BatchMode {
		unit := unitNameFromPath(fileName)
		sess := NewSession(graph, opts, col, log)
		written, err := sess.ExportUnit(graph.Nodes, unit, fileName)
		if err != nil {
			return res, err
		}
		if written {
			res.Written = append(res.Written, fileName)
		} else {
			res.Skipped = append(res.Skipped, unit)
		}
		return res, nil
	}

	for _, coll := range graph.Collections {
		path := filepath.Join(directory, coll.Name+".dff")
		sess := NewSession(graph, opts, col, log)
		written, err := sess.ExportUnit(coll.Nodes, coll.Name, path)
		if err != nil {
			return res, fmt.Errorf("exporting collection %q: %w", coll.Name, err)
		}
		if written {
			res.Written = append(res.Written, path)
		} else {
			res.Skipped = append(res.Skipped, coll.Name)
		}
	}
	return res, nil
}

func unitNameFromPath(path string) string {
	base := filepath.Base(path)
	return scene.ClearExtension(base)
}
