// Package exporter converts a host scene graph into RenderWare DFF clump
// files: it walks the scene, builds frame hierarchies, consolidated
// geometries and material plugin chains, and serializes one version-tagged
// container per output unit.
package exporter

import (
	"errors"
	"io"
	"sort"

	"go.uber.org/zap"

	"github.com/rwkit/dffexport/internal/collision"
	"github.com/rwkit/dffexport/pkg/dff"
	"github.com/rwkit/dffexport/pkg/scene"
)

// ErrBusy reports an ExportUnit call on a session that is mid-export.
var ErrBusy = errors.New("export session already in progress")

// Options are the recognized export switches.
type Options struct {
	SelectedOnly    bool
	BatchMode       bool
	Version         dff.Version
	ExportCollision bool

	// Dump, when set, receives a spew dump of every assembled container
	// before it is serialized.
	Dump io.Writer
}

// sessionState tracks the unit export lifecycle.
type sessionState int

const (
	stateIdle sessionState = iota
	stateWalking
	stateAssembling
	stateSerialized
)

// parentLink is a deferred parent reference, resolved against the frame
// or bone registry after the walk completes.
type parentLink struct {
	frame  int
	parent string
	bone   bool
}

// clumpState wraps an in-progress clump with its per-clump name
// registries. Frames and bones use separate registries since both may
// share names.
type clumpState struct {
	clump  *dff.Clump
	frames map[string]int
	bones  map[string]int
	links  []parentLink
}

// Session owns all state of one export pass. Sessions are single use per
// unit and never shared between goroutines; batch export runs one session
// per unit sequentially so registries cannot leak across units.
type Session struct {
	graph *scene.Graph
	opts  Options
	col   collision.Exporter
	log   *zap.Logger

	state  sessionState
	file   *dff.File
	clumps map[int]*clumpState
}

// NewSession creates a session over the given scene graph. A nil logger
// or collision exporter is replaced by a no-op one.
func NewSession(graph *scene.Graph, opts Options, col collision.Exporter, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	if col == nil {
		col = collision.Nop{}
	}
	return &Session{
		graph: graph,
		opts:  opts,
		col:   col,
		log:   log,
		state: stateIdle,
	}
}

// reset clears all per-unit registries.
func (s *Session) reset() {
	s.file = &dff.File{}
	s.clumps = make(map[int]*clumpState)
	s.state = stateIdle
}

// clumpFor returns the clump state for a clump id, creating it on first use.
func (s *Session) clumpFor(id int) *clumpState {
	cs, ok := s.clumps[id]
	if !ok {
		cs = &clumpState{
			clump:  &dff.Clump{},
			frames: make(map[string]int),
			bones:  make(map[string]int),
		}
		s.clumps[id] = cs
	}
	return cs
}

// Assembled returns the fully assembled container, for callers that want
// to inspect or dump the model before (or instead of) serialization.
func (s *Session) Assembled() *dff.File {
	return s.file
}

// sortedClumps returns the unit's clumps ordered by their clump id.
func (s *Session) sortedClumps() []*dff.Clump {
	keys := make([]int, 0, len(s.clumps))
	for k := range s.clumps {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([]*dff.Clump, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.clumps[k].clump)
	}
	return out
}
