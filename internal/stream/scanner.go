package stream

import (
	"github.com/systemshift/modelgraph/internal/model"
)

// NodeSet is a set of node identities
type NodeSet map[model.NodeID]struct{}

// Add inserts id
func (s NodeSet) Add(id model.NodeID) { s[id] = struct{}{} }

// Has reports whether id is in the set
func (s NodeSet) Has(id model.NodeID) bool {
	_, ok := s[id]
	return ok
}

// Scanner walks the node section of a stream and records reference targets
// without building nodes. Targets in the same stream go to the local set,
// all others to the external set.
type Scanner struct {
	nr       *nodesReader
	local    NodeSet
	external NodeSet
	nodes    int
}

// NewScanner returns a scanner over r, which must be positioned right
// after the header of the model identified by id.
func NewScanner(r *Reader, id model.ModelIdentity) *Scanner {
	return &Scanner{nr: &nodesReader{r: r, modelID: id}}
}

// CollectLocalTargets makes the walk add same-stream targets to set
func (s *Scanner) CollectLocalTargets(set NodeSet) { s.local = set }

// CollectExternalTargets makes the walk add other-model targets to set
func (s *Scanner) CollectExternalTargets(set NodeSet) { s.external = set }

// NodeCount returns the number of node records seen so far
func (s *Scanner) NodeCount() int { return s.nodes }

// ReadChildren walks one children block. A nil parent reads the root block,
// which is preceded by the model start token.
func (s *Scanner) ReadChildren(parent *model.NodeID) error {
	if parent == nil {
		if err := s.nr.r.ExpectToken(ModelStart, "model start"); err != nil {
			return err
		}
	}
	return s.nr.readChildren(parent, s)
}

func (s *Scanner) enter(rec *nodeRecord, _ int, _ *model.NodeID) error {
	s.nodes++
	for _, ref := range rec.References {
		switch {
		case ref.Local && s.local != nil:
			s.local.Add(ref.Target)
		case !ref.Local && s.external != nil:
			s.external.Add(ref.Target)
		}
	}
	return nil
}
