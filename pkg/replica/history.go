package replica

import "fmt"

// Revision describes one change in the document history.
type Revision struct {
	Hash    string   `json:"hash"`
	Actor   string   `json:"actor"`
	Seq     uint64   `json:"seq"`
	Message string   `json:"message"`
	Deps    []string `json:"deps"`
	// Shapes is the length of the shape list as of this change.
	Shapes int `json:"shapes"`
}

func (r *Replica) History() ([]Revision, error) {
	changes, err := r.doc.Changes()
	if err != nil {
		return nil, fmt.Errorf("failed to generate changes: %w", err)
	}
	out := make([]Revision, 0, len(changes))
	for _, change := range changes {
		docAt, err := r.doc.Fork(change.Hash())
		if err != nil {
			return nil, fmt.Errorf("failed to checkout %s: %w", change.Hash(), err)
		}
		deps := make([]string, 0, len(change.Dependencies()))
		for _, h := range change.Dependencies() {
			deps = append(deps, h.String())
		}
		out = append(out, Revision{
			Hash:    change.Hash().String(),
			Actor:   change.ActorID(),
			Seq:     change.ActorSeq(),
			Message: change.Message(),
			Deps:    deps,
			Shapes:  docAt.Path(shapesKey).List().Len(),
		})
	}
	return out, nil
}
