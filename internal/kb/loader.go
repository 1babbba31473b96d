package kb

import "context"

// TripleLoader supplies the triples of one or more knowledge bases. Loaders
// must return stable (subject, predicate, object) identities across calls.
type TripleLoader interface {
	Load(ctx context.Context, kbIDs []string) ([]Triple, error)
}
