package kb

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/semlink/semlink/internal/platform/logger"
	"github.com/semlink/semlink/internal/platform/neo4jdb"
)

// Neo4jLoader reads knowledge-base triples from a graph database. Each
// Resource node carries uri/label/definition/kb/namespace properties;
// relationships carry the predicate uri.
type Neo4jLoader struct {
	client *neo4jdb.Client
	log    *logger.Logger
}

func NewNeo4jLoader(client *neo4jdb.Client, log *logger.Logger) *Neo4jLoader {
	return &Neo4jLoader{
		client: client,
		log:    log.With("loader", "Neo4jTripleLoader"),
	}
}

const tripleQuery = `
MATCH (s:Resource)-[p:STATEMENT]->(o)
WHERE s.kb IN $kb_ids
RETURN s.uri AS subject, s.label AS subject_label,
       p.uri AS predicate, p.label AS predicate_label,
       CASE WHEN o:Resource THEN o.uri ELSE toString(o.value) END AS object,
       CASE WHEN o:Resource THEN o.label ELSE '' END AS object_label,
       coalesce(p.definition, '') AS definition,
       s.kb AS kb,
       coalesce(s.namespace, '') AS namespace
`

func (l *Neo4jLoader) Load(ctx context.Context, kbIDs []string) ([]Triple, error) {
	if l == nil || l.client == nil || l.client.Driver == nil {
		return nil, fmt.Errorf("neo4j triple loader not configured")
	}
	if len(kbIDs) == 0 {
		return nil, nil
	}

	session := l.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: l.client.Database,
	})
	defer session.Close(ctx)

	rows, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, tripleQuery, map[string]any{"kb_ids": kbIDs})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("load triples: %w", err)
	}

	records, _ := rows.([]*neo4j.Record)
	out := make([]Triple, 0, len(records))
	skipped := 0
	for _, rec := range records {
		t := Triple{
			Subject:        recString(rec, "subject"),
			SubjectLabel:   recString(rec, "subject_label"),
			Predicate:      recString(rec, "predicate"),
			PredicateLabel: recString(rec, "predicate_label"),
			Object:         recString(rec, "object"),
			ObjectLabel:    recString(rec, "object_label"),
			Definition:     recString(rec, "definition"),
			KnowledgeBase:  recString(rec, "kb"),
			Namespace:      recString(rec, "namespace"),
		}
		if t.Subject == "" || t.Predicate == "" || t.Object == "" {
			skipped++
			continue
		}
		out = append(out, t)
	}
	if skipped > 0 {
		l.log.Warn("skipped incomplete triples from graph", "skipped", skipped, "kb_ids", kbIDs)
	}
	l.log.Info("loaded triples from graph", "count", len(out), "kb_ids", kbIDs)
	return out, nil
}

func recString(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
