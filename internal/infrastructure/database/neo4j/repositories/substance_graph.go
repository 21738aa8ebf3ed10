// Package repositories projects engine runs into the Neo4j substance graph:
// substances, their classification branch and their peer relations.
package repositories

import (
	"context"
	"sort"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/turtacn/RegScan/internal/domain/substance"
	driver "github.com/turtacn/RegScan/internal/infrastructure/database/neo4j"
	"github.com/turtacn/RegScan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RegScan/pkg/errors"
)

const (
	cypherConstraints = `CREATE CONSTRAINT substance_key IF NOT EXISTS FOR (s:Substance) REQUIRE s.key IS UNIQUE`
	cypherClassIndex  = `CREATE CONSTRAINT atc_code IF NOT EXISTS FOR (c:ATCClass) REQUIRE c.code IS UNIQUE`

	cypherUpsertSubstances = `
		UNWIND $rows AS row
		MERGE (s:Substance {key: row.key})
		SET s.display_name = row.name, s.score = row.score, s.tier = row.tier,
		    s.label = row.label, s.herbal = row.herbal, s.run_id = $runId
		WITH s, row
		OPTIONAL MATCH (s)-[old:CLASSIFIED_AS]->()
		DELETE old
		WITH DISTINCT s, row
		WHERE row.atc IS NOT NULL
		MERGE (c:ATCClass {code: row.atc})
		MERGE (s)-[:CLASSIFIED_AS]->(c)`

	cypherUpsertHierarchy = `
		UNWIND $links AS link
		MERGE (c:ATCClass {code: link.code})
		SET c.name = link.name, c.level = link.level
		WITH c, link
		WHERE link.parent IS NOT NULL
		MERGE (p:ATCClass {code: link.parent})
		MERGE (p)-[:PARENT_OF]->(c)`

	cypherUpsertPeers = `
		UNWIND $pairs AS pair
		MATCH (a:Substance {key: pair.a}), (b:Substance {key: pair.b})
		MERGE (a)-[:PEER_OF]-(b)`

	cypherPeersOf = `
		MATCH (:Substance {key: $key})-[:PEER_OF]-(p:Substance)
		RETURN DISTINCT p.key AS key
		ORDER BY key`
)

// SubstanceGraph writes runs into Neo4j and answers peer queries.
type SubstanceGraph struct {
	driver driver.DriverInterface
	log    logging.Logger
}

func NewSubstanceGraph(d driver.DriverInterface, log logging.Logger) *SubstanceGraph {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &SubstanceGraph{driver: d, log: log}
}

func (g *SubstanceGraph) Name() string { return "neo4j" }

// EnsureConstraints creates the uniqueness constraints the MERGE statements
// rely on.
func (g *SubstanceGraph) EnsureConstraints(ctx context.Context) error {
	_, err := g.driver.ExecuteWrite(ctx, func(tx driver.Transaction) (any, error) {
		for _, q := range []string{cypherConstraints, cypherClassIndex} {
			if _, err := tx.Run(ctx, q, nil); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// Publish upserts every assessed substance, the classification branch it
// belongs to and its peer edges.
func (g *SubstanceGraph) Publish(ctx context.Context, run *substance.Run) error {
	if run == nil || len(run.Assessments) == 0 {
		return nil
	}
	rows, links, pairs := graphParams(run.Assessments)

	var stats writeStats
	_, err := g.driver.ExecuteWrite(ctx, func(tx driver.Transaction) (any, error) {
		// The driver retries the whole function on transient errors.
		stats = writeStats{}
		if len(links) > 0 {
			if err := stats.run(ctx, tx, cypherUpsertHierarchy, map[string]any{"links": links}); err != nil {
				return nil, err
			}
		}
		if err := stats.run(ctx, tx, cypherUpsertSubstances, map[string]any{"rows": rows, "runId": run.ID}); err != nil {
			return nil, err
		}
		if len(pairs) > 0 {
			if err := stats.run(ctx, tx, cypherUpsertPeers, map[string]any{"pairs": pairs}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return err
	}
	g.log.Debug("substance graph updated",
		logging.String("run_id", run.ID),
		logging.Int("substances", len(rows)),
		logging.Int("peer_edges", len(pairs)),
		logging.Int("nodes_created", stats.nodes),
		logging.Int("relationships_created", stats.relationships))
	return nil
}

// writeStats sums the update counters of the statements in one transaction.
type writeStats struct {
	nodes         int
	relationships int
}

func (w *writeStats) run(ctx context.Context, tx driver.Transaction, cypher string, params map[string]any) error {
	res, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return err
	}
	summary, err := res.Consume(ctx)
	if err != nil {
		return err
	}
	c := summary.Counters()
	w.nodes += c.NodesCreated()
	w.relationships += c.RelationshipsCreated()
	return nil
}

// PeersOf returns the keys linked to key by a PEER_OF edge, sorted.
func (g *SubstanceGraph) PeersOf(ctx context.Context, key substance.CanonicalKey) ([]substance.CanonicalKey, error) {
	out, err := g.driver.ExecuteRead(ctx, func(tx driver.Transaction) (any, error) {
		res, err := tx.Run(ctx, cypherPeersOf, map[string]any{"key": string(key)})
		if err != nil {
			return nil, err
		}
		return driver.CollectRecords(ctx, res, func(r *neo4j.Record) (substance.CanonicalKey, error) {
			v, ok := r.Get("key")
			if !ok {
				return "", errors.New(errors.ErrCodeDatabaseError, "peer record has no key")
			}
			s, _ := v.(string)
			return substance.CanonicalKey(s), nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out.([]substance.CanonicalKey), nil
}

func graphParams(assessments []substance.Assessment) (rows, links, pairs []map[string]any) {
	seenLinks := map[string]bool{}
	seenPairs := map[[2]substance.CanonicalKey]bool{}

	for i := range assessments {
		a := &assessments[i]
		row := map[string]any{
			"key":    string(a.Status.Key),
			"name":   a.Status.DisplayName,
			"score":  int64(a.Score.Total),
			"tier":   string(a.Score.Tier),
			"label":  string(a.Impact.Label),
			"herbal": a.Status.Herbal,
			"atc":    nil,
		}
		if cls := a.Status.Classification; cls != nil && cls.Code != "" {
			row["atc"] = cls.Code
			var parent any
			for _, lvl := range cls.Levels {
				if !seenLinks[lvl.Code] {
					seenLinks[lvl.Code] = true
					links = append(links, map[string]any{
						"code":   lvl.Code,
						"name":   lvl.Name,
						"level":  int64(lvl.Level),
						"parent": parent,
					})
				}
				parent = lvl.Code
			}
		}
		rows = append(rows, row)

		for _, p := range a.Peers {
			pair := [2]substance.CanonicalKey{a.Status.Key, p}
			if pair[1] < pair[0] {
				pair[0], pair[1] = pair[1], pair[0]
			}
			if pair[0] == pair[1] || seenPairs[pair] {
				continue
			}
			seenPairs[pair] = true
			pairs = append(pairs, map[string]any{"a": string(pair[0]), "b": string(pair[1])})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i]["a"] != pairs[j]["a"] {
			return pairs[i]["a"].(string) < pairs[j]["a"].(string)
		}
		return pairs[i]["b"].(string) < pairs[j]["b"].(string)
	})
	return rows, links, pairs
}
