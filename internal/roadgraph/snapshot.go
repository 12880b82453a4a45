package roadgraph

import (
	"context"
	"database/sql"
	"fmt"

	"backend-shaperun/internal/shared/geo"

	_ "modernc.org/sqlite"
)

const snapshotSchema = `
CREATE TABLE IF NOT EXISTS nodes (id INTEGER PRIMARY KEY, lat REAL NOT NULL, lng REAL NOT NULL);
CREATE TABLE IF NOT EXISTS edges (src INTEGER NOT NULL, dst INTEGER NOT NULL);
`

// LoadSnapshot reads an offline street graph from a sqlite file.
func LoadSnapshot(ctx context.Context, path string) (*Graph, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, `SELECT id, lat, lng FROM nodes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("read nodes: %w", err)
	}
	g := NewGraph()
	ids := map[int64]int{}
	for rows.Next() {
		var (
			id int64
			p  geo.LatLng
		)
		if err := rows.Scan(&id, &p.Lat, &p.Lng); err != nil {
			rows.Close()
			return nil, err
		}
		ids[id] = g.AddNode(p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = conn.QueryContext(ctx, `SELECT src, dst FROM edges`)
	if err != nil {
		return nil, fmt.Errorf("read edges: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var src, dst int64
		if err := rows.Scan(&src, &dst); err != nil {
			return nil, err
		}
		a, okA := ids[src]
		b, okB := ids[dst]
		if !okA || !okB {
			return nil, fmt.Errorf("edge %d-%d references a missing node", src, dst)
		}
		g.AddEdge(a, b)
	}
	return g, rows.Err()
}

// WriteSnapshot stores g in a sqlite file, replacing existing contents.
func WriteSnapshot(ctx context.Context, path string, g *Graph) error {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, snapshotSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM edges; DELETE FROM nodes;`); err != nil {
		return err
	}
	for id := 0; id < g.NodeCount(); id++ {
		p := g.Node(id)
		if _, err := tx.ExecContext(ctx, `INSERT INTO nodes (id, lat, lng) VALUES (?, ?, ?)`, id, p.Lat, p.Lng); err != nil {
			return fmt.Errorf("insert node %d: %w", id, err)
		}
	}
	var edgeErr error
	g.Edges(func(a, b int) {
		if edgeErr != nil {
			return
		}
		_, edgeErr = tx.ExecContext(ctx, `INSERT INTO edges (src, dst) VALUES (?, ?)`, a, b)
	})
	if edgeErr != nil {
		return fmt.Errorf("insert edge: %w", edgeErr)
	}
	return tx.Commit()
}
