// Package store holds the three persistence adapters the pipeline fans
// out to: the Postgres catalog, the Meilisearch full-text index and the
// Qdrant vector collection.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/kbstack/kb-ingest/internal/models"
	"github.com/kbstack/kb-ingest/pkg/logger"
)

// Catalog is the relational document catalog. Rows are keyed by the
// path-derived document id, so every ingestion pass upserts in place.
type Catalog struct {
	db  *sql.DB
	log logger.Logger
}

func NewCatalog(db *sql.DB, log logger.Logger) *Catalog {
	return &Catalog{db: db, log: log}
}

// OpenPostgres opens and verifies a Postgres connection.
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    path TEXT NOT NULL,
    title TEXT,
    content TEXT,
    mtime TIMESTAMP DEFAULT NOW(),

    ext TEXT,
    area TEXT,
    year TEXT,
    client TEXT,
    subject TEXT,
    doc_type TEXT,
    tender_code TEXT,
    category TEXT,
    subject_desc TEXT,
    version TEXT
);`

var schemaIndexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_docs_area ON documents(area);",
	"CREATE INDEX IF NOT EXISTS idx_docs_year ON documents(year);",
	"CREATE INDEX IF NOT EXISTS idx_docs_client ON documents(client);",
	"CREATE INDEX IF NOT EXISTS idx_docs_subject ON documents(subject);",
	"CREATE INDEX IF NOT EXISTS idx_docs_category ON documents(category);",
	"CREATE INDEX IF NOT EXISTS idx_docs_ext ON documents(ext);",
}

// EnsureSchema creates the documents table and its facet indexes.
func (c *Catalog) EnsureSchema(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("create documents table: %w", err)
	}
	for _, ddl := range schemaIndexes {
		if _, err := c.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// Upsert writes one document row, replacing any previous row with the
// same id.
func (c *Catalog) Upsert(ctx context.Context, doc *models.Document) error {
	query := `INSERT INTO documents (
	              id, path, title, content, mtime,
	              ext, area, year, client, subject, doc_type,
	              tender_code, category, subject_desc, version
	          )
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	          ON CONFLICT (id) DO UPDATE SET
	              path = EXCLUDED.path,
	              title = EXCLUDED.title,
	              content = EXCLUDED.content,
	              mtime = EXCLUDED.mtime,
	              ext = EXCLUDED.ext,
	              area = EXCLUDED.area,
	              year = EXCLUDED.year,
	              client = EXCLUDED.client,
	              subject = EXCLUDED.subject,
	              doc_type = EXCLUDED.doc_type,
	              tender_code = EXCLUDED.tender_code,
	              category = EXCLUDED.category,
	              subject_desc = EXCLUDED.subject_desc,
	              version = EXCLUDED.version`

	f := doc.Facets
	_, err := c.db.ExecContext(ctx, query,
		doc.ID, doc.Path, doc.Title, doc.Content, doc.ModTime,
		nullable(f.Ext), nullable(f.Area), nullable(f.Year),
		nullable(f.Client), nullable(f.Subject), nullable(f.DocType),
		nullable(f.TenderCode), nullable(f.Category), nullable(f.SubjectDesc),
		nullable(f.Version),
	)
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.ID, err)
	}
	return nil
}

// facetColumns is the closed set Distinct may query; anything else is a
// caller bug, not a query to run.
var facetColumns = map[string]struct{}{
	"area": {}, "year": {}, "client": {}, "subject": {},
	"doc_type": {}, "tender_code": {}, "category": {}, "ext": {},
}

// Distinct returns the distinct non-null values of one facet column,
// for the facet listing surface.
func (c *Catalog) Distinct(ctx context.Context, field string) ([]string, error) {
	if _, ok := facetColumns[field]; !ok {
		return nil, fmt.Errorf("not a facet column: %s", field)
	}

	rows, err := c.db.QueryContext(ctx,
		fmt.Sprintf("SELECT DISTINCT %s FROM documents WHERE %s IS NOT NULL ORDER BY %s", field, field, field))
	if err != nil {
		return nil, fmt.Errorf("query distinct %s: %w", field, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan %s: %w", field, err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// ModTimes returns the recorded mtime per document id, used by
// incremental runs to skip unchanged files.
func (c *Catalog) ModTimes(ctx context.Context) (map[string]time.Time, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT id, mtime FROM documents")
	if err != nil {
		return nil, fmt.Errorf("query mtimes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var id string
		var mtime time.Time
		if err := rows.Scan(&id, &mtime); err != nil {
			return nil, fmt.Errorf("scan mtime: %w", err)
		}
		out[id] = mtime
	}
	return out, rows.Err()
}

// IDs returns every document id in the catalog.
func (c *Catalog) IDs(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT id FROM documents")
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes the given document rows. Used only by the explicit
// prune pass.
func (c *Catalog) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := c.db.ExecContext(ctx,
		"DELETE FROM documents WHERE id = ANY($1)", pq.StringArray(ids))
	if err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
