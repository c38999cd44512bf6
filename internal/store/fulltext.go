package store

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/meilisearch/meilisearch-go"

	"github.com/kbstack/kb-ingest/internal/models"
)

// previewRunes bounds the text stored in the full-text index; the
// catalog keeps the unbounded content.
const previewRunes = 5000

// IndexDoc is the full-text index payload: the catalog row's facet
// fields plus a bounded content preview.
type IndexDoc struct {
	ID          string `json:"id"`
	Path        string `json:"path"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	Area        string `json:"area,omitempty"`
	Year        string `json:"year,omitempty"`
	Client      string `json:"client,omitempty"`
	Subject     string `json:"subject,omitempty"`
	DocType     string `json:"doc_type,omitempty"`
	TenderCode  string `json:"tender_code,omitempty"`
	Category    string `json:"category,omitempty"`
	Version     string `json:"version,omitempty"`
	Ext         string `json:"ext,omitempty"`
}

// NewIndexDoc builds the index payload for one document.
func NewIndexDoc(doc *models.Document) IndexDoc {
	f := doc.Facets
	return IndexDoc{
		ID:         doc.ID,
		Path:       doc.Path,
		Title:      doc.Title,
		Content:    truncateRunes(doc.Content, previewRunes),
		Area:       f.Area,
		Year:       f.Year,
		Client:     f.Client,
		Subject:    f.Subject,
		DocType:    f.DocType,
		TenderCode: f.TenderCode,
		Category:   f.Category,
		Version:    f.Version,
		Ext:        f.Ext,
	}
}

// Fulltext wraps the Meilisearch index used for keyword search.
type Fulltext struct {
	client meilisearch.ServiceManager
	uid    string
}

func NewFulltext(url, apiKey, uid string) *Fulltext {
	return &Fulltext{
		client: meilisearch.New(url, meilisearch.WithAPIKey(apiKey)),
		uid:    uid,
	}
}

// EnsureIndex creates the index when absent and declares the
// filterable, searchable and sortable attribute sets.
func (f *Fulltext) EnsureIndex(ctx context.Context) error {
	if _, err := f.client.GetIndex(f.uid); err != nil {
		if _, err := f.client.CreateIndex(&meilisearch.IndexConfig{
			Uid:        f.uid,
			PrimaryKey: "id",
		}); err != nil {
			return fmt.Errorf("create index %s: %w", f.uid, err)
		}
	}

	_, err := f.client.Index(f.uid).UpdateSettings(&meilisearch.Settings{
		FilterableAttributes: []string{
			"area", "year", "client", "subject", "doc_type", "category", "ext",
		},
		SearchableAttributes: []string{
			"title", "content", "path", "client", "subject",
		},
		SortableAttributes: []string{"year", "client"},
	})
	if err != nil {
		return fmt.Errorf("update index settings: %w", err)
	}
	return nil
}

// AddDocuments indexes one batch.
func (f *Fulltext) AddDocuments(ctx context.Context, docs []IndexDoc) error {
	if len(docs) == 0 {
		return nil
	}
	if _, err := f.client.Index(f.uid).AddDocuments(docs); err != nil {
		return fmt.Errorf("add documents: %w", err)
	}
	return nil
}

// DeleteDocuments removes the given ids. Used only by the prune pass.
func (f *Fulltext) DeleteDocuments(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := f.client.Index(f.uid).DeleteDocuments(ids); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
