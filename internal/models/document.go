package models

import (
	"time"
)

// Facets are the filterable metadata attributes derived from a document's
// path. Empty string means "not derived"; callers must never overwrite a
// populated facet with an empty one (see Merge).
type Facets struct {
	Area        string `json:"area,omitempty"`
	Year        string `json:"year,omitempty"`
	Client      string `json:"client,omitempty"`
	Subject     string `json:"subject,omitempty"`
	DocType     string `json:"doc_type,omitempty"`
	TenderCode  string `json:"tender_code,omitempty"`
	Category    string `json:"category,omitempty"`
	SubjectDesc string `json:"subject_desc,omitempty"`
	Version     string `json:"version,omitempty"`
	Ext         string `json:"ext,omitempty"`
}

// Merge fills unset fields of f from other. Populated fields win; a
// partial or empty parse never erases facets already known.
func (f *Facets) Merge(other Facets) {
	if f.Area == "" {
		f.Area = other.Area
	}
	if f.Year == "" {
		f.Year = other.Year
	}
	if f.Client == "" {
		f.Client = other.Client
	}
	if f.Subject == "" {
		f.Subject = other.Subject
	}
	if f.DocType == "" {
		f.DocType = other.DocType
	}
	if f.TenderCode == "" {
		f.TenderCode = other.TenderCode
	}
	if f.Category == "" {
		f.Category = other.Category
	}
	if f.SubjectDesc == "" {
		f.SubjectDesc = other.SubjectDesc
	}
	if f.Version == "" {
		f.Version = other.Version
	}
	if f.Ext == "" {
		f.Ext = other.Ext
	}
}

// Map returns the non-empty facets keyed by their store column names.
func (f Facets) Map() map[string]string {
	out := make(map[string]string, 10)
	put := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	put("area", f.Area)
	put("year", f.Year)
	put("client", f.Client)
	put("subject", f.Subject)
	put("doc_type", f.DocType)
	put("tender_code", f.TenderCode)
	put("category", f.Category)
	put("subject_desc", f.SubjectDesc)
	put("version", f.Version)
	put("ext", f.Ext)
	return out
}

// Document is one ingested file. ID is the path relative to the corpus
// root, which makes re-ingestion upsert the same row.
type Document struct {
	ID      string    `json:"id"`
	Path    string    `json:"path"`
	Title   string    `json:"title"`
	Content string    `json:"content"`
	ModTime time.Time `json:"mtime"`
	Facets  Facets    `json:"facets"`
}

// Chunk is one embedded text segment of a document. Its vector-store
// identity is derived from (DocID, Index), so re-ingestion overwrites
// instead of duplicating.
type Chunk struct {
	DocID  string    `json:"doc_id"`
	Index  int       `json:"chunk_id"`
	Text   string    `json:"text"`
	Vector []float32 `json:"-"`
}

// Progress is the coarse run progress blob read by monitors.
type Progress struct {
	Running bool   `json:"running"`
	Done    int    `json:"done"`
	Total   int    `json:"total"`
	Stage   string `json:"stage"`
}

// CurrentDoc describes the file currently in the pipeline and the step
// it has reached.
type CurrentDoc struct {
	Filename string  `json:"filename"`
	Path     string  `json:"path"`
	Step     string  `json:"step"`
	Details  string  `json:"details,omitempty"`
	TS       float64 `json:"ts,omitempty"`
}

// FailedDoc is one entry of the bounded failure list.
type FailedDoc struct {
	Path     string  `json:"path,omitempty"`
	Filename string  `json:"filename,omitempty"`
	Stage    string  `json:"stage,omitempty"`
	Error    string  `json:"error"`
	TS       float64 `json:"ts"`
}

// LogEntry is one entry of the bounded processing log, most recent first.
type LogEntry struct {
	Filename  string  `json:"filename"`
	Status    string  `json:"status"`
	Chunks    int     `json:"chunks,omitempty"`
	Indexed   bool    `json:"indexed,omitempty"`
	Vectored  bool    `json:"vectored,omitempty"`
	Error     string  `json:"error,omitempty"`
	Timestamp float64 `json:"timestamp"`
}

// Stats are the aggregate counters for one run.
type Stats struct {
	Success    int `json:"success"`
	Failed     int `json:"failed"`
	Chunked    int `json:"chunked"`
	Indexed    int `json:"indexed"`
	Vectorized int `json:"vectorized"`
}
