// Package extract turns a single file into plain text, degrading
// gracefully: unsupported or unreadable files yield an empty string,
// never an error. Dispatch is by file extension through a closed set of
// format handlers with a denylist checked first.
package extract

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/kbstack/kb-ingest/pkg/logger"
)

type format int

const (
	formatUnknown format = iota
	formatDenied
	formatText
	formatPDF
	formatDocx
	formatXLSX
	formatOffice
)

// denylist covers formats known to be unconvertible: project/CAD files,
// databases, archives, binaries, media, fonts and mail stores. Checked
// before any extraction attempt.
var denylist = map[string]struct{}{
	".mpp": {}, ".vsd": {}, ".mdb": {}, ".accdb": {}, ".dwg": {},
	".zip": {}, ".rar": {}, ".7z": {}, ".tar": {}, ".gz": {},
	".exe": {}, ".dll": {}, ".so": {},
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".bmp": {}, ".svg": {},
	".mp3": {}, ".mp4": {}, ".avi": {}, ".mov": {}, ".wav": {},
	".ttf": {}, ".otf": {}, ".pst": {},
}

var textExts = map[string]struct{}{
	".txt": {}, ".md": {}, ".csv": {}, ".log": {},
	".ini": {}, ".conf": {}, ".xml": {}, ".json": {},
}

var officeExts = map[string]struct{}{
	".doc": {}, ".xls": {}, ".ppt": {}, ".pptx": {},
	".odt": {}, ".ods": {}, ".odp": {}, ".rtf": {},
}

func classify(ext string) format {
	if _, ok := denylist[ext]; ok {
		return formatDenied
	}
	if _, ok := textExts[ext]; ok {
		return formatText
	}
	switch ext {
	case ".pdf":
		return formatPDF
	case ".docx":
		return formatDocx
	case ".xlsx":
		return formatXLSX
	}
	if _, ok := officeExts[ext]; ok {
		return formatOffice
	}
	return formatUnknown
}

// Config tunes the external conversion tools.
type Config struct {
	PdftotextBin string `yaml:"pdftotextBin"`
	SofficeBin   string `yaml:"sofficeBin"`
}

// Extractor extracts plain text from files on disk.
type Extractor struct {
	cfg Config
	log logger.Logger
}

func New(cfg Config, log logger.Logger) *Extractor {
	if cfg.PdftotextBin == "" {
		cfg.PdftotextBin = "pdftotext"
	}
	if cfg.SofficeBin == "" {
		cfg.SofficeBin = "soffice"
	}
	return &Extractor{cfg: cfg, log: log}
}

// Extract returns the cleaned text content of path, or "" when nothing
// can be extracted. Failures of individual conversion strategies fall
// through to the next one; nothing here returns an error.
func (e *Extractor) Extract(ctx context.Context, path string) string {
	ext := strings.ToLower(filepath.Ext(path))

	switch classify(ext) {
	case formatDenied:
		e.log.Debug("unsupported format, skipping",
			logger.String("ext", ext),
			logger.String("file", filepath.Base(path)),
		)
		return ""

	case formatText:
		return Clean(e.readPlain(path))

	case formatPDF:
		return Clean(e.extractPDF(ctx, path))

	case formatDocx:
		text, err := readDocx(path)
		if err != nil {
			e.log.Warn("docx parse failed, falling back to converter",
				logger.String("file", filepath.Base(path)),
				logger.Error(err),
			)
			return Clean(e.convertOffice(ctx, path))
		}
		return Clean(text)

	case formatXLSX:
		text, err := readXLSX(path)
		if err != nil {
			e.log.Warn("xlsx parse failed, falling back to converter",
				logger.String("file", filepath.Base(path)),
				logger.Error(err),
			)
			return Clean(e.convertOffice(ctx, path))
		}
		return Clean(text)

	case formatOffice:
		return Clean(e.convertOffice(ctx, path))

	default:
		// Unknown extension: try it as text, give up quietly otherwise.
		return Clean(e.readPlain(path))
	}
}

// readPlain reads a file as UTF-8, decoding as Latin-1 when the bytes
// are not valid UTF-8.
func (e *Extractor) readPlain(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		e.log.Warn("read failed",
			logger.String("file", filepath.Base(path)),
			logger.Error(err),
		)
		return ""
	}
	if utf8.Valid(data) {
		return string(data)
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return string(data)
	}
	return string(decoded)
}
