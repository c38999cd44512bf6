// Package metadata derives filterable facets from a document's path.
// Parsing is pure string pattern matching over two path grammars and
// never fails: anything unrecognized simply stays unset, and callers
// merge results non-destructively.
package metadata

import (
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kbstack/kb-ingest/internal/models"
)

// Framework agreements are organized by "stralcio" folder rather than
// by year; the folder code maps to the year the slice covers.
var yearByStralcio = map[string]string{
	"SD1": "2021",
	"SD2": "2022",
	"SD3": "2023",
	"SD4": "2024",
	"SD5": "2025",
	"SD6": "2026",
}

// docTypeAliases maps the numbered folder convention to display names.
var docTypeAliases = map[string]string{
	"01_Documentazione":    "Documentazione",
	"02_Chiarimenti":       "Chiarimenti",
	"03_Risposta tecnica":  "Risposta Tecnica",
	"04_OffertaTecnica":    "Offerta Tecnica",
	"04_Offerta Tecnica":   "Offerta Tecnica",
	"05_OffertaTempo":      "Offerta Tempi",
	"08_AccessoAgliAtti":   "Accesso Atti",
	"98_ODA":               "Ordine Acquisto",
	"99_AS":                "Appalto Specifico",
}

type subjectInfo struct {
	category    string
	description string
}

// Known subject acronyms found in folder and file names, with the
// category they imply.
var subjects = map[string]subjectInfo{
	"AMC":       {"Gestionale", "Amministrazione Contabilità"},
	"HR":        {"Gestionale", "Risorse Umane"},
	"Logistica": {"Gestionale", "Logistica"},
	"SIO":       {"Sanità", "Sistema Informativo Ospedaliero"},
	"SIA":       {"Sanità", "Sistema Informativo Aziendale"},
	"CCE":       {"Sanità", "Cartella Clinica Elettronica"},
	"LIS":       {"Sanità", "Laboratory Information System"},
	"RIS":       {"Sanità", "Radiology Information System"},
	"PACS":      {"Sanità", "Picture Archiving System"},
	"CUP":       {"Sanità", "Centro Unico Prenotazioni"},
	"118":       {"Emergenza", "Emergenza Sanitaria"},
	"FSE":       {"Territoriale", "Fascicolo Sanitario Elettronico"},
	"SIT":       {"Territoriale", "Sistema Informativo Territoriale"},
	"DWH":       {"Analytics", "Data Warehouse"},
	"GDPR":      {"Compliance", "Privacy e GDPR"},
}

var (
	// No trailing \b: underscores are word characters, so a boundary
	// there would reject "AS2301_Client" entirely.
	tenderCodeRe     = regexp.MustCompile(`\b(AS\d{4}[A-Z0-9]*)`)
	numberedFolderRe = regexp.MustCompile(`^\d{2}_`)
	tenderFolderRe   = regexp.MustCompile(`^(\d{4})_([^-]+)(?:-(.+))?$`)
	clientPrefixRe   = regexp.MustCompile(`(?i)^(AOU|AORN|ARNAS|AO|ASL|AUSL|ASP|Regione|Provincia)\s*`)
	camelLowerUpper  = regexp.MustCompile(`([a-z])([A-Z])`)
	camelAcronymWord = regexp.MustCompile(`([A-Z]+)([A-Z][a-z])`)
	spacesRe         = regexp.MustCompile(`\s+`)

	// Version precedence: an explicit vN.N wins, then a "(N)" copy
	// marker, then a bare numeric suffix. The suffix is only accepted
	// up to 99 so a 4-digit year like "_2020" never parses as a
	// version. This ordering is deliberate policy, not an accident.
	explicitVersionRe = regexp.MustCompile(`[vV]\.?\d+\.\d+(?:\.\d+)?`)
	copyMarkerRe      = regexp.MustCompile(`\((\d{1,3})\)`)
	numericSuffixRe   = regexp.MustCompile(`_(\d{1,3})$`)
)

// Parse derives facets from path relative to root. It never fails; an
// unrecognized path yields only the extension (and a version when the
// filename carries one).
func Parse(path, root string) models.Facets {
	filename := filepath.Base(path)
	f := models.Facets{
		Ext:     strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), "."),
		Version: parseVersion(filename),
	}

	rel := strings.TrimPrefix(filepath.ToSlash(path), filepath.ToSlash(root))
	rel = strings.TrimPrefix(rel, "/")
	parts := strings.Split(rel, "/")
	if len(parts) < 2 {
		return f
	}

	// Grammar results are folded in non-destructively: the
	// filename-derived facets above are never overwritten by a
	// partial or empty directory parse.
	var derived models.Facets
	if strings.HasPrefix(parts[0], "_") {
		derived.Area = strings.TrimLeft(parts[0], "_")
	}

	switch derived.Area {
	case "AQ":
		parseFramework(parts, filename, &derived)
	case "Gare":
		parseTender(parts, &derived)
	}
	f.Merge(derived)
	return f
}

// parseFramework handles the _AQ/{SD-code}/{NN_type}/{AS-code}_{client}
// grammar.
func parseFramework(parts []string, filename string, f *models.Facets) {
	if strings.HasPrefix(parts[1], "SD") {
		f.Year = yearByStralcio[parts[1]]
	}

	for _, part := range parts {
		if m := tenderCodeRe.FindStringSubmatch(part); m != nil {
			f.TenderCode = m[1]
			if idx := strings.Index(part, "_"); idx >= 0 && idx < len(part)-1 {
				f.Client = cleanClient(part[idx+1:])
			}
			break
		}
	}

	for _, part := range parts {
		if numberedFolderRe.MatchString(part) {
			f.DocType = aliasDocType(part)
			break
		}
	}

	findSubject(append(append([]string{}, parts...), filename), f)
}

// parseTender handles the _Gare/{year}_{client}-{subject} grammar.
func parseTender(parts []string, f *models.Facets) {
	m := tenderFolderRe.FindStringSubmatch(parts[1])
	if m != nil {
		f.Year = m[1]
		f.Client = cleanClient(m[2])
		if m[3] != "" {
			findSubject([]string{m[3]}, f)
			if f.Subject == "" {
				f.Subject = strings.ReplaceAll(m[3], "_", " ")
			}
		}
	}

	for _, part := range parts {
		if numberedFolderRe.MatchString(part) {
			f.DocType = aliasDocType(part)
			break
		}
	}
}

func aliasDocType(folder string) string {
	if alias, ok := docTypeAliases[folder]; ok {
		return alias
	}
	return folder
}

type subjectMatcher struct {
	acronym string
	re      *regexp.Regexp
	info    subjectInfo
}

var subjectMatchers = buildSubjectMatchers()

func buildSubjectMatchers() []subjectMatcher {
	acronyms := make([]string, 0, len(subjects))
	for a := range subjects {
		acronyms = append(acronyms, a)
	}
	sort.Strings(acronyms)

	matchers := make([]subjectMatcher, 0, len(acronyms))
	for _, a := range acronyms {
		matchers = append(matchers, subjectMatcher{
			acronym: a,
			re:      regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(a) + `\b`),
			info:    subjects[a],
		})
	}
	return matchers
}

func findSubject(candidates []string, f *models.Facets) {
	for _, candidate := range candidates {
		// Underscores count as word characters and would defeat the
		// \b anchors, so treat them as separators first.
		candidate = strings.ReplaceAll(candidate, "_", " ")
		for _, m := range subjectMatchers {
			if m.re.MatchString(candidate) {
				f.Subject = m.acronym
				f.Category = m.info.category
				f.SubjectDesc = m.info.description
				return
			}
		}
	}
}

// cleanClient strips recurring organizational prefixes and splits
// camel-cased names into words: "AUSL_Romagna" -> "Romagna",
// "ATSBrescia" -> "ATS Brescia".
func cleanClient(raw string) string {
	cleaned := strings.ReplaceAll(raw, "_", " ")
	cleaned = clientPrefixRe.ReplaceAllString(cleaned, "")
	cleaned = camelLowerUpper.ReplaceAllString(cleaned, "$1 $2")
	cleaned = camelAcronymWord.ReplaceAllString(cleaned, "$1 $2")
	cleaned = spacesRe.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}

// parseVersion extracts a version marker from the filename, trying the
// most specific pattern first (see the regex block above for the
// tie-break policy).
func parseVersion(filename string) string {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))

	if m := explicitVersionRe.FindString(stem); m != "" {
		return m
	}
	if m := copyMarkerRe.FindStringSubmatch(stem); m != nil {
		return "(" + m[1] + ")"
	}
	if m := numericSuffixRe.FindStringSubmatch(stem); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n <= 99 {
			return m[1]
		}
	}
	return ""
}
