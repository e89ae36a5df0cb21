// Package skill loads the analytic-reporting skill document.
//
// The document is free-form instruction text for the narrative model, with
// an embedded fenced JSON block carrying machine-readable configuration:
// the evidence queries to execute and optional overrides for the fallback
// narrative templates. It is parsed once at process start and treated as
// immutable afterwards.
package skill

import (
	"encoding/json"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/paylabs/reportflow/internal/model"
)

// DefaultText is used when no skill document is present on disk.
const DefaultText = "Use the reporting tools safely. Output concise business analysis."

// EvidenceQuery is one configured read-only analytical query. The SQL field
// is a template with {merchant_id}, {start_date}, and {end_date} placeholders.
type EvidenceQuery struct {
	Name  string `json:"name"`
	SQL   string `json:"sql"`
	Limit int    `json:"limit"`
}

// Config is the machine-readable part of the skill document.
type Config struct {
	EvidenceQueries   []EvidenceQuery   `json:"evidence_queries"`
	FallbackTemplates map[string]string `json:"fallback_templates"`
}

// Skill is the loaded document: raw instruction text plus parsed config.
type Skill struct {
	Text   string
	Config Config
}

var fencedJSON = regexp.MustCompile("```json\\s*(\\{[\\s\\S]*?\\})\\s*```")

// Load reads the skill document from path. A missing file is not an error:
// the built-in instruction text is used and the evidence query list stays
// empty, which makes every run's evidence step fail deterministically until
// a document is provided.
func Load(path string, logger *slog.Logger) Skill {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from validated config, not user input
	if err != nil {
		logger.Warn("skill: document not readable, using built-in defaults", "path", path, "error", err)
		return Skill{Text: DefaultText}
	}
	text := string(data)
	return Skill{Text: text, Config: ParseConfig(text)}
}

// ParseConfig extracts the first fenced JSON block that parses as an object
// with an evidence_queries key. Blocks that fail to parse are skipped; no
// matching block yields the zero Config.
func ParseConfig(text string) Config {
	for _, m := range fencedJSON.FindAllStringSubmatch(text, -1) {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal([]byte(m[1]), &probe); err != nil {
			continue
		}
		if _, ok := probe["evidence_queries"]; !ok {
			continue
		}
		var cfg Config
		if err := json.Unmarshal([]byte(m[1]), &cfg); err != nil {
			continue
		}
		return cfg
	}
	return Config{}
}

// RenderSQL substitutes the request fields into an evidence query template.
// Substitution is plain substring replacement over the three known
// placeholders; placeholders absent from the template are simply not used.
// The rendered statement is re-validated by sqlguard before execution.
func RenderSQL(tmpl string, req model.ReportRequest) string {
	r := strings.NewReplacer(
		"{merchant_id}", req.MerchantID,
		"{start_date}", req.StartDate,
		"{end_date}", req.EndDate,
	)
	return r.Replace(tmpl)
}
