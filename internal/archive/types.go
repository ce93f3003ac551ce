package archive

import (
	"encoding/json"
	"time"
)

// ReportRecord is a rendered periodic report kept for later reference.
type ReportRecord struct {
	TenantID    string          `json:"tenant_id"`
	Kind        string          `json:"kind"` // weekly|monthly
	PeriodStart time.Time       `json:"period_start"`
	PeriodEnd   time.Time       `json:"period_end"`
	Subject     string          `json:"subject"`
	HTML        string          `json:"-"`
	Metrics     json.RawMessage `json:"metrics"`
	Recipients  int             `json:"recipients"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// ManifestEntry is one JSONL line in the monthly manifest file.
type ManifestEntry struct {
	TenantID    string `json:"tenant_id"`
	Kind        string `json:"kind"`
	PeriodStart string `json:"period_start"`
	HTMLKey     string `json:"html_key"`
	DataKey     string `json:"data_key"`
	ArchivedAt  string `json:"archived_at"`
	Recipients  int    `json:"recipients"`
}
