package models

// Search statuses. SAFE is a normal successful result, not an error.
const (
	StatusSafe  = "SAFE"
	StatusFound = "FOUND"
)

// RiskAssessment classifies the exposure risk of a match based on where
// the image was originally found.
type RiskAssessment struct {
	Score       int    `json:"score"`
	Level       string `json:"level"`
	Description string `json:"description"`
}

// Match is a single index hit above the similarity threshold, joined with
// its provenance metadata. Matches are never persisted.
type Match struct {
	AssetID    int64          `json:"asset_id"`
	Similarity float64        `json:"similarity"`
	SourceURL  string         `json:"source_url"`
	FilePath   string         `json:"file_path,omitempty"`
	Risk       RiskAssessment `json:"risk"`
}

// SearchResult is the response for one similarity query. Matches is empty
// when Status is SAFE, and ordered by descending similarity (ties broken by
// ascending asset id) when Status is FOUND.
type SearchResult struct {
	Status      string  `json:"status"`
	Matches     []Match `json:"matches,omitempty"`
	QueryTimeMS int64   `json:"query_time_ms"`
}

// IndexSummary reports the outcome of one indexing pipeline run.
type IndexSummary struct {
	Scanned    int   `json:"scanned"`
	Indexed    int   `json:"indexed"`
	Skipped    int   `json:"skipped"`
	Failed     int   `json:"failed"`
	DurationMS int64 `json:"duration_ms"`
}
