// Package cli provides CLI output utilities for Kagami.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hersafe/kagami/internal/models"
)

// OutputFormat is the format for CLI output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// WriteSearchResult writes a search result to w in the given format.
func WriteSearchResult(w io.Writer, result *models.SearchResult, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	default:
		writeSearchResultText(w, result)
		return nil
	}
}

func writeSearchResultText(w io.Writer, result *models.SearchResult) {
	if result.Status == models.StatusSafe {
		fmt.Fprintf(w, "\nSAFE: no sufficiently similar image found (%dms)\n", result.QueryTimeMS)
		return
	}
	fmt.Fprintf(w, "\nFOUND: %d match(es) in %dms\n\n", len(result.Matches), result.QueryTimeMS)
	for _, m := range result.Matches {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Asset ID: %d | Similarity: %.4f\n", m.AssetID, m.Similarity)
		fmt.Fprintf(w, "Source: %s\n", m.SourceURL)
		if m.FilePath != "" {
			fmt.Fprintf(w, "File: %s\n", m.FilePath)
		}
		fmt.Fprintf(w, "Risk: %s (%d): %s\n", m.Risk.Level, m.Risk.Score, m.Risk.Description)
		fmt.Fprintln(w)
	}
}

// WriteIndexSummary writes a pipeline run summary to w in the given format.
func WriteIndexSummary(w io.Writer, summary *models.IndexSummary, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	default:
		fmt.Fprintf(w, "scanned: %d\nindexed: %d\nskipped: %d\nfailed:  %d\nduration_ms: %d\n",
			summary.Scanned, summary.Indexed, summary.Skipped, summary.Failed, summary.DurationMS)
		return nil
	}
}
