// internal/extract/results.go
package extract

import (
	"fmt"
	"strings"

	"github.com/voxstay/browsergate/api/schemas"
)

// Outcome classifies how a search run ended.
type Outcome int

const (
	// OutcomeSucceeded means the structured card extraction produced results.
	OutcomeSucceeded Outcome = iota
	// OutcomeDegraded means only the looser title-only extraction produced
	// results. Lower confidence, but still usable.
	OutcomeDegraded
	// OutcomeFailed means neither extraction path yielded data.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeDegraded:
		return "degraded"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the product of one search run. Summary is always populated,
// even on failure, so the caller can hand a speakable sentence upstream.
type Result struct {
	Outcome Outcome
	Hotels  []schemas.HotelResult
	Summary string
}

const (
	summaryHeader = "Here are the top hotels I found:"
	failedSummary = "Search completed. Please check the browser view for results."
)

// formatHotels renders the structured result list, 1-indexed, in document
// order. Rating is omitted when the card did not expose one.
func formatHotels(hotels []schemas.HotelResult) string {
	var b strings.Builder
	b.WriteString(summaryHeader)
	for i, h := range hotels {
		b.WriteByte('\n')
		if h.Rating != "" {
			fmt.Fprintf(&b, "%d. %s (%s) - %s", i+1, h.Name, h.Rating, h.Price)
		} else {
			fmt.Fprintf(&b, "%d. %s - %s", i+1, h.Name, h.Price)
		}
	}
	return b.String()
}

// formatTitles renders the degraded, titles-only summary.
func formatTitles(titles []string) string {
	var b strings.Builder
	b.WriteString(summaryHeader)
	for i, t := range titles {
		fmt.Fprintf(&b, "\n%d. %s", i+1, t)
	}
	return b.String()
}
