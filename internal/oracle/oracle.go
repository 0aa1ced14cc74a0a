package oracle

import (
	"context"
	"time"
)

// Response is one oracle decision: free text plus the wall-clock timestamp
// of when it was produced.
type Response struct {
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// Oracle is the external decision-making service consulted each round. It
// is opaque beyond this contract: text in, text out, possibly slow,
// possibly failing.
type Oracle interface {
	Decide(ctx context.Context, prompt string) (*Response, error)
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}
