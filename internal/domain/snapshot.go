package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseSnapshot extracts the portfolio snapshot from a job's request
// payload. The core only understands the instrument symbols; everything
// else in the envelope is passed through to workers untouched.
//
// Expected shape (extra fields ignored):
//
//	{"portfolio": {"positions": [{"symbol": "AAPL", ...}, ...]}}
func ParseSnapshot(requestPayload json.RawMessage) (PortfolioSnapshot, error) {
	if len(requestPayload) == 0 {
		return PortfolioSnapshot{}, nil
	}
	var env struct {
		Portfolio struct {
			Positions []struct {
				Symbol string `json:"symbol"`
			} `json:"positions"`
		} `json:"portfolio"`
	}
	if err := json.Unmarshal(requestPayload, &env); err != nil {
		return PortfolioSnapshot{}, fmt.Errorf("op=snapshot.parse: %w: %v", ErrInvalidArgument, err)
	}
	seen := make(map[string]struct{}, len(env.Portfolio.Positions))
	snap := PortfolioSnapshot{}
	for _, p := range env.Portfolio.Positions {
		sym := strings.ToUpper(strings.TrimSpace(p.Symbol))
		if sym == "" {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		snap.Symbols = append(snap.Symbols, sym)
	}
	return snap, nil
}
