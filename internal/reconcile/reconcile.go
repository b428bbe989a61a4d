// Package reconcile joins mint logs, current product records and off-chain metadata
// into the deduplicated, newest-first product list shown on the dashboard.
package reconcile

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"producer-dashboard/internal/chain"
	"producer-dashboard/internal/models"
)

// Placeholder display values for rows whose metadata is missing a field
const (
	PlaceholderName  = "Unnamed product"
	PlaceholderSKU   = "N/A"
	PlaceholderBatch = "N/A"
)

// Entry is one mint log with whatever could be fetched for it.
// Record is nil when the on-chain read failed, Metadata is empty when the gateway fetch failed.
type Entry struct {
	Log      chain.MintLog
	Record   *chain.ProductRecord
	Metadata map[string]any
}

type row struct {
	summary models.ProductSummary
	tokenID *big.Int
}

// Reconcile builds one summary per unitshash. When the same hash appears more than once
// the entry processed last wins. The result is ordered by minted time, newest first,
// with token id descending as the tie-break.
func Reconcile(entries []Entry) []models.ProductSummary {
	rows := make([]row, 0, len(entries))
	index := make(map[string]int, len(entries))

	for _, e := range entries {
		r := buildRow(e)
		if i, ok := index[r.summary.UnitsHash]; ok {
			rows[i] = r
			continue
		}
		index[r.summary.UnitsHash] = len(rows)
		rows = append(rows, r)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].summary.MintedAt != rows[j].summary.MintedAt {
			return rows[i].summary.MintedAt > rows[j].summary.MintedAt
		}
		return compareTokenIDs(rows[i].tokenID, rows[j].tokenID) > 0
	})

	out := make([]models.ProductSummary, len(rows))
	for i, r := range rows {
		out[i] = r.summary
	}
	return out
}

func buildRow(e Entry) row {
	tokenID := e.Log.TokenID
	unitsHash := e.Log.UnitsHash
	cid := e.Log.CID
	var mintedAt int64

	if e.Record != nil {
		if e.Record.TokenID != nil {
			tokenID = e.Record.TokenID
		}
		unitsHash = e.Record.UnitsHash
		if e.Record.CID != "" {
			cid = e.Record.CID
		}
		mintedAt = e.Record.MintedAt
	}

	return row{
		tokenID: tokenID,
		summary: models.ProductSummary{
			TokenID:   tokenString(tokenID),
			Name:      field(e.Metadata, "name", "Name", PlaceholderName),
			SKU:       field(e.Metadata, "sku", "SKU", PlaceholderSKU),
			Batch:     field(e.Metadata, "batch", "Batch", PlaceholderBatch),
			Status:    Status(e.Record),
			MintedAt:  mintedAt,
			UnitsHash: unitsHash.Hex(),
			CID:       cid,
		},
	}
}

// Status applies the priority revoked > verified > minted
func Status(record *chain.ProductRecord) models.ProductStatus {
	switch {
	case record == nil:
		return models.ProductStatusMinted
	case record.Revoked:
		return models.ProductStatusRevoked
	case record.Verified:
		return models.ProductStatusVerified
	default:
		return models.ProductStatusMinted
	}
}

// field looks up key at the top level, then in an ERC-721 style attributes list
// under traitType, and falls back to placeholder.
func field(meta map[string]any, key, traitType, placeholder string) string {
	if v, ok := meta[key]; ok {
		if s := display(v); s != "" {
			return s
		}
	}

	attrs, _ := meta["attributes"].([]any)
	for _, a := range attrs {
		attr, ok := a.(map[string]any)
		if !ok {
			continue
		}
		name, _ := attr["trait_type"].(string)
		if !strings.EqualFold(name, traitType) {
			continue
		}
		if s := display(attr["value"]); s != "" {
			return s
		}
	}

	return placeholder
}

func display(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case float64:
		return fmt.Sprintf("%g", val)
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

func tokenString(id *big.Int) string {
	if id == nil {
		return "0"
	}
	return id.String()
}

func compareTokenIDs(a, b *big.Int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return a.Cmp(b)
	}
}
