// Package risk implements the request-risk gate: a tiered per-IP rate
// limiter and a weighted header/ASN scorer, both reference heuristics
// layered in front of the challenge routes.
package risk

import (
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/itchyny/gojq"
	"github.com/yl2chen/cidranger"
)

// ASNEntry is one row of the reference ASN base-score table: a CIDR block
// attributed to an ASN, with a base risk score in [0, 1].
type ASNEntry struct {
	Network   net.IPNet
	ASN       string
	BaseScore float64
}

// asnRangerEntry adapts an ASNEntry to cidranger.RangerEntry.
type asnRangerEntry struct {
	entry ASNEntry
}

func (e asnRangerEntry) Network() net.IPNet { return e.entry.Network }

// ASNTable answers "what base score, if any, does this IP's ASN carry" by
// longest-prefix match over a loaded CIDR table, mirroring the teacher's
// Network.FetchPrefixes + cidranger.Ranger pairing used for policy network
// matching, generalized from a boolean membership test to a scored lookup.
type ASNTable struct {
	ranger cidranger.Ranger
}

// asnTableDocument is the on-disk shape: a flat list of
// {asn, prefix, baseScore} rows, and/or a jq path into the same JSON
// document (the teacher's JqPath sourcing mode). When both are present,
// the rows selected by the jq path are appended to the flat rows.
type asnTableDocument struct {
	Rows   []asnTableRow `json:"rows,omitempty"`
	JqPath string        `json:"jqPath,omitempty"`
}

type asnTableRow struct {
	ASN       string  `json:"asn"`
	Prefix    string  `json:"prefix"`
	BaseScore float64 `json:"baseScore"`
}

// LoadASNTable reads path and builds an ASNTable. When the document uses
// the jqPath sourcing mode, the query is run over the raw JSON and every
// result must be an object whose "asn", "prefix" and "baseScore" fields
// fill one row; a non-object result is an error.
func LoadASNTable(path string) (*ASNTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("risk: reading asn table %s: %w", path, err)
	}

	var doc asnTableDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("risk: parsing asn table %s: %w", path, err)
	}

	rows := doc.Rows
	if doc.JqPath != "" {
		extracted, err := extractRowsViaJq(data, doc.JqPath)
		if err != nil {
			return nil, err
		}
		rows = append(rows, extracted...)
	}

	ranger := cidranger.NewPCTrieRanger()
	for _, row := range rows {
		_, ipNet, err := net.ParseCIDR(row.Prefix)
		if err != nil {
			return nil, fmt.Errorf("risk: asn table row %q: %w", row.Prefix, err)
		}
		if err := ranger.Insert(asnRangerEntry{entry: ASNEntry{
			Network:   *ipNet,
			ASN:       row.ASN,
			BaseScore: row.BaseScore,
		}}); err != nil {
			return nil, fmt.Errorf("risk: inserting asn table row %q: %w", row.Prefix, err)
		}
	}
	return &ASNTable{ranger: ranger}, nil
}

func extractRowsViaJq(data []byte, path string) ([]asnTableRow, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	query, err := gojq.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("risk: parsing jq path %q: %w", path, err)
	}
	iter := query.Run(raw)
	var rows []asnTableRow
	for {
		v, more := iter.Next()
		if !more {
			break
		}
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("risk: jq path %q produced a non-object value", path)
		}
		row := asnTableRow{}
		if s, ok := m["asn"].(string); ok {
			row.ASN = s
		}
		if s, ok := m["prefix"].(string); ok {
			row.Prefix = s
		}
		if f, ok := m["baseScore"].(float64); ok {
			row.BaseScore = f
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Lookup returns the ASN entry whose network contains ip, if any.
func (t *ASNTable) Lookup(ip net.IP) (ASNEntry, bool, error) {
	if t == nil || t.ranger == nil {
		return ASNEntry{}, false, nil
	}
	networks, err := t.ranger.ContainingNetworks(ip)
	if err != nil {
		return ASNEntry{}, false, err
	}
	if len(networks) == 0 {
		return ASNEntry{}, false, nil
	}
	// Longest-prefix match: cidranger returns ancestors root-to-leaf, so
	// the last entry is the most specific network.
	best := networks[len(networks)-1].(asnRangerEntry)
	return best.entry, true, nil
}
