package risk

import (
	"net"
	"os"
	"path/filepath"
	"testing"
)

func writeTableFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "asn-table.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func TestLoadASNTableFlatRows(t *testing.T) {
	path := writeTableFile(t, `{
		"rows": [
			{"asn": "AS64500", "prefix": "203.0.113.0/24", "baseScore": 0.4},
			{"asn": "AS64501", "prefix": "198.51.100.0/24", "baseScore": 0.1}
		]
	}`)

	table, err := LoadASNTable(path)
	if err != nil {
		t.Fatalf("LoadASNTable: %v", err)
	}

	entry, ok, err := table.Lookup(net.ParseIP("203.0.113.7"))
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok || entry.ASN != "AS64500" || entry.BaseScore != 0.4 {
		t.Fatalf("got %+v, ok=%v, want AS64500/0.4", entry, ok)
	}
}

func TestLoadASNTableNoMatch(t *testing.T) {
	path := writeTableFile(t, `{"rows": [{"asn": "AS64500", "prefix": "203.0.113.0/24", "baseScore": 0.4}]}`)
	table, err := LoadASNTable(path)
	if err != nil {
		t.Fatalf("LoadASNTable: %v", err)
	}

	_, ok, err := table.Lookup(net.ParseIP("192.0.2.1"))
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ok {
		t.Fatalf("expected no match for an address outside every loaded prefix")
	}
}

func TestLoadASNTableLongestPrefixMatch(t *testing.T) {
	path := writeTableFile(t, `{
		"rows": [
			{"asn": "AS-BROAD", "prefix": "203.0.0.0/16", "baseScore": 0.1},
			{"asn": "AS-NARROW", "prefix": "203.0.113.0/24", "baseScore": 0.9}
		]
	}`)
	table, err := LoadASNTable(path)
	if err != nil {
		t.Fatalf("LoadASNTable: %v", err)
	}

	entry, ok, err := table.Lookup(net.ParseIP("203.0.113.42"))
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok || entry.ASN != "AS-NARROW" {
		t.Fatalf("got %+v, want the longest (most specific) matching prefix AS-NARROW", entry)
	}
}

func TestLoadASNTableJqPath(t *testing.T) {
	path := writeTableFile(t, `{
		"jqPath": ".data.entries[]",
		"data": {
			"entries": [
				{"asn": "AS64502", "prefix": "192.0.2.0/24", "baseScore": 0.2}
			]
		}
	}`)
	table, err := LoadASNTable(path)
	if err != nil {
		t.Fatalf("LoadASNTable: %v", err)
	}

	entry, ok, err := table.Lookup(net.ParseIP("192.0.2.10"))
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok || entry.ASN != "AS64502" {
		t.Fatalf("got %+v, ok=%v, want AS64502 via the jqPath sourcing mode", entry, ok)
	}
}

func TestASNTableLookupOnNilTable(t *testing.T) {
	var table *ASNTable
	_, ok, err := table.Lookup(net.ParseIP("203.0.113.1"))
	if err != nil || ok {
		t.Fatalf("got ok=%v err=%v, want a nil table to report no match without error", ok, err)
	}
}
