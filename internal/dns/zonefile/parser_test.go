package zonefile

import (
	"strings"
	"testing"

	"github.com/dnsmgr/dnsmgr/internal/core/domain"
)

const sampleZone = `$ORIGIN example.com.
$TTL 3600
@	3600	IN	SOA	ns1.example.com. hostmaster.example.com. (
		2025082901	; serial
		3600	; refresh
		900	; retry
		1209600	; expire
		3600 )	; minimum
@	3600	IN	NS	ns1.example.com.
www	300	IN	A	192.0.2.80
www.example.com.	300	IN	AAAA	2001:db8::80
mail	IN	MX	10 mail.example.com.
@	IN	TXT	"v=spf1 include:example.net; behave" ; trailing comment
`

func TestParseSampleZone(t *testing.T) {
	res, err := NewParser("example.com").Parse(strings.NewReader(sampleZone))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if res.Origin != "example.com." {
		t.Errorf("origin = %q", res.Origin)
	}
	if res.DefaultTTL != 3600 {
		t.Errorf("default TTL = %d", res.DefaultTTL)
	}

	if res.SOA == nil {
		t.Fatal("SOA not extracted")
	}
	if res.SOA.Serial != 2025082901 {
		t.Errorf("SOA serial = %d", res.SOA.Serial)
	}
	if res.SOA.Refresh != 3600 || res.SOA.Retry != 900 || res.SOA.Expire != 1209600 || res.SOA.Minimum != 3600 {
		t.Errorf("SOA timers = %+v", res.SOA)
	}

	byKey := make(map[string]domain.Record)
	for _, rec := range res.Records {
		byKey[rec.Name+"/"+string(rec.Type)] = rec
	}

	if rec, ok := byKey["www/A"]; !ok || rec.Content != "192.0.2.80" || rec.TTL != 300 {
		t.Errorf("www A = %+v", rec)
	}
	// Absolute owner inside the origin is relativized.
	if rec, ok := byKey["www/AAAA"]; !ok || rec.Content != "2001:db8::80" {
		t.Errorf("www AAAA = %+v", rec)
	}
	if rec, ok := byKey["mail/MX"]; !ok || rec.Content != "10 mail.example.com." || rec.TTL != 3600 {
		t.Errorf("mail MX = %+v", rec)
	}
	// Semicolon inside a quoted string is content, the one outside is a comment.
	if rec, ok := byKey["@/TXT"]; !ok || rec.Content != `"v=spf1 include:example.net; behave"` {
		t.Errorf("TXT = %+v", rec)
	}
	if rec, ok := byKey["@/NS"]; !ok || rec.Content != "ns1.example.com." {
		t.Errorf("NS = %+v", rec)
	}
	// The SOA must not land in the record list.
	if _, ok := byKey["@/SOA"]; ok {
		t.Error("SOA leaked into records")
	}
}

func TestParseRejectsUnsupportedType(t *testing.T) {
	input := "@ IN DNSKEY 256 3 8 AwEAAag=\n"
	if _, err := NewParser("example.com").Parse(strings.NewReader(input)); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}

func TestParseContinuationName(t *testing.T) {
	input := "www IN A 192.0.2.1\n\tIN A 192.0.2.2\n"
	res, err := NewParser("example.com").Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("got %d records", len(res.Records))
	}
	if res.Records[1].Name != "www" {
		t.Errorf("continuation line name = %q", res.Records[1].Name)
	}
}

func TestRelativize(t *testing.T) {
	p := NewParser("example.com")
	tests := []struct {
		in   string
		want string
	}{
		{"@", "@"},
		{"www", "www"},
		{"example.com.", "@"},
		{"EXAMPLE.COM.", "@"},
		{"www.example.com.", "www"},
		{"other.net.", "other.net."},
	}
	for _, tt := range tests {
		if got := p.relativize(tt.in, "example.com."); got != tt.want {
			t.Errorf("relativize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRenderParseRoundTrip(t *testing.T) {
	zone := testZone()
	records := []domain.Record{
		{Name: "@", Type: domain.TypeNS, Content: "ns1.example.com.", TTL: 3600},
		{Name: "www", Type: domain.TypeA, Content: "192.0.2.80", TTL: 300},
		{Name: "@", Type: domain.TypeMX, Content: "10 mail.example.com.", TTL: 3600},
	}
	text, err := Render(zone, 42, records)
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}

	res, err := NewParser(zone.Name).Parse(strings.NewReader(text))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if res.SOA == nil || res.SOA.Serial != 42 {
		t.Fatalf("SOA = %+v", res.SOA)
	}
	if len(res.Records) != len(records) {
		t.Fatalf("got %d records, want %d", len(res.Records), len(records))
	}
}
