// Package zonefile renders and parses BIND master zone files (RFC 1035).
package zonefile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/miekg/dns"

	"github.com/dnsmgr/dnsmgr/internal/core/domain"
)

// Render produces the canonical master-file text for a zone. The output is
// deterministic for a fixed input: NS records come first, all remaining types
// after, each group ordered by (lowercased name, type, content). Every
// rendered record line is cross-checked against the RR grammar so malformed
// content is caught before named-checkzone ever runs.
func Render(zone *domain.Zone, serial uint32, records []domain.Record) (string, error) {
	origin := strings.TrimSuffix(zone.Name, ".") + "."

	var b strings.Builder
	fmt.Fprintf(&b, "$ORIGIN %s\n", origin)
	fmt.Fprintf(&b, "$TTL %d\n", zone.TTL)

	fmt.Fprintf(&b, "@\t%d\tIN\tSOA\t%s %s (\n", zone.TTL, fqdn(zone.SOANS), soaMail(zone.SOAMail))
	fmt.Fprintf(&b, "\t\t%d\t; serial\n", serial)
	fmt.Fprintf(&b, "\t\t%d\t; refresh\n", zone.SOARefresh)
	fmt.Fprintf(&b, "\t\t%d\t; retry\n", zone.SOARetry)
	fmt.Fprintf(&b, "\t\t%d\t; expire\n", zone.SOAExpire)
	fmt.Fprintf(&b, "\t\t%d )\t; minimum\n", zone.SOAMinimum)

	ordered := make([]domain.Record, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, z := ordered[i], ordered[j]
		aNS, zNS := a.Type == domain.TypeNS, z.Type == domain.TypeNS
		if aNS != zNS {
			return aNS
		}
		an, zn := strings.ToLower(a.Name), strings.ToLower(z.Name)
		if an != zn {
			return an < zn
		}
		if a.Type != z.Type {
			return a.Type < z.Type
		}
		return a.Content < z.Content
	})

	for _, rec := range ordered {
		line, err := renderRecord(zone, rec)
		if err != nil {
			return "", err
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	return b.String(), nil
}

func renderRecord(zone *domain.Zone, rec domain.Record) (string, error) {
	ttl := rec.TTL
	if ttl <= 0 {
		ttl = zone.TTL
	}
	content := strings.TrimSpace(rec.Content)
	if rec.Type == domain.TypeTXT {
		content = quoteTXT(content)
	}

	// Parse the fully-qualified form to reject anything named-checkzone would
	// choke on with a clearer message.
	check := fmt.Sprintf("%s %d IN %s %s", rec.FQDN(zone.Name), ttl, rec.Type, content)
	if _, err := dns.NewRR(check); err != nil {
		return "", fmt.Errorf("record %s %s %q: %w", rec.Name, rec.Type, rec.Content, err)
	}

	return fmt.Sprintf("%s\t%d\tIN\t%s\t%s", rec.Name, ttl, rec.Type, content), nil
}

// quoteTXT splits unquoted TXT content into quoted character strings of at
// most 255 bytes. DKIM keys routinely exceed a single string.
func quoteTXT(content string) string {
	if strings.HasPrefix(content, `"`) {
		return content
	}
	escaped := strings.ReplaceAll(content, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)

	var chunks []string
	for len(escaped) > 255 {
		chunks = append(chunks, `"`+escaped[:255]+`"`)
		escaped = escaped[255:]
	}
	chunks = append(chunks, `"`+escaped+`"`)
	return strings.Join(chunks, " ")
}

func fqdn(name string) string {
	return strings.TrimSuffix(name, ".") + "."
}

// soaMail renders the RNAME field. An email-form value keeps its mailbox dot
// convention: "hostmaster@example.com" becomes "hostmaster.example.com.".
func soaMail(mail string) string {
	if at := strings.IndexByte(mail, '@'); at >= 0 {
		mail = strings.ReplaceAll(mail[:at], ".", `\.`) + "." + mail[at+1:]
	}
	return fqdn(mail)
}
