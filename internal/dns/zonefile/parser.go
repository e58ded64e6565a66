package zonefile

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dnsmgr/dnsmgr/internal/core/domain"
)

// SOAData holds the SOA fields found during parsing.
type SOAData struct {
	NS      string
	Mail    string
	Serial  uint32
	Refresh int
	Retry   int
	Expire  int
	Minimum int
}

// ParseResult is the outcome of parsing one master file. Record names are
// relative to the origin ("@" for the apex), matching how records are stored.
type ParseResult struct {
	Origin     string // with trailing dot
	DefaultTTL int
	SOA        *SOAData
	Records    []domain.Record
}

// Parser reads BIND master zone files for import into the record store.
type Parser struct {
	Origin     string
	DefaultTTL int
}

// NewParser creates a Parser. The origin is used to relativize owner names
// when the file itself carries no $ORIGIN directive.
func NewParser(origin string) *Parser {
	return &Parser{Origin: fqdn(origin), DefaultTTL: 3600}
}

var importableTypes = map[domain.RecordType]bool{
	domain.TypeA: true, domain.TypeAAAA: true, domain.TypeCNAME: true,
	domain.TypeMX: true, domain.TypeNS: true, domain.TypePTR: true,
	domain.TypeTXT: true, domain.TypeSRV: true, domain.TypeNAPTR: true,
	domain.TypeCAA: true, domain.TypeLOC: true, domain.TypeURI: true,
}

// Parse reads a master zone file. Multi-line parenthesised RRs are folded,
// comments stripped, $ORIGIN/$TTL honored. The SOA is extracted into the
// result instead of the record list; unsupported RR types are an error so an
// import never drops data silently.
func (p *Parser) Parse(r io.Reader) (*ParseResult, error) {
	scanner := bufio.NewScanner(r)
	// 1MB buffer for long TXT/DKIM records
	buf := make([]byte, 1024*1024)
	scanner.Buffer(buf, 1024*1024)

	res := &ParseResult{Origin: p.Origin, DefaultTTL: p.DefaultTTL}

	var lastName string
	var inParen bool
	var parenLines []string
	var firstLineLeadingWS bool

	for scanner.Scan() {
		line := stripComment(scanner.Text())

		if !inParen {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}
			firstLineLeadingWS = line[0] == ' ' || line[0] == '\t'
			if strings.Contains(line, "(") {
				inParen = true
				parenLines = append(parenLines, strings.Replace(line, "(", " ", 1))
				if !strings.Contains(line, ")") {
					continue
				}
			}
		} else {
			parenLines = append(parenLines, line)
			if !strings.Contains(line, ")") {
				continue
			}
			inParen = false
		}

		var fullLine string
		if len(parenLines) > 0 {
			fullLine = strings.ReplaceAll(strings.Join(parenLines, " "), ")", " ")
			parenLines = nil
		} else {
			fullLine = line
		}

		trimmedFull := strings.TrimSpace(fullLine)
		if trimmedFull == "" {
			continue
		}

		if strings.HasPrefix(trimmedFull, "$") {
			parts := strings.Fields(trimmedFull)
			if len(parts) < 2 {
				continue
			}
			switch strings.ToUpper(parts[0]) {
			case "$ORIGIN":
				res.Origin = fqdn(parts[1])
			case "$TTL":
				if ttl, err := strconv.Atoi(parts[1]); err == nil {
					res.DefaultTTL = ttl
				}
			}
			continue
		}

		fields := strings.Fields(trimmedFull)
		var name string
		if firstLineLeadingWS {
			name = lastName
		} else {
			name = p.relativize(fields[0], res.Origin)
			fields = fields[1:]
			lastName = name
		}

		ttl := res.DefaultTTL
		var rType domain.RecordType
		var dataParts []string
		for i := 0; i < len(fields); i++ {
			f := fields[i]
			upper := strings.ToUpper(f)
			if val, err := strconv.Atoi(f); err == nil {
				ttl = val
				continue
			}
			if upper == "IN" || upper == "CS" || upper == "CH" || upper == "HS" {
				continue
			}
			rType = domain.RecordType(upper)
			dataParts = fields[i+1:]
			break
		}
		if rType == "" || name == "" {
			continue
		}

		if rType == "SOA" {
			soa, err := parseSOA(dataParts)
			if err != nil {
				return nil, err
			}
			res.SOA = soa
			continue
		}
		if !importableTypes[rType] {
			return nil, fmt.Errorf("unsupported record type %s for %s", rType, name)
		}

		res.Records = append(res.Records, domain.Record{
			Name:    name,
			Type:    rType,
			Content: strings.Join(dataParts, " "),
			TTL:     ttl,
		})
	}

	return res, scanner.Err()
}

func parseSOA(fields []string) (*SOAData, error) {
	if len(fields) < 7 {
		return nil, fmt.Errorf("SOA record has %d fields, want 7", len(fields))
	}
	nums := make([]int, 5)
	for i := 0; i < 5; i++ {
		n, err := strconv.Atoi(fields[2+i])
		if err != nil {
			return nil, fmt.Errorf("SOA field %q: %w", fields[2+i], err)
		}
		nums[i] = n
	}
	return &SOAData{
		NS:      fields[0],
		Mail:    fields[1],
		Serial:  uint32(nums[0]), // #nosec G115
		Refresh: nums[1],
		Retry:   nums[2],
		Expire:  nums[3],
		Minimum: nums[4],
	}, nil
}

// relativize maps an owner name from the file to the stored form: "@" or a
// label relative to the origin. Names outside the origin stay absolute.
func (p *Parser) relativize(name, origin string) string {
	if name == "@" {
		return "@"
	}
	if !strings.HasSuffix(name, ".") {
		return name
	}
	lower := strings.ToLower(name)
	lowerOrigin := strings.ToLower(origin)
	if lower == lowerOrigin {
		return "@"
	}
	if strings.HasSuffix(lower, "."+lowerOrigin) {
		return name[:len(name)-len(origin)-1]
	}
	return name
}

// stripComment removes a trailing ';' comment, respecting quoted strings so
// TXT content like "v=spf1; ..." survives.
func stripComment(line string) string {
	inQuotes := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			if i == 0 || line[i-1] != '\\' {
				inQuotes = !inQuotes
			}
		case ';':
			if !inQuotes {
				return line[:i]
			}
		}
	}
	return line
}
