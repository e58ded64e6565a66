// Package domain contains the core business entities for dnsmgr.
package domain

import (
	"strings"
	"time"
)

// ZoneType distinguishes forward zones from reverse (in-addr.arpa/ip6.arpa) zones.
type ZoneType string

const (
	// ZoneForward is a regular forward-lookup zone.
	ZoneForward ZoneType = "forward"
	// ZoneReverse is a reverse-lookup zone.
	ZoneReverse ZoneType = "reverse"
)

// RecordType represents the type of a DNS record (e.g., A, AAAA, MX).
type RecordType string

const (
	// TypeA represents an IPv4 address record.
	TypeA RecordType = "A"
	// TypeAAAA represents an IPv6 address record.
	TypeAAAA RecordType = "AAAA"
	// TypeCNAME represents a canonical name record.
	TypeCNAME RecordType = "CNAME"
	// TypeMX represents a mail exchange record.
	TypeMX RecordType = "MX"
	// TypeNS represents a name server record.
	TypeNS RecordType = "NS"
	// TypePTR represents a pointer record.
	TypePTR RecordType = "PTR"
	// TypeTXT represents a text record. DKIM keys are stored as TXT.
	TypeTXT RecordType = "TXT"
	// TypeSRV represents a service locator record (RFC 2782).
	TypeSRV RecordType = "SRV"
	// TypeNAPTR represents a naming authority pointer record.
	TypeNAPTR RecordType = "NAPTR"
	// TypeCAA represents a certification authority authorization record.
	TypeCAA RecordType = "CAA"
	// TypeLOC represents a geographic location record.
	TypeLOC RecordType = "LOC"
	// TypeURI represents a uniform resource identifier record.
	TypeURI RecordType = "URI"
)

// Zone represents a managed DNS zone. The zone file itself is never stored;
// it is synthesized on demand from the zone, its records and its servers.
type Zone struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"` // e.g. example.com (no trailing dot)
	Type         ZoneType `json:"type"`
	TTL          int      `json:"ttl"` // default TTL in seconds
	PrefixLength *int     `json:"prefix_length,omitempty"`
	Description  string   `json:"description"`

	SOANS      string `json:"soa_ns"`
	SOAMail    string `json:"soa_mail"`
	SOASerial  uint32 `json:"soa_serial"` // YYYYMMDDnn
	SOARefresh int    `json:"soa_refresh"`
	SOARetry   int    `json:"soa_retry"`
	SOAExpire  int    `json:"soa_expire"`
	SOAMinimum int    `json:"soa_minimum"`

	AllowDynDNS bool `json:"allow_dyndns"`
	Changed     bool `json:"changed"` // pending publication

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Record represents a DNS resource record within a zone. ServerID is set only
// on NS/glue records generated from the zone's server assignment; those rows
// are owned by the reconciler and refused for direct user edits.
type Record struct {
	ID        string     `json:"id"`
	ZoneID    string     `json:"zone_id"`
	Name      string     `json:"name"` // relative label or "@"
	Type      RecordType `json:"type"`
	Content   string     `json:"content"`
	TTL       int        `json:"ttl"`
	ServerID  *string    `json:"server_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// FQDN returns the record's fully qualified name (with trailing dot) inside zone.
func (r Record) FQDN(zone string) string {
	zone = strings.TrimSuffix(zone, ".") + "."
	if r.Name == "@" || r.Name == "" {
		return zone
	}
	if strings.HasSuffix(r.Name, ".") {
		return r.Name
	}
	return r.Name + "." + zone
}

// Server represents a managed BIND name server.
type Server struct {
	ID       string `json:"id"`
	Name     string `json:"name"` // FQDN the server answers as
	DNSIP4   string `json:"dns_ip4"`
	DNSIP6   string `json:"dns_ip6"`
	APIIP    string `json:"api_ip"`
	APIToken string `json:"-"` // bearer credential for the agent
	IsLocal  bool   `json:"is_local"`
	Active   bool   `json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ZoneServer assigns a server to a zone. Exactly one assignment per zone
// carries IsMaster; the master determines the SOA NS host of forward zones.
type ZoneServer struct {
	ZoneID   string `json:"zone_id"`
	ServerID string `json:"server_id"`
	IsMaster bool   `json:"is_master"`
}

// Diagnostic is one entry of the append-only status history written by the
// monitoring sweep.
type Diagnostic struct {
	ID         string    `json:"id"`
	TargetType string    `json:"target_type"` // "zone" or "server"
	TargetID   string    `json:"target_id"`
	CheckType  string    `json:"check_type"` // "zone_file", "conf", "status"
	ServerID   string    `json:"server_id"`
	Status     Status    `json:"status"`
	Output     string    `json:"output"`
	CreatedAt  time.Time `json:"created_at"`
}

// AgentLoadAverage is the 1/5/15 minute load triple reported by an agent.
type AgentLoadAverage struct {
	Load1  float64 `json:"1min"`
	Load5  float64 `json:"5min"`
	Load15 float64 `json:"15min"`
}

// AgentBindStatus groups the BIND process sub-checks of an agent health report.
type AgentBindStatus struct {
	NamedRunning        bool   `json:"named_running"`
	RndcStatus          string `json:"rndc_status"`
	DNSQueryLocalhostOK bool   `json:"dns_query_localhost_ok"`
}

// AgentStatus is the health report returned by a server's agent.
type AgentStatus struct {
	Status        string           `json:"status"`
	Hostname      string           `json:"hostname"`
	UptimeSeconds float64          `json:"uptime_seconds"`
	LoadAverage   AgentLoadAverage `json:"load_average"`
	AgentVersion  string           `json:"agent_version"`
	Bind          AgentBindStatus  `json:"bind"`
}

// CheckResult carries a classified validation outcome plus the raw tool output,
// which is always surfaced to the caller.
type CheckResult struct {
	Status Status `json:"status"`
	Output string `json:"output"`
}

// DistributionResult aggregates a fan-out to several servers. Errors and
// Warnings are per-server messages prefixed with the server name.
type DistributionResult struct {
	Status   Status   `json:"status"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	Output   string   `json:"output"`
}

// PublishReport is the outcome of one publish run.
type PublishReport struct {
	Zones    int      `json:"zones"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// OK reports whether the run completed without a single error.
func (r *PublishReport) OK() bool { return len(r.Errors) == 0 }
