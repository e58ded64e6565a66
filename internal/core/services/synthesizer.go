package services

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dnsmgr/dnsmgr/internal/core/domain"
	"github.com/dnsmgr/dnsmgr/internal/dns/zonefile"
)

// Purpose tags a synthesis call. The rendered text is identical either way;
// only publish runs persist the advanced serial afterwards.
type Purpose string

const (
	// PurposeValidate renders for a scratch-only validation pass.
	PurposeValidate Purpose = "validate"
	// PurposePublish renders for real distribution.
	PurposePublish Purpose = "publish"
)

// Synthesizer turns a zone's relational rows into master-file text plus the
// next SOA serial. It performs no I/O.
type Synthesizer struct {
	now func() time.Time
}

// NewSynthesizer creates a Synthesizer using the wall clock.
func NewSynthesizer() *Synthesizer {
	return &Synthesizer{now: time.Now}
}

// NextSerial advances a YYYYMMDDnn serial: a serial dated before today resets
// to <today>01, a serial already dated today increments by one. The result is
// strictly greater than the input for any input in date format.
func (s *Synthesizer) NextSerial(current uint32) uint32 {
	today, _ := strconv.ParseUint(s.now().Format("20060102"), 10, 64)
	if uint64(current)/100 < today {
		return uint32(today*100 + 1) // #nosec G115 -- YYYYMMDDnn fits in uint32 until 2042
	}
	return current + 1
}

// Synthesize renders the zone file and computes the serial it carries.
func (s *Synthesizer) Synthesize(zone *domain.Zone, records []domain.Record, purpose Purpose) (string, uint32, error) {
	serial := s.NextSerial(zone.SOASerial)
	text, err := zonefile.Render(zone, serial, records)
	if err != nil {
		return "", 0, fmt.Errorf("synthesize zone %s: %w", zone.Name, err)
	}
	return text, serial, nil
}
