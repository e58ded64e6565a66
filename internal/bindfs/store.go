// Package bindfs manages the on-disk BIND artifacts of one server: zone
// files, per-zone config fragments and the aggregated zones.conf include
// list. It is shared by the local distribution target and the remote agent.
package bindfs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dnsmgr/dnsmgr/internal/core/domain"
)

// Store describes the file layout of one name server.
type Store struct {
	DataDir   string // zone files: <DataDir>/db.<safeZoneName>
	ConfDir   string // fragments: <ConfDir>/<safeZoneName>.conf
	ZonesConf string // aggregate include file regenerated from the fragments
}

// ZoneFilePath returns the final path of a zone's file.
func (s *Store) ZoneFilePath(zoneName string) string {
	return filepath.Join(s.DataDir, "db."+domain.SafeZoneName(zoneName))
}

// ConfFragmentPath returns the path of a zone's config fragment.
func (s *Store) ConfFragmentPath(zoneName string) string {
	return filepath.Join(s.ConfDir, domain.SafeZoneName(zoneName)+".conf")
}

// WriteTemp writes data to a temporary file next to the zone's final
// location, so a later Install is an atomic same-filesystem rename.
func (s *Store) WriteTemp(zoneName string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(s.DataDir, "db."+domain.SafeZoneName(zoneName)+".tmp.*")
	if err != nil {
		return "", fmt.Errorf("create temp zone file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write temp zone file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close temp zone file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("chmod temp zone file: %w", err)
	}
	return tmp.Name(), nil
}

// Install atomically moves a validated temp file into the zone's final place.
func (s *Store) Install(tmpPath, zoneName string) error {
	if err := os.Rename(tmpPath, s.ZoneFilePath(zoneName)); err != nil {
		return fmt.Errorf("install zone file for %s: %w", zoneName, err)
	}
	return nil
}

// Discard removes a temp file after a failed validation.
func (s *Store) Discard(tmpPath string) {
	_ = os.Remove(tmpPath)
}

// WriteConfFragment stores a zone's config include fragment.
func (s *Store) WriteConfFragment(zoneName string, data []byte) error {
	if err := os.WriteFile(s.ConfFragmentPath(zoneName), data, 0o644); err != nil {
		return fmt.Errorf("write conf fragment for %s: %w", zoneName, err)
	}
	return nil
}

// RegenerateZonesConf rewrites the aggregate include file as one `include`
// directive per fragment present in ConfDir, sorted for stable diffs.
func (s *Store) RegenerateZonesConf() error {
	fragments, err := filepath.Glob(filepath.Join(s.ConfDir, "*.conf"))
	if err != nil {
		return fmt.Errorf("glob conf fragments: %w", err)
	}

	var b strings.Builder
	sort.Strings(fragments)
	for _, frag := range fragments {
		if frag == s.ZonesConf {
			continue
		}
		fmt.Fprintf(&b, "include \"%s\";\n", frag)
	}
	if err := os.WriteFile(s.ZonesConf, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", s.ZonesConf, err)
	}
	return nil
}

// PruneOrphans removes zone files and fragments whose zone is no longer in
// validZones, then regenerates zones.conf. An empty validZones is a no-op:
// pruning everything because the caller sent nothing would be destructive.
func (s *Store) PruneOrphans(validZones []string) ([]string, error) {
	if len(validZones) == 0 {
		return nil, nil
	}
	valid := make(map[string]bool, len(validZones))
	for _, name := range validZones {
		valid[domain.SafeZoneName(name)] = true
	}

	var removed []string

	zoneFiles, err := filepath.Glob(filepath.Join(s.DataDir, "db.*"))
	if err != nil {
		return nil, fmt.Errorf("glob zone files: %w", err)
	}
	for _, file := range zoneFiles {
		base := strings.TrimPrefix(filepath.Base(file), "db.")
		if strings.Contains(base, ".tmp.") || valid[base] {
			continue
		}
		if err := os.Remove(file); err != nil {
			return removed, fmt.Errorf("remove orphaned zone file %s: %w", file, err)
		}
		removed = append(removed, file)
	}

	fragments, err := filepath.Glob(filepath.Join(s.ConfDir, "*.conf"))
	if err != nil {
		return removed, fmt.Errorf("glob conf fragments: %w", err)
	}
	for _, frag := range fragments {
		if frag == s.ZonesConf {
			continue
		}
		base := strings.TrimSuffix(filepath.Base(frag), ".conf")
		if valid[base] {
			continue
		}
		if err := os.Remove(frag); err != nil {
			return removed, fmt.Errorf("remove orphaned fragment %s: %w", frag, err)
		}
		removed = append(removed, frag)
	}

	if len(removed) > 0 {
		if err := s.RegenerateZonesConf(); err != nil {
			return removed, err
		}
	}
	return removed, nil
}
