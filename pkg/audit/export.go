package audit

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// ExportJSON writes the trail as a JSON array and returns the SHA-256
// checksum (hex) of the exported bytes.
func (t *Trail) ExportJSON(w io.Writer) (string, error) {
	data, err := json.MarshalIndent(t.Events(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("audit: export marshal: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return "", fmt.Errorf("audit: export write: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ExportCSV writes the trail as CSV, one row per record with flattened
// data keys, and returns the SHA-256 checksum (hex) of the exported bytes.
func (t *Trail) ExportCSV(w io.Writer) (string, error) {
	h := sha256.New()
	cw := csv.NewWriter(io.MultiWriter(w, h))

	header := []string{"id", "timestamp", "type", "request_id", "previous_hash", "event_hash", "data"}
	if err := cw.Write(header); err != nil {
		return "", fmt.Errorf("audit: export header: %w", err)
	}
	for _, e := range t.Events() {
		row := []string{
			e.ID,
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			string(e.Type),
			e.RequestID,
			e.PreviousHash,
			e.EventHash,
			flatten(e.Data),
		}
		if err := cw.Write(row); err != nil {
			return "", fmt.Errorf("audit: export row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return "", fmt.Errorf("audit: export flush: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// flatten renders a data map as "k=v" pairs in key order.
func flatten(data map[string]any) string {
	if len(data) == 0 {
		return ""
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, data[k]))
	}
	return strings.Join(parts, ";")
}
