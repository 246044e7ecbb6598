package model

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
)

// Manifest is an ordered collection of model metadata, as read from
// the on-disk or embedded manifest.json (spec.md §6): a single object
// with a "models" array. Order is preserved for round-tripping.
type Manifest struct {
	Models []Metadata `json:"models"`
}

// ParseManifest decodes a manifest.json document. Duplicate model IDs
// are dropped: the first occurrence wins, later ones are logged and
// skipped, matching spec.md §3's "duplicate IDs are rejected at load".
func ParseManifest(r io.Reader) (Manifest, error) {
	var raw Manifest
	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return Manifest{}, fmt.Errorf("model: decode manifest: %w", err)
	}

	seen := make(map[string]bool, len(raw.Models))
	out := Manifest{Models: make([]Metadata, 0, len(raw.Models))}
	for _, m := range raw.Models {
		if m.ModelID == "" {
			slog.Warn("model: skipping manifest entry with empty modelId")
			continue
		}
		if seen[m.ModelID] {
			slog.Warn("model: skipping duplicate manifest entry", slog.String("modelId", m.ModelID))
			continue
		}
		seen[m.ModelID] = true
		out.Models = append(out.Models, m)
	}
	return out, nil
}

// Encode serializes the manifest back to JSON, preserving model order.
func (m Manifest) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("model: encode manifest: %w", err)
	}
	return nil
}
