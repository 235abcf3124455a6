package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

// SnapshotVersion is bumped whenever the on-disk layout changes in a way
// old readers cannot handle.
const SnapshotVersion = 1

// Snapshot is the on-disk form of a Schema Index together with the
// precomputed embedding vectors for every field and example. It lets the
// server start without calling the embedding service for the whole
// catalogue on every boot.
type Snapshot struct {
	Version         int         `json:"version"`
	BuiltAt         time.Time   `json:"builtAt"`
	EmbeddingModel  string      `json:"embeddingModel"`
	EmbeddingDim    int         `json:"embeddingDim"`
	Fields          []Field     `json:"fields"`
	Examples        []Example   `json:"examples"`
	FieldVectors    [][]float32 `json:"fieldVectors"`
	ExampleVectors  [][]float32 `json:"exampleVectors"`
	CatalogueDigest string      `json:"catalogueDigest"`
	Checksum        string      `json:"checksum"`
}

// computeChecksum hashes everything except the Checksum field itself.
func (s *Snapshot) computeChecksum() (string, error) {
	clone := *s
	clone.Checksum = ""
	data, err := json.Marshal(&clone)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Seal recomputes and stores the checksum. Call before saving.
func (s *Snapshot) Seal() error {
	sum, err := s.computeChecksum()
	if err != nil {
		return fmt.Errorf("failed to compute snapshot checksum: %w", err)
	}
	s.Checksum = sum
	return nil
}

// Verify recomputes the checksum and compares it against the stored one.
func (s *Snapshot) Verify() error {
	if s.Version != SnapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d (want %d)", s.Version, SnapshotVersion)
	}
	sum, err := s.computeChecksum()
	if err != nil {
		return err
	}
	if sum != s.Checksum {
		return fmt.Errorf("snapshot checksum mismatch: stored %s, computed %s", s.Checksum, sum)
	}
	if len(s.FieldVectors) != len(s.Fields) {
		return fmt.Errorf("snapshot has %d fields but %d field vectors", len(s.Fields), len(s.FieldVectors))
	}
	if len(s.ExampleVectors) != len(s.Examples) {
		return fmt.Errorf("snapshot has %d examples but %d example vectors", len(s.Examples), len(s.ExampleVectors))
	}
	for i, v := range s.FieldVectors {
		if len(v) != s.EmbeddingDim {
			return fmt.Errorf("field vector %d has dimension %d (want %d)", i, len(v), s.EmbeddingDim)
		}
	}
	for i, v := range s.ExampleVectors {
		if len(v) != s.EmbeddingDim {
			return fmt.Errorf("example vector %d has dimension %d (want %d)", i, len(v), s.EmbeddingDim)
		}
	}
	return nil
}

// Stale reports whether the snapshot was built from a different catalogue
// or embedding model than the ones currently configured.
func (s *Snapshot) Stale(catalogueDigest, embeddingModel string) bool {
	return s.CatalogueDigest != catalogueDigest || s.EmbeddingModel != embeddingModel
}

// Index builds the in-memory Index from the snapshot contents.
func (s *Snapshot) Index() (*Index, error) {
	return NewIndex(s.Fields, s.Examples)
}

// SaveSnapshot seals and writes the snapshot atomically: write to a temp
// file in the same directory, then rename over the target.
func SaveSnapshot(path string, s *Snapshot) error {
	if err := s.Seal(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads and verifies a snapshot file.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", path, err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}
	if err := s.Verify(); err != nil {
		return nil, fmt.Errorf("snapshot %s failed verification: %w", path, err)
	}
	return &s, nil
}

// CatalogueDigest produces a stable fingerprint of a field catalogue so a
// snapshot can detect that the semantic layer schema changed underneath it.
func CatalogueDigest(fields []Field) string {
	sorted := append([]Field(nil), fields...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, f := range sorted {
		_ = enc.Encode(f)
	}
	return hex.EncodeToString(h.Sum(nil))
}
