package internal

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gowebpki/jcs"
	"github.com/kaptinlin/jsonschema"
)

const manifestFileName = "manifest.json"

// ManifestDocument records one snapshotted document
type ManifestDocument struct {
	Kind         DocumentKind `json:"kind"`
	ID           string       `json:"id"`
	Parent       string       `json:"parent"`
	OriginalPath string       `json:"originalPath"`
	BackupPath   string       `json:"backupPath"`
	SHA256       string       `json:"sha256"`
	Size         int64        `json:"size"`
}

// Ref returns the store ref the document is restored to
func (d ManifestDocument) Ref() DocumentRef {
	return DocumentRef{Kind: d.Kind, ID: d.ID, Parent: d.Parent}
}

// Manifest describes a backup snapshot. It is written last, after every
// document copy is durable, and never modified afterwards.
type Manifest struct {
	BackupID  string             `json:"backupID"`
	SessionID string             `json:"sessionID"`
	CreatedAt time.Time          `json:"createdAt"`
	Strategy  Strategy           `json:"strategy,omitempty"`
	Documents []ManifestDocument `json:"documents"`
	Digest    string             `json:"digest,omitempty"`
}

const manifestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["backupID", "sessionID", "createdAt", "documents", "digest"],
  "properties": {
    "backupID": {"type": "string", "minLength": 1},
    "sessionID": {"type": "string", "minLength": 1},
    "createdAt": {"type": "string", "format": "date-time"},
    "strategy": {"type": "string"},
    "digest": {"type": "string", "pattern": "^[0-9a-f]{64}$"},
    "documents": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["kind", "id", "parent", "originalPath", "backupPath", "sha256", "size"],
        "properties": {
          "kind": {"enum": ["session", "message", "part"]},
          "id": {"type": "string", "minLength": 1},
          "parent": {"type": "string", "minLength": 1},
          "originalPath": {"type": "string", "minLength": 1},
          "backupPath": {"type": "string", "minLength": 1},
          "sha256": {"type": "string", "pattern": "^[0-9a-f]{64}$"},
          "size": {"type": "integer", "minimum": 0}
        }
      }
    }
  }
}`

var (
	manifestSchemaOnce     sync.Once
	compiledManifestSchema *jsonschema.Schema
	manifestSchemaErr      error
)

func loadManifestSchema() (*jsonschema.Schema, error) {
	manifestSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.AssertFormat = true
		compiledManifestSchema, manifestSchemaErr = compiler.Compile([]byte(manifestSchema))
	})
	return compiledManifestSchema, manifestSchemaErr
}

// ComputeDigest returns the sha256 of the RFC 8785 canonical form of the
// manifest with its digest field left out
func (m *Manifest) ComputeDigest() (string, error) {
	unsigned := *m
	unsigned.Digest = ""
	data, err := json.Marshal(unsigned)
	if err != nil {
		return "", fmt.Errorf("failed to marshal manifest: %w", err)
	}
	canonical, err := jcs.Transform(data)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize manifest: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Seal sets the digest and returns the encoded manifest
func (m *Manifest) Seal() ([]byte, error) {
	digest, err := m.ComputeDigest()
	if err != nil {
		return nil, err
	}
	m.Digest = digest
	return json.MarshalIndent(m, "", "  ")
}

// ParseManifest validates raw manifest bytes against the manifest schema and
// the embedded digest
func ParseManifest(key string, data []byte) (*Manifest, error) {
	schema, err := loadManifestSchema()
	if err != nil {
		return nil, fmt.Errorf("failed to compile manifest schema: %w", err)
	}
	if result := schema.ValidateJSON(data); !result.IsValid() {
		return nil, &ParseError{Source: "manifest", Key: key, Err: fmt.Errorf("%w: schema validation failed: %v", ErrBackupCorrupted, result.Errors)}
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &ParseError{Source: "manifest", Key: key, Err: err}
	}
	digest, err := m.ComputeDigest()
	if err != nil {
		return nil, err
	}
	if digest != m.Digest {
		return nil, &ParseError{Source: "manifest", Key: key, Err: fmt.Errorf("%w: digest mismatch", ErrBackupCorrupted)}
	}
	return &m, nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
