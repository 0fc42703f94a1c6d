// Package modelio persists trained model bundles. A bundle is a JSON envelope
// carrying a schema tag, the feature names it was trained on and the model
// payload, compressed with zstd and written atomically.
package modelio

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

// SchemaVersion is bumped whenever the envelope layout changes.
const SchemaVersion = 1

const schemaName = "threatcore.model"

var (
	// ErrSchemaMismatch is returned when a file is not a model bundle of the
	// expected kind or version.
	ErrSchemaMismatch = errors.New("model bundle schema mismatch")
	// ErrIncompatible is returned when a bundle was trained on a different
	// feature layout.
	ErrIncompatible = errors.New("model bundle incompatible with feature layout")
)

// Envelope is the on-disk wrapper around a model payload.
type Envelope struct {
	Schema       string          `json:"schema"`
	Version      int             `json:"version"`
	Kind         string          `json:"kind"`
	CreatedAt    time.Time       `json:"created_at"`
	FeatureNames []string        `json:"feature_names"`
	Payload      json.RawMessage `json:"payload"`
}

var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("modelio: create zstd encoder: %v", err))
	}
	decoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("modelio: create zstd decoder: %v", err))
	}
}

// Encode wraps payload in an envelope and compresses it.
func Encode(kind string, featureNames []string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	env := Envelope{
		Schema:       schemaName,
		Version:      SchemaVersion,
		Kind:         kind,
		CreatedAt:    time.Now().UTC(),
		FeatureNames: featureNames,
		Payload:      raw,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return encoder.EncodeAll(data, nil), nil
}

// Decode decompresses data, validates the envelope against kind and
// featureNames and unmarshals the payload into out.
func Decode(data []byte, kind string, featureNames []string, out interface{}) (*Envelope, error) {
	plain, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrSchemaMismatch, err)
	}
	var env Envelope
	if err := json.Unmarshal(plain, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	if env.Schema != schemaName || env.Version != SchemaVersion {
		return nil, fmt.Errorf("%w: got %s v%d", ErrSchemaMismatch, env.Schema, env.Version)
	}
	if env.Kind != kind {
		return nil, fmt.Errorf("%w: kind %q, want %q", ErrSchemaMismatch, env.Kind, kind)
	}
	if !sameNames(env.FeatureNames, featureNames) {
		return nil, fmt.Errorf("%w: trained on %v", ErrIncompatible, env.FeatureNames)
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrSchemaMismatch, err)
	}
	return &env, nil
}

// Save writes a bundle to path. The file is written to a temporary sibling
// and renamed into place so readers never observe a partial bundle.
func Save(path, kind string, featureNames []string, payload interface{}) error {
	data, err := Encode(kind, featureNames, payload)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data)
}

// Load reads and decodes the bundle at path.
func Load(path, kind string, featureNames []string, out interface{}) (*Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Decode(data, kind, featureNames, out)
}

// WriteFileAtomic writes data to a temporary file in the target directory
// and renames it over path.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

func sameNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
