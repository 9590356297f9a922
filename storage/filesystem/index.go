package filesystem

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
)

const (
	SchemaVersion = 1
	IndexFileName = "contribution-index.json"
)

var ErrSchemaVersionMismatch = fmt.Errorf("schema version mismatch, only %v is supported", SchemaVersion)

// Index is the document describing all contributions of a storage directory.
// Entries are kept in insertion order.
type Index struct {
	SchemaVersion int     `json:"schemaVersion"`
	Contributions []Entry `json:"contributions"`
}

// Entry is the metadata of one contribution. Its content lives in the blob named by Digest.
type Entry struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Disabled    bool   `json:"disabled,omitempty"`
	Digest      string `json:"digest"`
}

func NewIndex() *Index {
	return &Index{SchemaVersion: SchemaVersion, Contributions: []Entry{}}
}

// DecodeIndex reads an Index and rejects unknown fields and foreign schema versions.
func DecodeIndex(data io.Reader) (*Index, error) {
	var idx Index
	decoder := json.NewDecoder(data)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&idx); err != nil {
		return nil, err
	}
	if idx.SchemaVersion != SchemaVersion {
		return nil, ErrSchemaVersionMismatch
	}
	return &idx, nil
}

func EncodeIndex(idx *Index) ([]byte, error) {
	return json.MarshalIndent(idx, "", "  ")
}

func (idx *Index) find(name string) int {
	return slices.IndexFunc(idx.Contributions, func(e Entry) bool {
		return e.Name == name
	})
}

func (idx *Index) references(digest string) bool {
	return slices.ContainsFunc(idx.Contributions, func(e Entry) bool {
		return e.Digest == digest
	})
}
