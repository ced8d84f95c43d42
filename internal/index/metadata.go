package index

import (
	"fmt"
	"strconv"
	"strings"
)

// SchemaVersion is the collection layout written by this indexer.
const SchemaVersion = "1"

// Collection metadata keys.
const (
	MetaSchemaVersion        = "schema_version"
	MetaHashAlgorithm        = "hash_algorithm"
	MetaLastUpdatedAt        = "last_updated_at"
	MetaCreatedAt            = "created_at"
	MetaEmbeddingModel       = "embedding_model"
	MetaEmbeddingProvider    = "embedding_provider"
	MetaEmbeddingDimension   = "embedding_dimension"
	MetaEmbeddingEndpointRef = "embedding_endpoint_ref"
	MetaEmbeddingAPIKeyRef   = "embedding_api_key_ref"
	MetaCompletionModel      = "completion_model"
	MetaConfigSignature      = "config_signature"
	MetaChunkSize            = "chunk_size"
	MetaDescription          = "description"
)

// Signature is the part of the configuration that determines what stored
// vectors mean. Any change to it makes existing vectors incompatible.
type Signature struct {
	EmbeddingModel    string
	EmbeddingProvider string
	ChunkSize         int
}

// String renders the signature in the form stored under config_signature.
func (s Signature) String() string {
	return fmt.Sprintf("%s=%s;%s=%s;%s=%d",
		MetaEmbeddingProvider, s.EmbeddingProvider,
		MetaEmbeddingModel, s.EmbeddingModel,
		MetaChunkSize, s.ChunkSize)
}

// IsZero reports whether no field is set.
func (s Signature) IsZero() bool {
	return s == Signature{}
}

// signatureFromMetadata reads the stored signature. ok is false when any
// field is missing.
func signatureFromMetadata(meta map[string]string) (sig Signature, ok bool) {
	sig.EmbeddingModel = meta[MetaEmbeddingModel]
	sig.EmbeddingProvider = meta[MetaEmbeddingProvider]
	size, err := strconv.Atoi(meta[MetaChunkSize])
	if err != nil || sig.EmbeddingModel == "" || sig.EmbeddingProvider == "" {
		return sig, false
	}
	sig.ChunkSize = size
	return sig, true
}

// Diff names every field that differs, as
// "stored embedding_model=X, configured embedding_model=Y".
func (s Signature) Diff(configured Signature) []string {
	var diffs []string
	add := func(key, stored, current string) {
		if stored != current {
			diffs = append(diffs, fmt.Sprintf("stored %s=%s, configured %s=%s", key, stored, key, current))
		}
	}
	add(MetaEmbeddingProvider, s.EmbeddingProvider, configured.EmbeddingProvider)
	add(MetaEmbeddingModel, s.EmbeddingModel, configured.EmbeddingModel)
	add(MetaChunkSize, strconv.Itoa(s.ChunkSize), strconv.Itoa(configured.ChunkSize))
	return diffs
}

func joinDiffs(diffs []string) string {
	return strings.Join(diffs, "; ")
}
