// Package corpus loads extracted-text documents from disk and prepares the
// index-aligned texts and metadata the vector store builds from.
package corpus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"medrag/internal/domain"
	"medrag/internal/textproc"
)

// extractedSuffix marks output files from the document-extraction pipeline.
const extractedSuffix = "_extracted_text.json"

// largeDocumentTokens is only a log threshold; large documents still get
// chunked normally.
const largeDocumentTokens = 500000

// Chunker is the splitting operation Prepare drives. Satisfied by
// *chunker.Chunker.
type Chunker interface {
	Chunk(text string) []string
}

type extractedDocument struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// Load reads every *_extracted_text.json document under dir.
func Load(dir string, logger *zap.Logger) ([]domain.SourceDocument, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read corpus directory: %w", err)
	}

	var docs []domain.SourceDocument
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), extractedSuffix) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("skipping unreadable document", zap.String("file", path), zap.Error(err))
			continue
		}
		var doc extractedDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			logger.Warn("skipping malformed document", zap.String("file", path), zap.Error(err))
			continue
		}
		meta := doc.Metadata
		if meta == nil {
			meta = make(map[string]any)
		}
		if _, ok := meta["source"]; !ok {
			meta["source"] = "Unknown"
		}
		meta["filename"] = entry.Name()
		docs = append(docs, domain.SourceDocument{Text: strings.TrimSpace(doc.Text), Metadata: meta})
	}
	logger.Info("corpus loaded", zap.String("dir", dir), zap.Int("documents", len(docs)))
	return docs, nil
}

// Prepare chunks each document and returns index-aligned texts and
// metadatas for the store build. Documents failing the relevance filter are
// skipped; every chunk's metadata carries its source identity and position.
func Prepare(docs []domain.SourceDocument, ch Chunker, logger *zap.Logger) (texts []string, metadatas []map[string]any) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for docNum, doc := range docs {
		if doc.Text == "" || !textproc.IsRelevant(doc.Text) {
			logger.Info("skipping document with insufficient content",
				zap.Any("filename", doc.Metadata["filename"]))
			continue
		}
		if tokens := textproc.EstimateTokens(doc.Text); tokens > largeDocumentTokens {
			logger.Warn("very large document", zap.Int("tokens", tokens),
				zap.Any("filename", doc.Metadata["filename"]))
		}

		chunks := ch.Chunk(doc.Text)
		if len(chunks) == 0 {
			logger.Warn("no valid chunks created from document",
				zap.Any("filename", doc.Metadata["filename"]))
			continue
		}

		for i, chunk := range chunks {
			meta := make(map[string]any, len(doc.Metadata)+5)
			for k, v := range doc.Metadata {
				meta[k] = v
			}
			meta["content_length"] = len(doc.Text)
			meta["chunk_id"] = fmt.Sprintf("%d_%d", docNum+1, i)
			meta["chunk_index"] = i
			meta["total_chunks"] = len(chunks)
			meta["token_count"] = textproc.EstimateTokens(chunk)

			texts = append(texts, chunk)
			metadatas = append(metadatas, meta)
		}
		logger.Info("document chunked",
			zap.Any("filename", doc.Metadata["filename"]), zap.Int("chunks", len(chunks)))
	}
	logger.Info("corpus prepared", zap.Int("documents", len(docs)), zap.Int("chunks", len(texts)))
	return texts, metadatas
}
