package jobengine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rakunlabs/shinkai/internal/vectorresource"
)

// EmbedFunc produces an embedding vector for a chunk of text.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// Chunker splits raw file content into embeddable text chunks. A plain
// paragraph splitter is used for unknown extensions; callers may supply a
// smarter one per content type (spec §4.7 step 2: "chunking is
// extension-aware").
type Chunker func(filename string, content []byte) []string

// DefaultChunker splits on blank lines, dropping empty chunks.
func DefaultChunker(_ string, content []byte) []string {
	parts := strings.Split(string(content), "\n\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IngestFile wraps an attached file's content as a VRKai: it chunks the
// content, embeds each chunk, and appends each as a Node to a fresh
// Document-variant VectorResource named after the file (spec §4.7 step 2,
// §4.3).
func IngestFile(ctx context.Context, filename string, content []byte, embed EmbedFunc, chunk Chunker) (vectorresource.VRKai, error) {
	if chunk == nil {
		chunk = DefaultChunker
	}

	resource := vectorresource.NewDocumentResource(filename, "")
	resource.Source = vectorresource.VRSource{Kind: "file", Ref: filename}

	chunks := chunk(filename, content)
	if len(chunks) == 0 {
		return vectorresource.VRKai{}, fmt.Errorf("jobengine: file %q produced no ingestible chunks", filename)
	}

	for _, text := range chunks {
		vec, err := embed(ctx, text)
		if err != nil {
			return vectorresource.VRKai{}, fmt.Errorf("jobengine: embed chunk of %q: %w", filename, err)
		}
		if _, err := resource.AppendNode(
			vectorresource.TextContent(text),
			map[string]string{"source_file": filepath.Base(filename)},
			nil,
			vectorresource.Embedding{Vector: vec},
		); err != nil {
			return vectorresource.VRKai{}, fmt.Errorf("jobengine: append chunk of %q: %w", filename, err)
		}
	}

	return vectorresource.VRKai{Resource: resource, SourceFile: content}, nil
}
