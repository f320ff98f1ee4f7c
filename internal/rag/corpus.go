// Package rag implements the retrieval half of MediBot: loading the knowledge
// corpus, chunking it, building and persisting a flat cosine index, and
// assembling the prompt sent to the LLM.
package rag

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/viveksaraswat123/medical-chatbot/internal/domain"
	"github.com/viveksaraswat123/medical-chatbot/internal/port"
)

// LoadCorpus reads every .txt file under root, recursively, sorted by path.
func LoadCorpus(ctx context.Context, root string) ([]domain.Document, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, &port.CorpusEmptyError{Root: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &port.CorpusEmptyError{Root: root, Err: fmt.Errorf("not a directory")}
	}

	var docs []domain.Document
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() || !strings.EqualFold(filepath.Ext(path), ".txt") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		text := string(data)
		if !utf8.ValidString(text) {
			text = strings.ToValidUTF8(text, "�")
		}
		docs = append(docs, domain.Document{SourceID: filepath.ToSlash(rel), Text: text})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan corpus: %w", err)
	}

	if len(docs) == 0 {
		return nil, &port.CorpusEmptyError{Root: root}
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].SourceID < docs[j].SourceID })
	return docs, nil
}
