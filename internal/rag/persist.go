package rag

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/viveksaraswat123/medical-chatbot/internal/domain"
	"github.com/viveksaraswat123/medical-chatbot/internal/port"
)

// Files that make up a persisted index directory.
const (
	VectorsFile  = "vectors.bin"
	ChunksFile   = "chunks.json"
	ManifestFile = "manifest.yaml"

	indexFormatVersion = 1
	vectorsHeaderSize  = 16
)

var vectorsMagic = [4]byte{'M', 'B', 'V', 'X'}

// Manifest describes a persisted index.
type Manifest struct {
	FormatVersion int       `yaml:"format_version"`
	ModelID       string    `yaml:"model_id"`
	Dimension     int       `yaml:"dimension"`
	Count         int       `yaml:"count"`
	VectorsSHA256 string    `yaml:"vectors_sha256"`
	ChunksSHA256  string    `yaml:"chunks_sha256"`
	BuiltAt       time.Time `yaml:"built_at"`
}

type vectorsHeader struct {
	Magic   [4]byte
	Version uint32
	Count   uint32
	Dim     uint32
}

// Persist writes the index to dir. The files are written to a sibling
// temporary directory which then replaces dir, so readers of dir see either
// the previous index or the new one.
func (x *Index) Persist(dir string) error {
	dir = filepath.Clean(dir)
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("persist index: %w", err)
	}

	tmp, err := os.MkdirTemp(parent, "."+filepath.Base(dir)+".tmp-")
	if err != nil {
		return fmt.Errorf("persist index: %w", err)
	}
	defer os.RemoveAll(tmp)

	vecSum, err := writeFileSynced(filepath.Join(tmp, VectorsFile), x.writeVectors)
	if err != nil {
		return fmt.Errorf("persist vectors: %w", err)
	}
	chunkSum, err := writeFileSynced(filepath.Join(tmp, ChunksFile), func(w io.Writer) error {
		return json.NewEncoder(w).Encode(x.chunks)
	})
	if err != nil {
		return fmt.Errorf("persist chunks: %w", err)
	}

	manifest := Manifest{
		FormatVersion: indexFormatVersion,
		ModelID:       x.modelID,
		Dimension:     x.dim,
		Count:         x.Len(),
		VectorsSHA256: vecSum,
		ChunksSHA256:  chunkSum,
		BuiltAt:       x.builtAt.UTC(),
	}
	if _, err := writeFileSynced(filepath.Join(tmp, ManifestFile), func(w io.Writer) error {
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(&manifest)
	}); err != nil {
		return fmt.Errorf("persist manifest: %w", err)
	}

	if err := swapDir(tmp, dir); err != nil {
		return fmt.Errorf("persist index: %w", err)
	}
	return nil
}

func (x *Index) writeVectors(w io.Writer) error {
	hdr := vectorsHeader{
		Magic:   vectorsMagic,
		Version: indexFormatVersion,
		Count:   uint32(x.Len()),
		Dim:     uint32(x.dim),
	}
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, x.vectors)
}

// ReadManifest reads the manifest of a persisted index without loading it.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, &port.IndexLoadError{Path: dir, Reason: "manifest unreadable", Err: err}
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &port.IndexLoadError{Path: dir, Reason: "manifest malformed", Err: err}
	}
	if m.FormatVersion != indexFormatVersion {
		return nil, &port.IndexLoadError{Path: dir, Reason: fmt.Sprintf("unsupported format version %d", m.FormatVersion)}
	}
	return &m, nil
}

// LoadIndex reads an index persisted by Persist. It fails with
// *port.IndexLoadError when files are missing or inconsistent, or with
// Stale set when the index was built by a model other than expectedModelID.
func LoadIndex(dir, expectedModelID string) (*Index, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	if m.ModelID != expectedModelID {
		return nil, &port.IndexLoadError{
			Path:   dir,
			Reason: fmt.Sprintf("built with model %q, want %q", m.ModelID, expectedModelID),
			Stale:  true,
		}
	}

	vecData, err := readVerified(filepath.Join(dir, VectorsFile), m.VectorsSHA256)
	if err != nil {
		return nil, &port.IndexLoadError{Path: dir, Reason: "vectors", Err: err}
	}
	vectors, err := decodeVectors(vecData, m.Count, m.Dimension)
	if err != nil {
		return nil, &port.IndexLoadError{Path: dir, Reason: "vectors", Err: err}
	}

	chunkData, err := readVerified(filepath.Join(dir, ChunksFile), m.ChunksSHA256)
	if err != nil {
		return nil, &port.IndexLoadError{Path: dir, Reason: "chunks", Err: err}
	}
	var chunks []domain.Chunk
	if err := json.Unmarshal(chunkData, &chunks); err != nil {
		return nil, &port.IndexLoadError{Path: dir, Reason: "chunks malformed", Err: err}
	}
	if len(chunks) != m.Count {
		return nil, &port.IndexLoadError{Path: dir, Reason: fmt.Sprintf("manifest lists %d chunks, found %d", m.Count, len(chunks))}
	}

	return &Index{
		modelID: m.ModelID,
		dim:     m.Dimension,
		chunks:  chunks,
		vectors: vectors,
		builtAt: m.BuiltAt,
	}, nil
}

func decodeVectors(data []byte, count, dim int) ([]float32, error) {
	if len(data) < vectorsHeaderSize {
		return nil, errors.New("file truncated")
	}
	var hdr vectorsHeader
	if err := binary.Read(bytes.NewReader(data[:vectorsHeaderSize]), binary.LittleEndian, &hdr); err != nil {
		return nil, err
	}
	if hdr.Magic != vectorsMagic {
		return nil, errors.New("bad magic")
	}
	if int(hdr.Count) != count || int(hdr.Dim) != dim {
		return nil, fmt.Errorf("header %dx%d does not match manifest %dx%d", hdr.Count, hdr.Dim, count, dim)
	}
	if want := vectorsHeaderSize + 4*count*dim; len(data) != want {
		return nil, fmt.Errorf("size %d, want %d", len(data), want)
	}

	vectors := make([]float32, count*dim)
	if err := binary.Read(bytes.NewReader(data[vectorsHeaderSize:]), binary.LittleEndian, vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}

func readVerified(path, wantSum string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); got != wantSum {
		return nil, fmt.Errorf("checksum mismatch for %s", filepath.Base(path))
	}
	return data, nil
}

// writeFileSynced writes path through fn, fsyncs it and returns its SHA-256.
func writeFileSynced(path string, fn func(io.Writer) error) (string, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	bw := bufio.NewWriter(io.MultiWriter(f, h))
	if err := fn(bw); err != nil {
		return "", err
	}
	if err := bw.Flush(); err != nil {
		return "", err
	}
	if err := f.Sync(); err != nil {
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// swapDir moves tmp to dir, keeping the previous dir until the move succeeds.
func swapDir(tmp, dir string) error {
	var backup string
	switch _, err := os.Stat(dir); {
	case err == nil:
		backup = dir + ".old-" + strconv.FormatInt(time.Now().UnixNano(), 36)
		if err := os.Rename(dir, backup); err != nil {
			return err
		}
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}

	if err := os.Rename(tmp, dir); err != nil {
		if backup != "" {
			_ = os.Rename(backup, dir)
		}
		return err
	}

	if backup != "" {
		_ = os.RemoveAll(backup)
	}
	if d, err := os.Open(filepath.Dir(dir)); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}
