package vector

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const (
	fileMagic   = uint32(0x4B494458) // "KIDX"
	fileVersion = uint32(1)
)

// FlatIndex is an exact (brute-force) inner-product index. The dimension is
// fixed at construction and every stored vector must match it. Ids must be
// unique; there is no update or removal path, a stale index is corrected by
// rebuilding from scratch.
//
// A loaded index is safe for concurrent readers. Writers (Add, Load) take the
// write lock, but the intended usage is one mutating owner per index value:
// the pipeline mutates its private copy and readers only ever see durable
// snapshots.
type FlatIndex struct {
	dimensions int
	ids        []int64
	vectors    [][]float32
	present    map[int64]struct{}
	mu         sync.RWMutex
}

// NewFlatIndex creates an empty index with the given dimension.
func NewFlatIndex(dimensions int) (*FlatIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &FlatIndex{
		dimensions: dimensions,
		present:    make(map[int64]struct{}),
	}, nil
}

// Dimensions returns the fixed vector dimension.
func (f *FlatIndex) Dimensions() int {
	return f.dimensions
}

// Add appends a vector under id. Fails with ErrDimensionMismatch if the
// vector length differs from the index dimension, and with ErrDuplicateID
// if the id is already present.
func (f *FlatIndex) Add(id int64, vec []float32) error {
	if len(vec) != f.dimensions {
		return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(vec), f.dimensions)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.present[id]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}
	v := make([]float32, f.dimensions)
	copy(v, vec)
	f.ids = append(f.ids, id)
	f.vectors = append(f.vectors, v)
	f.present[id] = struct{}{}
	return nil
}

// Contains reports whether id is present in the index.
func (f *FlatIndex) Contains(id int64) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.present[id]
	return ok
}

// Len returns the number of stored vectors.
func (f *FlatIndex) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.ids)
}

// Search returns the top-k hits by inner product, ordered by descending
// score with ties broken by ascending id. The result length is
// min(k, Len()). Returns ErrDimensionMismatch when the query length differs
// from the index dimension.
func (f *FlatIndex) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("%w: query has %d, index expects %d", ErrDimensionMismatch, len(query), f.dimensions)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if k <= 0 || len(f.ids) == 0 {
		return nil, nil
	}
	hits := make([]Hit, len(f.ids))
	for i, vec := range f.vectors {
		var dot float64
		for j := 0; j < f.dimensions; j++ {
			dot += float64(query[j]) * float64(vec[j])
		}
		hits[i] = Hit{ID: f.ids[i], Score: dot}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// Save persists the index to path atomically: the file is written to a
// temporary name in the same directory and renamed into place, so a
// concurrent reader never observes a half-written index. The directory is
// created if needed.
func (f *FlatIndex) Save(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp index file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := f.writeTo(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync index file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename index file: %w", err)
	}
	return nil
}

func (f *FlatIndex) writeTo(w io.Writer) error {
	header := []uint32{fileMagic, fileVersion, uint32(f.dimensions), uint32(len(f.ids))}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	for i, id := range f.ids {
		if err := binary.Write(w, binary.LittleEndian, id); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if _, err := w.Write(float32SliceToBytes(f.vectors[i])); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// Load reads the index file at path and replaces the in-memory contents.
// A missing file yields ErrNotFound so callers can distinguish "no index
// yet" from damage; any decode failure yields ErrCorrupt. A file written
// with a different dimension yields ErrDimensionMismatch, since that means
// the embedding model changed under the index.
func (f *FlatIndex) Load(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()

	var magic, version, dim, n uint32
	for _, dst := range []*uint32{&magic, &version, &dim, &n} {
		if err := binary.Read(file, binary.LittleEndian, dst); err != nil {
			return fmt.Errorf("%w: short header", ErrCorrupt)
		}
	}
	if magic != fileMagic {
		return fmt.Errorf("%w: bad magic %08x", ErrCorrupt, magic)
	}
	if version != fileVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorrupt, version)
	}
	if int(dim) != f.dimensions {
		return fmt.Errorf("%w: file has %d, index expects %d", ErrDimensionMismatch, dim, f.dimensions)
	}

	ids := make([]int64, 0, n)
	vectors := make([][]float32, 0, n)
	present := make(map[int64]struct{}, n)
	buf := make([]byte, f.dimensions*4)
	for i := uint32(0); i < n; i++ {
		var id int64
		if err := binary.Read(file, binary.LittleEndian, &id); err != nil {
			return fmt.Errorf("%w: short id at entry %d", ErrCorrupt, i)
		}
		if _, err := io.ReadFull(file, buf); err != nil {
			return fmt.Errorf("%w: short vector at entry %d", ErrCorrupt, i)
		}
		if _, ok := present[id]; ok {
			return fmt.Errorf("%w: duplicate id %d", ErrCorrupt, id)
		}
		ids = append(ids, id)
		vectors = append(vectors, bytesToFloat32Slice(buf))
		present[id] = struct{}{}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = ids
	f.vectors = vectors
	f.present = present
	return nil
}

// LoadOrEmpty loads the index at path, treating a missing file as an empty
// index. Corruption and dimension mismatches are still surfaced.
func LoadOrEmpty(path string, dimensions int) (*FlatIndex, error) {
	idx, err := NewFlatIndex(dimensions)
	if err != nil {
		return nil, err
	}
	if err := idx.Load(path); err != nil {
		if errors.Is(err, ErrNotFound) {
			return idx, nil
		}
		return nil, err
	}
	return idx, nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
