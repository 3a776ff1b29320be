package storage

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrInvalidID = errors.New("invalid chunk id")
)

const pathBlockSize = 5

// ChunkStore keeps encrypted chunks on disk, addressed by their hex id.
// A chunk "f49cab28b3..." lives at <root>/f49ca/b28b3/f49cab28b3...
type ChunkStore struct {
	root string
}

func NewChunkStore(root string) (*ChunkStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk dir: %w", err)
	}
	return &ChunkStore{root: root}, nil
}

func (s *ChunkStore) Root() string {
	return s.root
}

func (s *ChunkStore) path(id string) (string, error) {
	if len(id) < 2*pathBlockSize {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	if _, err := hex.DecodeString(id); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return filepath.Join(s.root, id[:pathBlockSize], id[pathBlockSize:2*pathBlockSize], id), nil
}

// Put writes data under id. Writes go to a temp file that is renamed into
// place, so a concurrent Get never sees a partial chunk. Rewriting an id is
// harmless.
func (s *ChunkStore) Put(id string, data []byte) error {
	full, err := s.path(id)
	if err != nil {
		return err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create chunk dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, id+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp chunk: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write chunk %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close chunk %s: %w", id, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return fmt.Errorf("rename chunk %s: %w", id, err)
	}
	return nil
}

// Get returns the chunk bytes or ErrNotFound.
func (s *ChunkStore) Get(id string) ([]byte, error) {
	full, err := s.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("chunk %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read chunk %s: %w", id, err)
	}
	return data, nil
}

func (s *ChunkStore) Has(id string) bool {
	full, err := s.path(id)
	if err != nil {
		return false
	}
	_, err = os.Stat(full)
	return err == nil
}

// Count walks the store and returns the number of chunks held.
func (s *ChunkStore) Count() (int, error) {
	count := 0
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(d.Name()) == "" && len(d.Name()) > 2*pathBlockSize {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}
