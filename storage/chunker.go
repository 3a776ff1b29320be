package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Split reads the file at path into consecutive chunks of size bytes. The
// last chunk may be shorter; an empty file yields no chunks.
func Split(path string, size int) ([][]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid chunk size %d", size)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var chunks [][]byte
	for {
		buf := make([]byte, size)
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			chunks = append(chunks, buf[:n])
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return chunks, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}
}

// Join writes chunks in order to outputPath, creating parent directories.
func Join(chunks [][]byte, outputPath string) error {
	if dir := filepath.Dir(outputPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", outputPath, err)
	}
	for i, chunk := range chunks {
		if _, err := f.Write(chunk); err != nil {
			f.Close()
			return fmt.Errorf("write chunk %d: %w", i, err)
		}
	}
	return f.Close()
}
