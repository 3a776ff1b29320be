package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kutluhann/decen-dht/dht"
)

// MetadataStore persists file records, owner contacts and the symmetric keys
// of files this node owns.
type MetadataStore struct {
	db *sql.DB
}

// FileInfo summarises one known file for listings.
type FileInfo struct {
	FileID string `json:"file_id"`
	Chunks int    `json:"chunks"`
	Owned  bool   `json:"owned"`
}

// NewMetadataStore opens (or creates) the SQLite database at path.
func NewMetadataStore(path string) (*MetadataStore, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}
	// One connection serialises writes and makes every write visible to the
	// next read.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping metadata db: %w", err)
	}

	s := &MetadataStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *MetadataStore) Close() error {
	return s.db.Close()
}

func (s *MetadataStore) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS files (
    file_id TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS file_chunks (
    file_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    chunk_id TEXT NOT NULL,
    PRIMARY KEY (file_id, seq)
);

CREATE TABLE IF NOT EXISTS file_keys (
    file_id TEXT PRIMARY KEY,
    sym_key BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS file_owners (
    file_id TEXT PRIMARY KEY,
    node_id TEXT NOT NULL,
    ip TEXT NOT NULL,
    port INTEGER NOT NULL
);
`
	_, err := s.db.Exec(schema)
	return err
}

// PutFile records the ordered chunk ids of fileID, replacing any previous
// record.
func (s *MetadataStore) PutFile(fileID string, chunkIDs []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO files (file_id, created_at) VALUES (?, ?)
		 ON CONFLICT(file_id) DO NOTHING`,
		fileID, time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("insert file %s: %w", fileID, err)
	}
	if _, err := tx.Exec(`DELETE FROM file_chunks WHERE file_id = ?`, fileID); err != nil {
		return fmt.Errorf("clear chunks of %s: %w", fileID, err)
	}
	for i, chunkID := range chunkIDs {
		if _, err := tx.Exec(
			`INSERT INTO file_chunks (file_id, seq, chunk_id) VALUES (?, ?, ?)`,
			fileID, i, chunkID,
		); err != nil {
			return fmt.Errorf("insert chunk %d of %s: %w", i, fileID, err)
		}
	}
	return tx.Commit()
}

func (s *MetadataStore) HasFile(fileID string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM files WHERE file_id = ?`, fileID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query file %s: %w", fileID, err)
	}
	return n > 0, nil
}

// GetChunks returns the chunk ids of fileID in order, or ErrNotFound.
func (s *MetadataStore) GetChunks(fileID string) ([]string, error) {
	has, err := s.HasFile(fileID)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, fmt.Errorf("file %s: %w", fileID, ErrNotFound)
	}

	rows, err := s.db.Query(`SELECT chunk_id FROM file_chunks WHERE file_id = ? ORDER BY seq`, fileID)
	if err != nil {
		return nil, fmt.Errorf("query chunks of %s: %w", fileID, err)
	}
	defer rows.Close()

	var chunkIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chunk id: %w", err)
		}
		chunkIDs = append(chunkIDs, id)
	}
	return chunkIDs, rows.Err()
}

func (s *MetadataStore) PutKey(fileID string, key []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO file_keys (file_id, sym_key) VALUES (?, ?)
		 ON CONFLICT(file_id) DO UPDATE SET sym_key = excluded.sym_key`,
		fileID, key,
	)
	if err != nil {
		return fmt.Errorf("store key of %s: %w", fileID, err)
	}
	return nil
}

// GetKey returns the symmetric key of an owned file, or ErrNotFound.
func (s *MetadataStore) GetKey(fileID string) ([]byte, error) {
	var key []byte
	err := s.db.QueryRow(`SELECT sym_key FROM file_keys WHERE file_id = ?`, fileID).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("key of %s: %w", fileID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query key of %s: %w", fileID, err)
	}
	return key, nil
}

func (s *MetadataStore) PutOwner(fileID string, owner dht.Contact) error {
	_, err := s.db.Exec(
		`INSERT INTO file_owners (file_id, node_id, ip, port) VALUES (?, ?, ?, ?)
		 ON CONFLICT(file_id) DO UPDATE SET node_id = excluded.node_id, ip = excluded.ip, port = excluded.port`,
		fileID, owner.ID.String(), owner.IP, owner.Port,
	)
	if err != nil {
		return fmt.Errorf("store owner of %s: %w", fileID, err)
	}
	return nil
}

// GetOwner returns the recorded owner of fileID, or ErrNotFound.
func (s *MetadataStore) GetOwner(fileID string) (dht.Contact, error) {
	var nodeID, ip string
	var port int
	err := s.db.QueryRow(
		`SELECT node_id, ip, port FROM file_owners WHERE file_id = ?`, fileID,
	).Scan(&nodeID, &ip, &port)
	if errors.Is(err, sql.ErrNoRows) {
		return dht.Contact{}, fmt.Errorf("owner of %s: %w", fileID, ErrNotFound)
	}
	if err != nil {
		return dht.Contact{}, fmt.Errorf("query owner of %s: %w", fileID, err)
	}

	id, err := dht.ParseNodeID(nodeID)
	if err != nil {
		return dht.Contact{}, fmt.Errorf("owner of %s: %w", fileID, err)
	}
	return dht.Contact{ID: id, IP: ip, Port: port}, nil
}

// ListFiles returns every known file, oldest first.
func (s *MetadataStore) ListFiles() ([]FileInfo, error) {
	rows, err := s.db.Query(`
SELECT f.file_id,
       (SELECT COUNT(*) FROM file_chunks c WHERE c.file_id = f.file_id),
       EXISTS (SELECT 1 FROM file_keys k WHERE k.file_id = f.file_id)
FROM files f
ORDER BY f.created_at, f.file_id`)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []FileInfo
	for rows.Next() {
		var info FileInfo
		if err := rows.Scan(&info.FileID, &info.Chunks, &info.Owned); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, info)
	}
	return files, rows.Err()
}
