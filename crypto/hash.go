package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashHex is the lowercase hex SHA-256 of data. Chunk ids are HashHex of the
// encrypted blob.
func HashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FileID hashes the file name, not its content.
func FileID(name string) string {
	return HashHex([]byte(name))
}
