package constants

import "time"

const (
	Salt         = "dfss-ulak-bibliotheca"
	KeySizeBytes = 32 // SHA-256
	IDBits       = KeySizeBytes * 8
	K            = 20

	// Chunking and encryption
	ChunkSize     = 1024 * 1024 // 1 MB
	NonceSize     = 12
	SymmetricKeyB = 32 // AES-256

	// Transport
	DefaultPort           = 9000
	DefaultHost           = "127.0.0.1"
	RequestTimeout        = 10 * time.Second
	MaxFrameSize          = 16 * 1024 * 1024
	MaxConcurrentHandlers = 256

	// Consecutive failed exchanges before a contact is dropped from its bucket
	MaxStaleCount = 5

	DataDirPrefix = "data_"
	KeyFileName   = "private_key.pem"
)
