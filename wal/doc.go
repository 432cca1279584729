// Package wal provides a write-ahead log for the consensus engine. Every
// accepted block and every commit decision is appended before it takes
// effect, so a restarted validator can rebuild its DAG state by replay.
//
// The file implementation frames each record as a 4-byte big-endian length,
// the RLP-encoded record, and a CRC32 checksum, and rotates segment files
// once they exceed a size limit. A corrupted record ends replay of its
// segment; everything before it is preserved.
package wal
