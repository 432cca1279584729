package wal

import (
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/blockberries/dagberry/types"
)

// Errors
var (
	ErrWALClosed    = errors.New("WAL is closed")
	ErrWALCorrupted = errors.New("WAL is corrupted")
)

// MessageType identifies the type of WAL record.
type MessageType uint8

const (
	// MsgTypeUnknown is never written; decoding it means corruption.
	MsgTypeUnknown MessageType = iota
	// MsgTypeBlock records a block accepted into DAG state (wire encoding).
	MsgTypeBlock
	// MsgTypeCommit records a leader decision made by the commit rule.
	MsgTypeCommit
)

// Message is one WAL record.
type Message struct {
	Type  MessageType
	Round types.Round
	Data  []byte
}

// walRecord is the RLP layout of a Message.
type walRecord struct {
	Type  uint8
	Round uint64
	Data  []byte
}

// Marshal serializes the message.
func (m *Message) Marshal() ([]byte, error) {
	return rlp.EncodeToBytes(&walRecord{
		Type:  uint8(m.Type),
		Round: uint64(m.Round),
		Data:  m.Data,
	})
}

// Unmarshal deserializes the message.
func (m *Message) Unmarshal(data []byte) error {
	var rec walRecord
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return fmt.Errorf("%w: %v", ErrWALCorrupted, err)
	}
	m.Type = MessageType(rec.Type)
	m.Round = types.Round(rec.Round)
	m.Data = rec.Data
	return nil
}

// WAL is the write-ahead log interface.
type WAL interface {
	// Write appends a message (buffered).
	Write(msg *Message) error

	// WriteSync appends a message and syncs it to disk.
	WriteSync(msg *Message) error

	// FlushAndSync flushes and syncs all pending writes.
	FlushAndSync() error

	// NewReader returns a reader positioned at the start of the log.
	NewReader() (Reader, error)

	// Start opens the WAL for writing.
	Start() error

	// Stop flushes and closes the WAL.
	Stop() error
}

// Reader iterates WAL records in write order.
type Reader interface {
	// Decode returns the next message, or io.EOF at the end of the log.
	Decode() (*Message, error)

	// Close releases the reader.
	Close() error
}

// NopWAL is a WAL that discards everything. Used when persistence is
// disabled (tests, local simulation).
type NopWAL struct{}

func (NopWAL) Write(*Message) error        { return nil }
func (NopWAL) WriteSync(*Message) error    { return nil }
func (NopWAL) FlushAndSync() error         { return nil }
func (NopWAL) Start() error                { return nil }
func (NopWAL) Stop() error                 { return nil }
func (NopWAL) NewReader() (Reader, error)  { return nopReader{}, nil }

type nopReader struct{}

func (nopReader) Decode() (*Message, error) { return nil, io.EOF }
func (nopReader) Close() error              { return nil }

