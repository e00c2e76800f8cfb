// Package protocol defines the messages of the chunked upload protocol and
// how they are encoded and framed on a byte stream.
//
// Every message is a tagged Message envelope. Which fields are meaningful
// depends on Type:
//
//	BeginUpload      c->s  FileName
//	BeginUploadAck   s->c  FileID
//	BeginUploadError s->c  Code=CodeCreateFailure, Text
//	Chunk            c->s  FileID, Data
//	ChunkAck         s->c  FileID
//	ChunkError       s->c  FileID, Code, Text
//	EndOfStream      c->s  FileID
//	Promote          c->s  FileID, FileName
//	PromoteAck       s->c  FileID (destination), Hash
//	PromoteError     s->c  FileID, Code=CodePromoteFailure, Text
//
// A Chunk carrying zero bytes is an ordinary empty write; only EndOfStream
// ends a session.
package protocol

import (
	"fmt"
)

// Type tags a Message.
type Type uint32

const (
	TypeInvalid Type = iota
	TypeBeginUpload
	TypeBeginUploadAck
	TypeBeginUploadError
	TypeChunk
	TypeChunkAck
	TypeChunkError
	TypeEndOfStream
	TypePromote
	TypePromoteAck
	TypePromoteError
)

func (t Type) String() string {
	switch t {
	case TypeBeginUpload:
		return "BeginUpload"
	case TypeBeginUploadAck:
		return "BeginUploadAck"
	case TypeBeginUploadError:
		return "BeginUploadError"
	case TypeChunk:
		return "Chunk"
	case TypeChunkAck:
		return "ChunkAck"
	case TypeChunkError:
		return "ChunkError"
	case TypeEndOfStream:
		return "EndOfStream"
	case TypePromote:
		return "Promote"
	case TypePromoteAck:
		return "PromoteAck"
	case TypePromoteError:
		return "PromoteError"
	default:
		return fmt.Sprintf("Type(%d)", uint32(t))
	}
}

// Code is the numeric reason carried by error notifications.
type Code uint32

const (
	CodeOK             Code = 0
	CodeCreateFailure  Code = 1
	CodeWriteFailure   Code = 2
	CodePromoteFailure Code = 3
	CodeUnknownStream  Code = 4
	CodeBadMessage     Code = 5
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeCreateFailure:
		return "create failure"
	case CodeWriteFailure:
		return "write failure"
	case CodePromoteFailure:
		return "promote failure"
	case CodeUnknownStream:
		return "unknown stream"
	case CodeBadMessage:
		return "bad message"
	default:
		return fmt.Sprintf("code %d", uint32(c))
	}
}

// Message is the protocol envelope. The CBOR codec uses integer keys; the
// XDR codec encodes fields in declaration order.
type Message struct {
	Type     Type   `cbor:"1,keyasint"`
	FileID   string `cbor:"2,keyasint,omitempty"`
	FileName string `cbor:"3,keyasint,omitempty"`
	Data     []byte `cbor:"4,keyasint,omitempty"`
	Code     Code   `cbor:"5,keyasint,omitempty"`
	Text     string `cbor:"6,keyasint,omitempty"`
	Hash     string `cbor:"7,keyasint,omitempty"`
}

func (m *Message) String() string {
	switch m.Type {
	case TypeChunk:
		return fmt.Sprintf("%s{file=%s bytes=%d}", m.Type, m.FileID, len(m.Data))
	case TypeBeginUploadError, TypeChunkError, TypePromoteError:
		return fmt.Sprintf("%s{file=%s code=%d text=%q}", m.Type, m.FileID, m.Code, m.Text)
	default:
		return fmt.Sprintf("%s{file=%s name=%q}", m.Type, m.FileID, m.FileName)
	}
}

// IsError reports whether m is one of the error notifications.
func (m *Message) IsError() bool {
	return m.Type == TypeBeginUploadError || m.Type == TypeChunkError || m.Type == TypePromoteError
}

// Err converts an error notification into a Go error. Returns nil for
// other messages.
func (m *Message) Err() error {
	if !m.IsError() {
		return nil
	}
	return &RemoteError{Type: m.Type, FileID: m.FileID, Code: m.Code, Text: m.Text}
}

// Validate checks that the fields required by m.Type are present.
func (m *Message) Validate() error {
	switch m.Type {
	case TypeBeginUpload:
		if m.FileName == "" {
			return fmt.Errorf("%s: missing file name", m.Type)
		}
	case TypeBeginUploadAck, TypeChunk, TypeChunkAck, TypeEndOfStream, TypePromoteAck:
		if m.FileID == "" {
			return fmt.Errorf("%s: missing file id", m.Type)
		}
	case TypePromote:
		if m.FileID == "" || m.FileName == "" {
			return fmt.Errorf("%s: missing file id or name", m.Type)
		}
	case TypeBeginUploadError, TypeChunkError, TypePromoteError:
		if m.Code == CodeOK {
			return fmt.Errorf("%s: missing error code", m.Type)
		}
	default:
		return fmt.Errorf("unknown message type %d", uint32(m.Type))
	}
	return nil
}

// RemoteError is an error notification received from the peer.
type RemoteError struct {
	Type   Type
	FileID string
	Code   Code
	Text   string
}

func (e *RemoteError) Error() string {
	if e.FileID != "" {
		return fmt.Sprintf("%s for %s: %s (%d): %s", e.Type, e.FileID, e.Code, uint32(e.Code), e.Text)
	}
	return fmt.Sprintf("%s: %s (%d): %s", e.Type, e.Code, uint32(e.Code), e.Text)
}

// ============================================================================
// Constructors
// ============================================================================

func BeginUpload(fileName string) *Message {
	return &Message{Type: TypeBeginUpload, FileName: fileName}
}

func BeginUploadAck(fileID string) *Message {
	return &Message{Type: TypeBeginUploadAck, FileID: fileID}
}

func BeginUploadError(text string) *Message {
	return &Message{Type: TypeBeginUploadError, Code: CodeCreateFailure, Text: text}
}

func Chunk(fileID string, data []byte) *Message {
	return &Message{Type: TypeChunk, FileID: fileID, Data: data}
}

func ChunkAck(fileID string) *Message {
	return &Message{Type: TypeChunkAck, FileID: fileID}
}

func ChunkError(fileID string, code Code, text string) *Message {
	return &Message{Type: TypeChunkError, FileID: fileID, Code: code, Text: text}
}

func EndOfStream(fileID string) *Message {
	return &Message{Type: TypeEndOfStream, FileID: fileID}
}

func Promote(fileID, destName string) *Message {
	return &Message{Type: TypePromote, FileID: fileID, FileName: destName}
}

func PromoteAck(destID, hash string) *Message {
	return &Message{Type: TypePromoteAck, FileID: destID, Hash: hash}
}

func PromoteError(fileID string, code Code, text string) *Message {
	return &Message{Type: TypePromoteError, FileID: fileID, Code: code, Text: text}
}
