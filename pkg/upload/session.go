package upload

import (
	"fmt"
	"time"

	"github.com/marmos91/dittostore/pkg/filestore"
	"github.com/marmos91/dittostore/pkg/observer"
)

// SessionState tracks one upload through its lifetime on a connection:
//
//	INIT -> AWAIT_CHUNK -> WRITE_PENDING -> AWAIT_CHUNK -> ... -> EOS_RECEIVED -> CLOSED
type SessionState int

const (
	SessionInit SessionState = iota
	SessionAwaitChunk
	SessionWritePending
	SessionEOSReceived
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionInit:
		return "INIT"
	case SessionAwaitChunk:
		return "AWAIT_CHUNK"
	case SessionWritePending:
		return "WRITE_PENDING"
	case SessionEOSReceived:
		return "EOS_RECEIVED"
	case SessionClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// Session is one in-progress upload on a connection. Owned by the
// connection's receive loop; never shared between goroutines.
type Session struct {
	ID      filestore.FileID
	Name    string
	State   SessionState
	Chunks  int
	Bytes   int64
	Started time.Time

	handler observer.HandlerID
}

func newSession(id filestore.FileID, name string) *Session {
	return &Session{
		ID:      id,
		Name:    name,
		State:   SessionInit,
		Started: time.Now(),
	}
}

// chunkEvent is the observer event carrying Chunk and EndOfStream messages
// for one file id.
func chunkEvent(id filestore.FileID) string {
	return "chunk/" + string(id)
}
