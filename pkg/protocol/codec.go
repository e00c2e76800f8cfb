package protocol

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
	xdr "github.com/rasky/go-xdr/xdr2"
)

// Codec turns a Message into a frame payload and back.
type Codec interface {
	Name() string
	Marshal(m *Message) ([]byte, error)
	Unmarshal(data []byte, m *Message) error
}

// NewCodec returns the codec registered under name ("cbor" or "xdr").
// The empty name selects CBOR.
func NewCodec(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "cbor":
		return CBOR{}, nil
	case "xdr":
		return XDR{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// ============================================================================
// CBOR
// ============================================================================

// encMode uses Core Deterministic Encoding so equal messages encode to
// identical bytes.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
}

// CBOR encodes messages as CBOR maps with integer keys.
type CBOR struct{}

func (CBOR) Name() string { return "cbor" }

func (CBOR) Marshal(m *Message) ([]byte, error) {
	data, err := encMode.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("cbor encode %s: %w", m.Type, err)
	}
	return data, nil
}

func (CBOR) Unmarshal(data []byte, m *Message) error {
	*m = Message{}
	if err := decMode.Unmarshal(data, m); err != nil {
		return fmt.Errorf("cbor decode: %w", err)
	}
	return nil
}

// ============================================================================
// XDR
// ============================================================================

// XDR encodes messages per RFC 4506, fields in declaration order.
type XDR struct{}

func (XDR) Name() string { return "xdr" }

func (XDR) Marshal(m *Message) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, m); err != nil {
		return nil, fmt.Errorf("xdr encode %s: %w", m.Type, err)
	}
	return buf.Bytes(), nil
}

func (XDR) Unmarshal(data []byte, m *Message) error {
	*m = Message{}
	if _, err := xdr.Unmarshal(bytes.NewReader(data), m); err != nil {
		return fmt.Errorf("xdr decode: %w", err)
	}
	return nil
}
