// Package message defines the clipcache line protocol.
//
// Every message is one line of JSON. Byte payloads are base64 inside the
// JSON. A client sends requests carrying an ID; the server answers each with
// a RESULT or ERROR echoing that ID. The server may also push RENDER_REQUEST
// and PING at any time, so answers can arrive out of order.
package message

import (
	"encoding/json"
	"fmt"

	"go.klb.dev/clipcache/internal/authority"
)

// Type identifies the kind of message.
type Type string

const (
	// Session setup, client → server.
	TypeAuth  Type = "AUTH"
	TypeHello Type = "HELLO"

	// Store operations, client → server.
	TypeOpen       Type = "OPEN"
	TypeClose      Type = "CLOSE"
	TypeEmpty      Type = "EMPTY"
	TypePut        Type = "PUT"
	TypePutDelayed Type = "PUT_DELAYED"
	TypePublish    Type = "PUBLISH"
	TypeGet        Type = "GET"
	TypeEnumerate  Type = "ENUMERATE"
	TypeRender     Type = "RENDER"
	TypeRegister   Type = "REGISTER"
	TypeStatus     Type = "STATUS"

	// Server → client.
	TypeResult        Type = "RESULT"
	TypeError         Type = "ERROR"
	TypeRenderRequest Type = "RENDER_REQUEST"

	// Either direction.
	TypePing Type = "PING"
	TypePong Type = "PONG"
)

// Message is the wire envelope. Only the fields relevant to Type are set.
type Message struct {
	Type Type   `json:"type"`
	ID   uint64 `json:"id,omitempty"`

	// AUTH / HELLO
	Token   string `json:"token,omitempty"`
	Process string `json:"process,omitempty"`
	Source  string `json:"source,omitempty"`

	// Requests
	Format uint32 `json:"format,omitempty"`
	Data   []byte `json:"data,omitempty"`
	Cached uint64 `json:"cached,omitempty"`
	Owner  string `json:"owner,omitempty"`
	Name   string `json:"name,omitempty"`

	// RESULT
	Seq      uint64              `json:"seq,omitempty"`
	Granted  bool                `json:"granted,omitempty"`
	Previous string              `json:"previous,omitempty"`
	Status   string              `json:"status,omitempty"`
	Empty    bool                `json:"empty,omitempty"`
	Current  uint64              `json:"current,omitempty"`
	OK       bool                `json:"ok,omitempty"`
	Snapshot *authority.Snapshot `json:"snapshot,omitempty"`

	// ERROR: Code is an authority error code.
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`

	// RENDER_REQUEST
	Requester string `json:"requester,omitempty"`
}

// Encode serialises the message to JSON without a trailing newline.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode deserialises a message from raw JSON bytes.
func Decode(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("message decode: %w", err)
	}
	if m.Type == "" {
		return nil, fmt.Errorf("message decode: missing type")
	}
	return &m, nil
}

// Result starts a RESULT answering m.
func (m *Message) Result() *Message {
	return &Message{Type: TypeResult, ID: m.ID}
}

// Fail builds the ERROR answering m.
func (m *Message) Fail(err error) *Message {
	return &Message{Type: TypeError, ID: m.ID, Code: authority.Code(err), Error: err.Error()}
}

// Err rebuilds the error carried by an ERROR message, or nil.
func (m *Message) Err() error {
	if m.Type != TypeError {
		return nil
	}
	return authority.FromCode(m.Code, m.Error)
}

// IsRequest reports whether a client may send t once the session is set up.
func (t Type) IsRequest() bool {
	switch t {
	case TypeOpen, TypeClose, TypeEmpty, TypePut, TypePutDelayed, TypePublish,
		TypeGet, TypeEnumerate, TypeRender, TypeRegister, TypeStatus:
		return true
	}
	return false
}
