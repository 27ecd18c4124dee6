package rdb

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"net"

	"github.com/pkg/errors"
)

// SendMessage writes a length-prefixed frame: a u32 little-endian length
// followed by that many bytes.
func SendMessage(conn net.Conn, message []byte) error {
	var lenbuf [4]byte
	binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(message)))
	n, err := conn.Write(lenbuf[:])
	if err != nil {
		return errors.Wrap(err, "writing frame length")
	}
	if n != len(lenbuf) {
		return errors.New("partial write (len)")
	}

	sent := 0
	for sent < len(message) {
		n, err = conn.Write(message[sent:])
		if err != nil {
			return errors.Wrap(err, "writing frame body")
		}
		if n == 0 {
			return errors.New("connection closed")
		}
		sent += n
	}
	return nil
}

// RecvMessage reads one length-prefixed frame written by SendMessage.
func RecvMessage(conn net.Conn) ([]byte, error) {
	var lenbuf [4]byte
	if _, err := io.ReadFull(conn, lenbuf[:]); err != nil {
		return nil, errors.Wrap(err, "reading frame length")
	}

	responseLen := binary.LittleEndian.Uint32(lenbuf[:])
	if responseLen == 0 {
		return nil, nil
	}

	response := make([]byte, responseLen)
	_, err := io.ReadFull(conn, response)
	if err != nil {
		return nil, errors.Wrap(err, "reading frame body")
	}
	return response, nil
}

// Response is the wire-level reply to one Query: either a human-readable
// message or a raw JSON value, or an error string (spec.md §6).
type Response struct {
	Message string          `json:"message,omitempty"`
	JSON    json.RawMessage `json:"json,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ResponseFromResult adapts an Executor Result into a wire Response.
func ResponseFromResult(res Result) Response {
	if res.Message != "" {
		return Response{Message: res.Message}
	}
	return Response{JSON: json.RawMessage(res.JSON)}
}

// ErrorResponse builds a Response carrying a failed query's error.
func ErrorResponse(err error) Response {
	return Response{Error: err.Error()}
}

// SendResponse marshals and frames a Response.
func SendResponse(conn net.Conn, response *Response) error {
	message, err := json.Marshal(response)
	if err != nil {
		return errors.Wrap(err, "marshaling response")
	}
	return SendMessage(conn, message)
}

// ReceiveResponse reads and unmarshals one framed Response.
func ReceiveResponse(conn net.Conn) (*Response, error) {
	response, err := RecvMessage(conn)
	if err != nil {
		return nil, err
	}
	if len(response) == 0 {
		return nil, nil
	}

	var result Response
	if err := json.Unmarshal(response, &result); err != nil {
		return nil, errors.Wrap(err, "unmarshaling response")
	}
	return &result, nil
}

// SendQuery marshals and frames a Query for the server to execute.
func SendQuery(conn net.Conn, q *Query) error {
	message, err := json.Marshal(q)
	if err != nil {
		return errors.Wrap(err, "marshaling query")
	}
	return SendMessage(conn, message)
}

// ReceiveQuery reads and unmarshals one framed Query.
func ReceiveQuery(conn net.Conn) (*Query, error) {
	message, err := RecvMessage(conn)
	if err != nil {
		return nil, err
	}
	if len(message) == 0 {
		return nil, nil
	}

	var q Query
	if err := json.Unmarshal(message, &q); err != nil {
		return nil, errors.Wrap(err, "unmarshaling query")
	}
	return &q, nil
}
