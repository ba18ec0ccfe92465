// Package rpc exposes the sync engine's control plane over a net/rpc
// server using a msgpack wire codec, grounded on the standard library's own
// gob/jsonrpc ServerCodec shape and on the reference pack's use of
// github.com/vmihailenco/msgpack/v5 for msgpack-serialisable payloads
// (spec.md §6: "msgpack-serialisable arguments and returns").
package rpc

import (
	"fmt"
	"io"
	"net/rpc"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// wireHeader is written once per request/response, matching net/rpc's
// internal Request/Response shape so ReadRequestHeader/WriteResponse can
// round-trip the sequence number and method name without gob.
type wireHeader struct {
	ServiceMethod string `msgpack:"method"`
	Seq           uint64 `msgpack:"seq"`
	Error         string `msgpack:"error,omitempty"`
}

// serverCodec adapts a single connection's byte stream to rpc.ServerCodec:
// each request and response is two consecutive msgpack values — a
// wireHeader, then the body.
type serverCodec struct {
	conn io.ReadWriteCloser
	dec  *msgpack.Decoder
	enc  *msgpack.Encoder

	mu      sync.Mutex
	closed  bool
	pending map[uint64]string // seq -> method of requests not yet answered
}

// NewServerCodec wraps conn (typically one accepted net.Conn) as an
// rpc.ServerCodec speaking msgpack.
func NewServerCodec(conn io.ReadWriteCloser) rpc.ServerCodec {
	return &serverCodec{
		conn:    conn,
		dec:     msgpack.NewDecoder(conn),
		enc:     msgpack.NewEncoder(conn),
		pending: make(map[uint64]string),
	}
}

func (c *serverCodec) ReadRequestHeader(r *rpc.Request) error {
	var h wireHeader
	if err := c.dec.Decode(&h); err != nil {
		return err
	}
	r.ServiceMethod = h.ServiceMethod
	r.Seq = h.Seq

	c.mu.Lock()
	c.pending[h.Seq] = h.ServiceMethod
	c.mu.Unlock()
	return nil
}

func (c *serverCodec) ReadRequestBody(body any) error {
	if body == nil {
		var discard msgpack.RawMessage
		return c.dec.Decode(&discard)
	}
	return c.dec.Decode(body)
}

func (c *serverCodec) WriteResponse(r *rpc.Response, body any) error {
	c.mu.Lock()
	delete(c.pending, r.Seq)
	c.mu.Unlock()

	if err := c.enc.Encode(wireHeader{ServiceMethod: r.ServiceMethod, Seq: r.Seq, Error: r.Error}); err != nil {
		return err
	}
	if body == nil {
		body = struct{}{}
	}
	return c.enc.Encode(body)
}

func (c *serverCodec) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// clientCodec is the dialing-side counterpart of serverCodec, for a net/rpc
// client talking to the control plane; nothing in this repository
// constructs one.
type clientCodec struct {
	conn io.ReadWriteCloser
	dec  *msgpack.Decoder
	enc  *msgpack.Encoder

	mu      sync.Mutex
	pending map[uint64]string
}

// NewClientCodec wraps conn as an rpc.ClientCodec speaking msgpack.
func NewClientCodec(conn io.ReadWriteCloser) rpc.ClientCodec {
	return &clientCodec{
		conn:    conn,
		dec:     msgpack.NewDecoder(conn),
		enc:     msgpack.NewEncoder(conn),
		pending: make(map[uint64]string),
	}
}

func (c *clientCodec) WriteRequest(r *rpc.Request, body any) error {
	c.mu.Lock()
	c.pending[r.Seq] = r.ServiceMethod
	c.mu.Unlock()

	if err := c.enc.Encode(wireHeader{ServiceMethod: r.ServiceMethod, Seq: r.Seq}); err != nil {
		return err
	}
	return c.enc.Encode(body)
}

func (c *clientCodec) ReadResponseHeader(r *rpc.Response) error {
	var h wireHeader
	if err := c.dec.Decode(&h); err != nil {
		return err
	}
	c.mu.Lock()
	method, ok := c.pending[h.Seq]
	delete(c.pending, h.Seq)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("rpc: unexpected response sequence %d", h.Seq)
	}

	r.ServiceMethod = method
	r.Seq = h.Seq
	r.Error = h.Error
	return nil
}

func (c *clientCodec) ReadResponseBody(body any) error {
	if body == nil {
		var discard msgpack.RawMessage
		return c.dec.Decode(&discard)
	}
	return c.dec.Decode(body)
}

func (c *clientCodec) Close() error {
	return c.conn.Close()
}
