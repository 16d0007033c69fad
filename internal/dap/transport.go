// Package dap carries Debug Adapter Protocol messages, including the CUDA
// extension messages, over a byte stream.
//
// This package provides:
//   - Transport: framed message sending/receiving over TCP, stdio or any
//     io.ReadWriteCloser, used by the adapter and by front-end clients
//   - Client: typed front-end operations (Initialize, Launch, SetBreakpoints,
//     ChangeCudaFocus, ...) with an ordered record of received events
//
// The protocol is described at: https://microsoft.github.io/debug-adapter-protocol/
package dap

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/go-dap"

	"github.com/ctagard/cuda-dap/pkg/types"
)

// Transport handles one DAP connection. Send is safe for concurrent use;
// Receive must be called from a single goroutine.
type Transport struct {
	conn   io.ReadWriteCloser
	reader *bufio.Reader
	writer *bufio.Writer
	codec  *dap.Codec
	mu     sync.Mutex
	seq    int
}

// NewTransport wraps an established connection.
func NewTransport(conn io.ReadWriteCloser) *Transport {
	return &Transport{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		codec:  types.NewCodec(),
		seq:    1,
	}
}

// NewTCPTransport creates a transport connected to a TCP address
func NewTCPTransport(address string) (*Transport, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DAP server at %s: %w", address, err)
	}
	return NewTransport(conn), nil
}

// StdioConn joins a reader and a writer, such as the process's stdin and
// stdout, into one connection.
func StdioConn(in io.ReadCloser, out io.WriteCloser) io.ReadWriteCloser {
	return &stdioRWC{reader: in, writer: out}
}

type stdioRWC struct {
	reader io.ReadCloser
	writer io.WriteCloser
}

func (s *stdioRWC) Read(p []byte) (n int, err error) {
	return s.reader.Read(p)
}

func (s *stdioRWC) Write(p []byte) (n int, err error) {
	return s.writer.Write(p)
}

func (s *stdioRWC) Close() error {
	err1 := s.reader.Close()
	err2 := s.writer.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Send stamps msg with the next sequence number and writes it. It returns
// the sequence number used.
func (t *Transport) Send(msg dap.Message) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seq := t.seq
	t.seq++
	switch m := msg.(type) {
	case dap.RequestMessage:
		m.GetRequest().Seq = seq
	case dap.ResponseMessage:
		m.GetResponse().Seq = seq
	case dap.EventMessage:
		m.GetEvent().Seq = seq
	}

	if err := dap.WriteProtocolMessage(t.writer, msg); err != nil {
		return 0, fmt.Errorf("failed to write DAP message: %w", err)
	}
	if err := t.writer.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush DAP message: %w", err)
	}
	return seq, nil
}

// Receive reads the next message. A well-framed message the codec cannot
// decode, such as an unknown request, is reported as a
// *dap.DecodeProtocolMessageFieldError and leaves the stream usable.
func (t *Transport) Receive() (dap.Message, error) {
	content, err := dap.ReadBaseMessage(t.reader)
	if err != nil {
		return nil, err
	}
	return t.codec.DecodeMessage(content)
}

// Close closes the transport
func (t *Transport) Close() error {
	return t.conn.Close()
}
