package transport

import (
	"context"
	"io"
)

type connReader struct {
	ctx     context.Context
	conn    Conn
	pending []byte
}

// NewReader exposes the bytes received on c as a stream, so frame readers
// can consume either destination kind.
func NewReader(ctx context.Context, c Conn) io.Reader {
	return &connReader{ctx: ctx, conn: c}
}

func (r *connReader) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		chunk, err := r.conn.Recv(r.ctx)
		if err != nil {
			return 0, err
		}
		r.pending = chunk
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}
