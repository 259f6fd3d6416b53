package ipc

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Client talks to a running daemon over its socket
type Client struct {
	conn   net.Conn
	codec  *Codec
	nextID uint64
}

// Dial connects to the daemon socket at path
func Dial(ctx context.Context, path string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon at %s: %w", path, err)
	}
	return &Client{conn: conn, codec: NewCodec(conn)}, nil
}

// Send issues one request and waits for the response carrying its id
func (c *Client) Send(ctx context.Context, req DaemonRequest) (DaemonResponse, error) {
	c.nextID++
	id := c.nextID

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return DaemonResponse{}, err
	}

	if err := c.codec.Write(Request{ID: id, Data: req}); err != nil {
		return DaemonResponse{}, err
	}

	for {
		var resp Response
		if err := c.codec.Read(&resp); err != nil {
			return DaemonResponse{}, fmt.Errorf("failed to read response: %w", err)
		}
		if resp.ID == id {
			return resp.Data, nil
		}
	}
}

func (c *Client) Close() error {
	return c.conn.Close()
}
