package portal

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/mdlayher/vsock"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cuemby/boxlite/pkg/boxerr"
	"github.com/cuemby/boxlite/internal/boxliteapi"
)

// Connection lazily dials a box's guest agent over its Transport. Dialing
// is attempted again on every call after a failure — a failed dial is not
// memoized, since the guest may simply not be ready yet (spec.md §4.6).
type Connection struct {
	transport Transport

	mu   sync.Mutex
	conn *grpc.ClientConn
}

func NewConnection(t Transport) *Connection {
	return &Connection{transport: t}
}

// Get returns a connected *grpc.ClientConn, dialing it on first use (or
// after a previous connection went bad).
func (c *Connection) Get(ctx context.Context) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		switch c.conn.GetState().String() {
		case "SHUTDOWN", "TRANSIENT_FAILURE":
			c.conn.Close()
			c.conn = nil
		default:
			return c.conn, nil
		}
	}

	conn, err := grpc.NewClient(
		c.transport.String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(dialerFor(c.transport)),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(boxliteapi.Codec{})),
	)
	if err != nil {
		return nil, boxerr.Newf(boxerr.KindEngine, err, "dial %s", c.transport)
	}
	c.conn = conn
	return conn, nil
}

// Close releases the underlying connection, if any.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// dialerFor returns the net.Dial-compatible function for t's Kind, used
// as grpc's ContextDialer — the one place the three transports actually
// diverge (spec.md §4.6).
func dialerFor(t Transport) func(ctx context.Context, addr string) (net.Conn, error) {
	switch t.Kind {
	case KindUnix:
		return func(ctx context.Context, _ string) (net.Conn, error) {
			d := net.Dialer{}
			return d.DialContext(ctx, "unix", t.Path)
		}
	case KindVsock:
		return func(ctx context.Context, _ string) (net.Conn, error) {
			type result struct {
				conn net.Conn
				err  error
			}
			ch := make(chan result, 1)
			go func() {
				conn, err := vsock.Dial(t.CID, t.VsockPort, nil)
				ch <- result{conn, err}
			}()
			select {
			case r := <-ch:
				return r.conn, r.err
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	default: // tcp
		return func(ctx context.Context, _ string) (net.Conn, error) {
			d := net.Dialer{Timeout: 5 * time.Second}
			return d.DialContext(ctx, "tcp", t.String()[len("tcp://"):])
		}
	}
}
