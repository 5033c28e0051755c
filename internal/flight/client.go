package flight

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/23skdu/attnscope/internal/artifact"
)

// Client fetches artifacts from an ArtifactServer. It implements
// store.Source for Arrow artifacts; CBOR names report not found.
type Client struct {
	client  flight.Client
	addr    string
	timeout time.Duration
}

// NewClient prepares a client for addr ("host" or "host:port"). Call
// Connect before use.
func NewClient(addr string) *Client {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, strconv.Itoa(DefaultPort))
	}
	return &Client{addr: addr, timeout: 30 * time.Second}
}

func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	client, err := flight.NewClientWithMiddleware(c.addr, nil, nil, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to create Flight client for %s: %w", c.addr, err)
	}
	c.client = client
	return nil
}

func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *Client) Addr() string { return c.addr }

func (c *Client) String() string { return "flight:" + c.addr }

// Open streams the named artifact and returns it re-encoded as an Arrow IPC
// stream.
func (c *Client) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if c.client == nil {
		return nil, fmt.Errorf("client not connected, call Connect() first")
	}
	if _, _, f, ok := artifact.Describe(name); !ok || f != artifact.FormatArrow {
		return nil, fmt.Errorf("%s via flight: %w", name, artifact.ErrNotFound)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	stream, err := c.client.DoGet(ctx, &flight.Ticket{Ticket: []byte(name)})
	if err != nil {
		return nil, c.wrap(name, err)
	}
	rdr, err := flight.NewRecordReader(stream)
	if err != nil {
		return nil, c.wrap(name, err)
	}
	defer rdr.Release()

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(rdr.Schema()))
	for rdr.Next() {
		if err := w.Write(rdr.Record()); err != nil {
			return nil, fmt.Errorf("buffer %s: %w", name, err)
		}
	}
	if err := rdr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, c.wrap(name, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("buffer %s: %w", name, err)
	}
	return io.NopCloser(&buf), nil
}

// List returns the artifact names the server advertises.
func (c *Client) List(ctx context.Context) ([]string, error) {
	if c.client == nil {
		return nil, fmt.Errorf("client not connected, call Connect() first")
	}
	stream, err := c.client.ListFlights(ctx, &flight.Criteria{})
	if err != nil {
		return nil, fmt.Errorf("list flights on %s: %w", c.addr, err)
	}
	var names []string
	for {
		info, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list flights on %s: %w", c.addr, err)
		}
		if d := info.GetFlightDescriptor(); d != nil && len(d.GetPath()) > 0 {
			names = append(names, d.GetPath()[0])
		}
	}
}

func (c *Client) wrap(name string, err error) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s on %s: %w", name, c.addr, artifact.ErrNotFound)
	}
	return fmt.Errorf("fetch %s from %s: %w", name, c.addr, err)
}
