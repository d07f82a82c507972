package channels

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/miradorstack/latencyguard/internal/dispatch"
)

// Console writes digests to a stream, stdout by default.
type Console struct {
	name string
	mu   sync.Mutex
	out  io.Writer
}

// NewConsole constructs a console channel. A nil writer means stdout.
func NewConsole(name string, out io.Writer) *Console {
	if out == nil {
		out = os.Stdout
	}
	return &Console{name: name, out: out}
}

// Name implements dispatch.Channel.
func (c *Console) Name() string { return c.name }

// Deliver implements dispatch.Channel.
func (c *Console) Deliver(ctx context.Context, d dispatch.Digest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "%s\n\n", d.Text())
	return err
}
