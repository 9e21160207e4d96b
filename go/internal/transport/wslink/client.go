package wslink

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/picklesync/go/internal/transport"
)

var _ transport.Transport = (*Client)(nil)

// Client dials the primary device and keeps redialing after failures until
// closed.
type Client struct {
	*link
	url    string
	dialer *websocket.Dialer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewClient(url string, cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		link: newLink("client", cfg),
		url:  url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.WriteTimeout,
			ReadBufferSize:   cfg.ReadBufferSize,
			WriteBufferSize:  cfg.WriteBufferSize,
		},
	}
}

// Start runs the connect loop in the background. Register callbacks before
// calling it.
func (c *Client) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
}

func (c *Client) run(ctx context.Context) {
	for {
		ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			log.Debug().Err(err).Str("url", c.url).Msg("peer dial failed")
		} else if pc := c.attach(ws); pc != nil {
			c.readPump(pc)
		}

		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-time.After(c.config.ReconnectWait):
		}
	}
}

func (c *Client) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.close()
	c.wg.Wait()
	return nil
}
