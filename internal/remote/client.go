package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/danielpatrickdp/nudge-controller/internal/bandit"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// #region client-struct

// Client is the network-backed bandit.Model. It talks to the central bandit
// service on behalf of one client id.
type Client struct {
	conn     *grpc.ClientConn
	client   BanditServiceClient
	clientID int
	arms     int
	timeout  time.Duration
}

var _ bandit.Model = (*Client)(nil)

// #endregion client-struct

// #region constructor

// NewClient connects to the bandit service. The connection is lazy: an
// unreachable address surfaces as a transport error on the first call. arms
// is the action count every response is checked against.
func NewClient(addr string, clientID, arms int, timeout time.Duration) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{
		conn:     conn,
		client:   NewBanditServiceClient(conn),
		clientID: clientID,
		arms:     arms,
		timeout:  timeout,
	}, nil
}

// NewClientWithService creates a Client with an injected service implementation.
// Used for testing without a real gRPC connection.
func NewClientWithService(svc BanditServiceClient, clientID, arms int, timeout time.Duration) *Client {
	return &Client{client: svc, clientID: clientID, arms: arms, timeout: timeout}
}

// #endregion constructor

// #region close

// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region act

// Act asks the service for a decision, always requesting the score vector.
// An action outside [0, arms) or a score vector of the wrong length is a
// malformed response and classed as transport.
func (c *Client) Act(ctx context.Context, x []float64) (bandit.Decision, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.client.Act(ctx, actRequest(c.clientID, x, true))
	if err != nil {
		return bandit.Decision{}, classify("act", err)
	}

	action, err := readInt(resp, fieldAction)
	if err != nil {
		return bandit.Decision{}, malformed("act", err)
	}
	if action < 0 || action >= c.arms {
		return bandit.Decision{}, malformed("act", fmt.Errorf("action %d outside [0, %d)", action, c.arms))
	}
	scores, err := readFloats(resp, fieldScores)
	if err != nil {
		return bandit.Decision{}, malformed("act", err)
	}
	if len(scores) != c.arms {
		return bandit.Decision{}, malformed("act", fmt.Errorf("got %d scores, want %d", len(scores), c.arms))
	}
	return bandit.Decision{Action: action, Scores: scores, Source: bandit.SourceRemote}, nil
}

// #endregion act

// #region update

// Update forwards one learning triple to the service.
func (c *Client) Update(ctx context.Context, x []float64, action int, reward float64) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.client.Update(ctx, updateRequest(c.clientID, x, action, reward))
	if err != nil {
		return classify("update", err)
	}
	if resp == nil {
		return malformed("update", fmt.Errorf("empty ack"))
	}
	return nil
}

// #endregion update

// #region helpers

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// #endregion helpers
