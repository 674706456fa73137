// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package daisychain

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-daisychain/internal/syncutil"
	"github.com/ZaparooProject/go-daisychain/pkg/command"
	"github.com/rs/zerolog"
)

const traceBufferSize = 32

// Client runs NUL-terminated JSON request/response round trips over the
// command pipe of a Transport. Only one request is ever in flight.
type Client struct {
	transport Transport
	assembler *ResponseAssembler
	retry     *RetryConfig
	trace     *TraceBuffer
	logger    zerolog.Logger
	statusKey string
	timeout   time.Duration
	rid       atomic.Int64
	mu        syncutil.Mutex
}

// Option configures a Client.
type Option func(*Client) error

// WithStatusKey sets the response key that carries the status code.
func WithStatusKey(key string) Option {
	return func(c *Client) error {
		if key == "" {
			return errors.New("status key must not be empty")
		}
		c.statusKey = key
		return nil
	}
}

// WithResponseTimeout sets how long each request waits for its response.
func WithResponseTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout <= 0 {
			return fmt.Errorf("response timeout must be positive, got %v", timeout)
		}
		c.timeout = timeout
		return nil
	}
}

// WithRetry re-issues requests that fail with a retryable error. Every
// attempt gets a fresh request id. A nil config disables retry.
func WithRetry(config *RetryConfig) Option {
	return func(c *Client) error {
		c.retry = config
		return nil
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger.With().Str("component", "client").Logger()
		return nil
	}
}

// NewClient creates a client and subscribes it to the command pipe.
func NewClient(transport Transport, opts ...Option) (*Client, error) {
	c := &Client{
		transport: transport,
		assembler: NewResponseAssembler(),
		trace:     NewTraceBuffer(transport.Type(), traceBufferSize),
		logger:    Logger().With().Str("component", "client").Logger(),
		statusKey: command.DefaultStatusKey,
		timeout:   DefaultResponseTimeout,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	if err := transport.Subscribe(PipeCommand, c.receive); err != nil {
		return nil, fmt.Errorf("subscribe command pipe: %w", err)
	}
	return c, nil
}

func (c *Client) receive(fragment []byte) {
	c.trace.RecordRX(PipeCommand, fragment, "")
	c.assembler.Feed(fragment)
}

// Close unsubscribes the client from the command pipe.
func (c *Client) Close() error {
	if err := c.transport.Subscribe(PipeCommand, nil); err != nil {
		return fmt.Errorf("unsubscribe command pipe: %w", err)
	}
	return nil
}

// Transport returns the underlying transport.
func (c *Client) Transport() Transport {
	return c.transport
}

// StatusKey returns the response key checked for the status code.
func (c *Client) StatusKey() string {
	return c.statusKey
}

// NextRequestID returns the next request id. Ids start at 1 and increase
// monotonically for the lifetime of the client.
func (c *Client) NextRequestID() int {
	return int(c.rid.Add(1))
}

// Exchange writes one encoded frame and waits for the next complete
// response frame.
func (c *Client) Exchange(ctx context.Context, frame []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.assembler.Reset()
	for _, piece := range command.Split(frame, command.LinkMTU(c.transport.MTU())) {
		c.trace.RecordTX(PipeCommand, piece, "")
		if err := c.transport.Write(ctx, PipeCommand, piece, true); err != nil {
			return nil, c.trace.WrapError(fmt.Errorf("write request: %w", err))
		}
	}

	raw, err := c.assembler.Await(ctx, c.timeout)
	if err != nil {
		if errors.Is(err, ErrTransportTimeout) {
			c.trace.RecordTimeout(PipeCommand, "no response")
		}
		return nil, c.trace.WrapError(err)
	}
	c.trace.Clear()
	return raw, nil
}

// Execute sends req and checks the response against rid, status 0 and the
// given fields. It returns the value of the last checked field. The request
// id in req is replaced when the request is retried.
func (c *Client) Execute(ctx context.Context, req command.Request, fields ...command.Field) (any, error) {
	var result any
	err := RetryWithConfig(ctx, c.retry, func(attempt int) error {
		if attempt > 1 {
			req.RID = c.NextRequestID()
		}
		value, err := c.executeOnce(ctx, req, fields)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) executeOnce(ctx context.Context, req command.Request, fields []command.Field) (any, error) {
	frame, err := command.Encode(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", req.Name, err)
	}

	c.logger.Debug().Int("rid", req.RID).Str("cmd", req.Name).Msg("request")
	raw, err := c.Exchange(ctx, frame)
	if err != nil {
		c.logger.Debug().Err(err).Int("rid", req.RID).Str("cmd", req.Name).Msg("request failed")
		return nil, err
	}

	resp, err := command.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s response: %w", req.Name, err)
	}

	checks := make([]command.Field, 0, len(fields)+2)
	checks = append(checks,
		command.Is(command.KeyRID, req.RID),
		command.Is(c.statusKey, command.StatusOK))
	checks = append(checks, fields...)

	ok, value := resp.Evaluate(checks...)
	if !ok {
		c.logger.Debug().
			Int("rid", req.RID).
			Str("cmd", req.Name).
			Str("mismatch", resp.Mismatch(checks...)).
			Bytes("raw", raw).
			Msg("unexpected response")
		status, _ := resp.Status(c.statusKey)
		return nil, &CommandError{
			Command:   req.Name,
			RequestID: req.RID,
			Status:    status,
			Message:   resp.Message(),
		}
	}
	return value, nil
}
