// Package transport carries JSON-RPC traffic between agents and the
// dispatcher: a newline-delimited stream (stdio) and an HTTP event stream.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"taskrails/internal/domain"
)

// RawDispatcher turns one raw JSON-RPC message into at most one response.
type RawDispatcher interface {
	DispatchRaw(ctx context.Context, data []byte) *domain.Response
}

// LineChannel serves one request per line on r and writes one response per
// line on w. Requests are handled strictly in order.
type LineChannel struct {
	dispatcher RawDispatcher
	logger     *slog.Logger
}

// NewLineChannel creates a line-delimited channel.
func NewLineChannel(d RawDispatcher, logger *slog.Logger) *LineChannel {
	return &LineChannel{dispatcher: d, logger: logger}
}

// Name identifies the channel in logs.
func (c *LineChannel) Name() string { return "line" }

// Serve runs until r reaches EOF, ctx ends, or a write fails. EOF returns
// nil. ctx is checked between lines; a read already blocked on r is not
// interrupted.
func (c *LineChannel) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	reader := bufio.NewReader(r)
	writer := bufio.NewWriter(w)

	c.logger.Info("line channel started")
	defer c.logger.Info("line channel stopped")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, readErr := reader.ReadBytes('\n')
		if len(line) > 0 {
			if err := c.handleLine(ctx, line, writer); err != nil {
				c.logger.Error("line channel write failed", "error", err)
				return err
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			c.logger.Error("line channel read failed", "error", readErr)
			return fmt.Errorf("read: %w", readErr)
		}
	}
}

func (c *LineChannel) handleLine(ctx context.Context, line []byte, w *bufio.Writer) error {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}

	resp := c.dispatcher.DispatchRaw(ctx, line)
	if resp == nil {
		return nil
	}

	data, err := json.Marshal(resp)
	if err != nil {
		// Results are built from marshalable types; reaching this is a bug.
		c.logger.Error("line channel encode failed", "error", err)
		data, _ = json.Marshal(domain.NewErrorResponse(resp.ID, domain.NewRPCError(domain.CodeInternalError, "Internal error")))
	}

	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}
