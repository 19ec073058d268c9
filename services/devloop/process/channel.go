// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package process

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/AleutianAI/exodev/services/devloop/cancel"
)

// maxMessageSize bounds a single channel message.
const maxMessageSize = 16 << 20

// Channel is a bidirectional newline-delimited JSON message channel.
//
// Thread Safety: Send is safe for concurrent use. Receive must be called
// from one goroutine at a time.
type Channel struct {
	reader *bufio.Reader
	rc     io.Closer
	wc     io.WriteCloser

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// NewChannel builds a channel over an already connected reader and writer.
func NewChannel(r io.ReadCloser, w io.WriteCloser) *Channel {
	return &Channel{reader: bufio.NewReaderSize(r, 64*1024), rc: r, wc: w}
}

// ChildChannel opens the worker side of the channel set up by an
// isolated launch.
func ChildChannel() (*Channel, error) {
	if os.Getenv(EnvIPC) != "1" {
		return nil, ErrNoChannel
	}
	in := os.NewFile(childReadFD, "exodev-ipc-in")
	out := os.NewFile(childWriteFD, "exodev-ipc-out")
	if in == nil || out == nil {
		return nil, ErrNoChannel
	}
	return NewChannel(in, out), nil
}

// Send encodes v as one JSON line.
func (c *Channel) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	data = append(data, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	if _, err := c.wc.Write(data); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

// Receive returns the next message. It returns io.EOF once the peer has
// closed its end.
func (c *Channel) Receive() (json.RawMessage, error) {
	for {
		line, err := c.reader.ReadBytes('\n')
		if len(line) > maxMessageSize {
			return nil, fmt.Errorf("message exceeds %d bytes", maxMessageSize)
		}
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			if !json.Valid(line) {
				return nil, fmt.Errorf("malformed message: %q", truncate(line, 80))
			}
			return json.RawMessage(line), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// CloseWrite closes only the sending side, signaling EOF to the peer.
func (c *Channel) CloseWrite() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.wc.Close()
}

// Close releases both ends. Safe to call more than once.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		werr := c.CloseWrite()
		rerr := c.rc.Close()
		if werr != nil {
			err = werr
		} else {
			err = rerr
		}
	})
	return err
}

// SendToken is the standard CancelHook: it delivers the token as the
// first message on the handle's channel.
func SendToken(h *Handle, token *cancel.Token) error {
	ch := h.Channel()
	if ch == nil {
		return ErrNoChannel
	}
	return ch.Send(token.Data())
}

// ReceiveToken waits for the token message sent by SendToken.
func ReceiveToken(ctx context.Context, ch *Channel, opts ...cancel.Option) (*cancel.Token, error) {
	type result struct {
		raw json.RawMessage
		err error
	}
	done := make(chan result, 1)
	go func() {
		raw, err := ch.Receive()
		done <- result{raw, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("waiting for cancellation token: %w", r.err)
		}
		var data cancel.TokenData
		if err := json.Unmarshal(r.raw, &data); err != nil {
			return nil, fmt.Errorf("decoding cancellation token: %w", err)
		}
		return cancel.FromData(data, opts...)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
