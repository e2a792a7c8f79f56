package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"voicebridge/internal/domain"
)

// consoleGateway prints messages instead of posting them to a chat platform.
type consoleGateway struct {
	mu  sync.Mutex
	out io.Writer
}

func (c *consoleGateway) SendMessage(_ context.Context, msg domain.OutgoingMessage) error {
	return c.print("", msg.Text, msg.Blocks)
}

func (c *consoleGateway) NotifyUser(_ context.Context, n domain.Notification) error {
	return c.print("[only visible to "+n.UserID+"] ", n.Text, n.Blocks)
}

func (c *consoleGateway) print(prefix, text string, blocks []domain.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var sb strings.Builder
	if text != "" {
		sb.WriteString(prefix + text + "\n")
	}
	for _, b := range blocks {
		if b.Text != "" {
			sb.WriteString(prefix + b.Text + "\n")
		}
		for _, btn := range b.Buttons {
			fmt.Fprintf(&sb, "  [%s]\n", btn.Label)
		}
	}
	_, err := io.WriteString(c.out, sb.String())
	return err
}
