package puzzlepresenter

import (
	"context"
	"encoding/base64"
	"strings"
)

// Sender is the outbound side of a chat transport.
type Sender interface {
	SendText(ctx context.Context, room, message string) error
	SendImage(ctx context.Context, room, imageBase64 string) error
}

// Presenter delivers formatted messages and board images without coupling to the command layer.
type Presenter struct {
	sender Sender
}

func NewPresenter(sender Sender) *Presenter {
	return &Presenter{sender: sender}
}

func (p *Presenter) Text(ctx context.Context, room, message string) error {
	if p == nil || p.sender == nil || strings.TrimSpace(message) == "" {
		return nil
	}
	return p.sender.SendText(ctx, room, message)
}

// Board sends the text first, then the PNG.
func (p *Presenter) Board(ctx context.Context, room, message string, png []byte) error {
	if err := p.Text(ctx, room, message); err != nil {
		return err
	}
	if p == nil || p.sender == nil || len(png) == 0 {
		return nil
	}
	return p.sender.SendImage(ctx, room, base64.StdEncoding.EncodeToString(png))
}
