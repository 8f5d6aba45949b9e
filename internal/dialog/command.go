package dialog

import (
	"context"
	"fmt"
	"strings"
)

// Commands accepted from voice clients.
const (
	CmdOpen         = "open"
	CmdListen       = "listen"
	CmdStop         = "stop"
	CmdSend         = "send"
	CmdClose        = "close"
	CmdStopSpeaking = "stop-speaking"
)

// Dispatch runs a named command. CmdSend blocks until the turn resolves.
func (d *Dialog) Dispatch(ctx context.Context, cmd string) error {
	switch strings.ToLower(strings.TrimSpace(cmd)) {
	case CmdOpen:
		return d.Open(ctx)
	case CmdListen:
		return d.Listen(ctx)
	case CmdStop:
		return d.Stop()
	case CmdSend:
		_, err := d.Send(ctx)
		return err
	case CmdClose:
		d.Close()
		return nil
	case CmdStopSpeaking, "cancel", "barge-in":
		d.speech.Cancel()
		return nil
	default:
		return fmt.Errorf("dialog: unknown command %q", cmd)
	}
}
