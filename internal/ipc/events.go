package ipc

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/insetd/insetd/internal/util"
)

// Event represents a compositor event stream payload.
type Event struct {
	Kind    string
	Payload string
}

// Event kinds delivered by the compositor. Payload formats are parsed by the
// registry; the stream itself only splits kind from payload.
const (
	EventDisplayAdded   = "displayadded"
	EventDisplayRemoved = "displayremoved"
	EventInsetsState    = "insetsstate"
	EventInsetsControls = "insetscontrols"
	EventHideInsets     = "hideinsets"
	EventShowInsets     = "showinsets"
	EventFocusChanged   = "focuschanged"
)

// Subscribe connects to the compositor event socket and streams events until
// context cancellation or stream closure.
func Subscribe(ctx context.Context, logger *util.Logger) (<-chan Event, error) {
	socket, err := eventSocketPath()
	if err != nil {
		return nil, err
	}
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("connect event socket: %w", err)
	}
	events := make(chan Event)
	go func() {
		defer close(events)
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			line := scanner.Text()
			parts := strings.SplitN(line, ">>", 2)
			ev := Event{Kind: parts[0]}
			if len(parts) == 2 {
				ev.Payload = parts[1]
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			logger.Warnf("event stream error: %v", err)
		}
	}()
	return events, nil
}
