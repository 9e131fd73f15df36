package ipc

import (
	"encoding/json"
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/insetd/insetd/internal/insets"
	"github.com/insetd/insetd/internal/util"
)

// Client issues requests against the compositor request socket. Every request
// opens a fresh connection, mirroring the one-shot dispatch contract: the
// compositor either acknowledges synchronously or the call fails.
type Client struct {
	path   string
	logger *util.Logger
}

// NewClient discovers the compositor request socket and returns a client.
func NewClient(logger *util.Logger) (*Client, error) {
	path, err := requestSocketPath()
	if err != nil {
		return nil, err
	}
	return &Client{path: path, logger: logger}, nil
}

// RequestSocketPath returns the socket the client dials.
func (c *Client) RequestSocketPath() string {
	return c.path
}

type request struct {
	ID        string          `json:"id"`
	Method    string          `json:"method"`
	DisplayID int             `json:"displayId"`
	Attach    bool            `json:"attach,omitempty"`
	Snapshot  *insets.Snapshot `json:"snapshot,omitempty"`
}

type response struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

const (
	methodRegisterController = "register_insets_controller"
	methodModifyInsets       = "modify_display_insets"
)

// RegisterEndpoint attaches (or, with a nil endpoint, detaches) the daemon as
// the inset controller for a display. The endpoint itself is invoked through
// the event stream; the wire call only flips the attachment.
func (c *Client) RegisterEndpoint(displayID int, endpoint Endpoint) error {
	return c.do(request{
		Method:    methodRegisterController,
		DisplayID: displayID,
		Attach:    endpoint != nil,
	})
}

// PushSnapshot sends the controller's inset snapshot for a display back to
// the compositor.
func (c *Client) PushSnapshot(displayID int, snapshot insets.Snapshot) error {
	snap := snapshot.Clone()
	return c.do(request{
		Method:    methodModifyInsets,
		DisplayID: displayID,
		Snapshot:  &snap,
	})
}

func (c *Client) do(req request) error {
	req.ID = uuid.NewString()
	conn, err := net.Dial("unix", c.path)
	if err != nil {
		return fmt.Errorf("connect request socket: %w", err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("write %s request %s: %w", req.Method, req.ID, err)
	}
	var resp response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("read %s response %s: %w", req.Method, req.ID, err)
	}
	if !resp.OK {
		return fmt.Errorf("%s %s rejected: %s", req.Method, req.ID, resp.Error)
	}
	c.logger.Tracef("%s acknowledged id=%s display=%d", req.Method, req.ID, req.DisplayID)
	return nil
}
