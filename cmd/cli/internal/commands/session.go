package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/wolfeidau/deskpool/internal/api"
	"github.com/wolfeidau/deskpool/internal/models"
)

type CreateCmd struct {
	ClientFlags `embed:""`

	Owner   string        `help:"Owner of the session" required:"" env:"DESKPOOL_OWNER"`
	Task    int64         `help:"Task id to associate with the session"`
	Timeout time.Duration `name:"session-timeout" help:"Session lifetime, the server default when zero" default:"0s"`
}

func (c *CreateCmd) Run(ctx context.Context, globals *Globals) error {
	clients, err := c.clients(globals)
	if err != nil {
		return err
	}

	req := &api.CreateSessionRequest{
		UserID:         c.Owner,
		TimeoutMinutes: int(c.Timeout / time.Minute),
	}
	if c.Task != 0 {
		req.TaskID = &c.Task
	}

	info, err := clients.Sessions.Create(ctx, req)
	if err != nil {
		return describeError("create session", err)
	}

	if c.JSON {
		return printJSON(globals.Out, info)
	}

	printConnectionInfo(globals.Out, info)
	return nil
}

type DestroyCmd struct {
	ClientFlags `embed:""`

	SessionID string `arg:"" help:"Session ID to destroy"`
}

func (d *DestroyCmd) Run(ctx context.Context, globals *Globals) error {
	clients, err := d.clients(globals)
	if err != nil {
		return err
	}

	resp, err := clients.Sessions.Destroy(ctx, d.SessionID)
	if err != nil {
		return describeError("destroy session", err)
	}

	if d.JSON {
		return printJSON(globals.Out, resp)
	}

	fmt.Fprintf(globals.Out, "%s: %s\n", resp.Message, d.SessionID)
	return nil
}

type GetCmd struct {
	ClientFlags `embed:""`

	SessionID string `arg:"" help:"Session ID to show"`
}

func (g *GetCmd) Run(ctx context.Context, globals *Globals) error {
	clients, err := g.clients(globals)
	if err != nil {
		return err
	}

	info, err := clients.Sessions.Get(ctx, g.SessionID)
	if err != nil {
		return describeError("get session", err)
	}

	if g.JSON {
		return printJSON(globals.Out, info)
	}

	printConnectionInfo(globals.Out, info)
	return nil
}

func printConnectionInfo(w io.Writer, info *models.ConnectionInfo) {
	if info.Reused {
		fmt.Fprintln(w, "Reusing existing session")
	}
	fmt.Fprintf(w, "Session:  %s\n", info.SessionID)
	if info.OwnerID != "" {
		fmt.Fprintf(w, "Owner:    %s\n", info.OwnerID)
	}
	if info.TaskID != nil {
		fmt.Fprintf(w, "Task:     %d\n", *info.TaskID)
	}
	fmt.Fprintf(w, "Status:   %s\n", info.Status)
	fmt.Fprintf(w, "Display:  :%d\n", info.Display)
	fmt.Fprintf(w, "VNC port: %d\n", info.VNCPort)
	fmt.Fprintf(w, "Web port: %d\n", info.WebPort)
	fmt.Fprintf(w, "Password: %s\n", info.Credential)
	fmt.Fprintf(w, "VNC URL:  %s\n", info.VNCURL)
	fmt.Fprintf(w, "Web URL:  %s\n", info.WebURL)
}
