package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/blipkit/blip/pkg/blip"
	"github.com/blipkit/blip/pkg/transport"
	"github.com/spf13/cobra"
)

func connectCmd() *cobra.Command {
	var (
		profile  string
		body     string
		props    []string
		noReply  bool
		urgent   bool
		timeout  time.Duration
		header   http.Header
	)

	cmd := &cobra.Command{
		Use:   "connect <url>",
		Short: "Send a single BLIP request to a server and print the response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			conn, _, err := transport.Dial(ctx, args[0], transport.DialOptions{Header: header})
			if err != nil {
				return fmt.Errorf("dial: %w", err)
			}

			connection := blip.NewConnection(conn)
			defer connection.Close(1000, "done")

			mb := blip.NewRequest(profile)
			for _, p := range props {
				k, v, ok := splitProperty(p)
				if !ok {
					return fmt.Errorf("invalid --property %q, want key=value", p)
				}
				mb.SetProperty(k, v)
			}
			if urgent {
				mb.Urgent()
			}
			if noReply {
				mb.NoReply()
			}
			mb.SetBody([]byte(body))

			future := connection.Send(mb)
			stop := context.AfterFunc(ctx, future.Cancel)
			defer stop()
			if noReply {
				fmt.Fprintln(os.Stdout, "sent (no reply expected)")
				return nil
			}

			reply, err := future.Await()
			if err != nil {
				return fmt.Errorf("await reply: %w", err)
			}
			if reply.IsError() {
				e := reply.GetError()
				return fmt.Errorf("server error %s/%d: %s", e.Domain, e.Code, e.Message)
			}
			fmt.Fprintln(os.Stdout, string(reply.Body()))
			return nil
		},
	}

	cmd.Flags().StringVar(&profile, "profile", "", "BLIP Profile property for the request")
	cmd.Flags().StringVar(&body, "body", "", "request body")
	cmd.Flags().StringArrayVar(&props, "property", nil, "additional key=value property (repeatable)")
	cmd.Flags().BoolVar(&noReply, "no-reply", false, "mark the request NoReply and don't wait for a response")
	cmd.Flags().BoolVar(&urgent, "urgent", false, "mark the request Urgent")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "time to wait for the handshake and reply")
	cmd.MarkFlagRequired("profile")

	return cmd
}

func splitProperty(s string) (key, value string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
