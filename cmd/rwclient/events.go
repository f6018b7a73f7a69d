package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/fentz26/rwclient/internal/tui"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Follow the daemon event feed",
	RunE:  runEvents,
}

var eventKind string

func init() {
	eventsCmd.Flags().StringVar(&eventKind, "kind", "", "Only show events whose kind starts with this prefix")
}

func runEvents(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, DefaultClientTimeout)
	conn, err := tui.NewClient(apiAddr).DialEvents(dialCtx, eventKind)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	for {
		var msg struct {
			Kind    string          `json:"kind"`
			Time    time.Time       `json:"time"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("event feed: %w", err)
		}
		payload := string(msg.Payload)
		if payload == "" || payload == "null" {
			payload = "{}"
		}
		fmt.Printf("%s  %-28s %s\n", msg.Time.Local().Format("15:04:05"), msg.Kind, payload)
	}
}
