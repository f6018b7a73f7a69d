package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat",
	Short: "Send a heartbeat now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return postAction("heartbeat", nil, "Heartbeat sent")
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit [file]",
	Short: "Submit a recording as a new envelope",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

var eventCmd = &cobra.Command{
	Use:   "event [type]",
	Short: "Send a client event",
	Args:  cobra.ExactArgs(1),
	RunE:  runEvent,
}

var voteCmd = &cobra.Command{
	Use:   "vote [asset-id] [type] [value]",
	Short: "Vote on an asset",
	Args:  cobra.RangeArgs(2, 3),
	RunE:  runVote,
}

var skipCmd = &cobra.Command{
	Use:   "skip",
	Short: "Skip the playing asset",
	RunE: func(cmd *cobra.Command, args []string) error {
		return postAction("skip", nil, "Skipped")
	},
}

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Start the stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		return postPlayback("start")
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		return postPlayback("stop")
	},
}

var (
	sendNow     bool
	submitShare bool
	submittedAt string
	eventData   string
)

func init() {
	submitCmd.Flags().BoolVar(&sendNow, "now", false, "Perform immediately instead of queueing")
	submitCmd.Flags().BoolVar(&submitShare, "share", false, "Return the sharing message")
	submitCmd.Flags().StringVar(&submittedAt, "submitted", "", "Submission time, RFC 3339 (default now)")

	eventCmd.Flags().StringVar(&eventData, "data", "", "Event data")
	eventCmd.Flags().BoolVar(&sendNow, "now", false, "Perform immediately instead of queueing")

	voteCmd.Flags().BoolVar(&sendNow, "now", false, "Perform immediately instead of queueing")
}

func postAction(name string, data interface{}, done string) error {
	if _, err := apiPost("/actions/"+name, data); err != nil {
		return err
	}
	fmt.Println(done)
	return nil
}

func postPlayback(op string) error {
	if _, err := apiPost("/playback/"+op, nil); err != nil {
		return err
	}
	fmt.Printf("Playback %s requested\n", op)
	return nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	file, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	submitted := submittedAt
	if submitted == "" {
		submitted = time.Now().Format(time.RFC3339)
	} else if _, err := time.Parse(time.RFC3339, submitted); err != nil {
		return fmt.Errorf("invalid --submitted: %w", err)
	}

	body := map[string]interface{}{
		"file":      file,
		"submitted": submitted,
		"now":       sendNow,
		"share":     submitShare,
	}
	resp, err := apiDo(uploadClient, http.MethodPost, "/actions/submit", body)
	if err != nil {
		return err
	}

	var result struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}
	if sendNow {
		fmt.Println("Recording submitted")
	} else {
		fmt.Println("Recording queued for upload")
	}
	if result.Response != "" {
		fmt.Println(result.Response)
	}
	return nil
}

func runEvent(cmd *cobra.Command, args []string) error {
	body := map[string]interface{}{
		"type": args[0],
		"data": eventData,
		"now":  sendNow,
	}
	return postAction("event", body, "Event sent")
}

func runVote(cmd *cobra.Command, args []string) error {
	assetID, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid asset id %q", args[0])
	}
	body := map[string]interface{}{
		"asset_id": assetID,
		"type":     args[1],
		"now":      sendNow,
	}
	if len(args) > 2 {
		body["value"] = args[2]
	}
	return postAction("vote", body, "Vote sent")
}
