package main

import (
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/fentz26/rwclient/internal/models"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the session status",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	health, err := CheckHealth()
	if err != nil && health == nil {
		return err
	}

	resp, err := apiGet("/status")
	if err != nil {
		return err
	}
	var st models.Status
	if err := json.Unmarshal(resp, &st); err != nil {
		return err
	}

	fmt.Printf("State:          %s (since %s)\n", st.State, ago(st.LastStateChange.IsZero(), st.LastStateChange))
	fmt.Printf("Session:        %s\n", st.SessionID)
	if st.ProjectName != "" {
		fmt.Printf("Project:        %s (%s)\n", st.ProjectName, st.ProjectID)
	} else {
		fmt.Printf("Project:        %s\n", st.ProjectID)
	}
	fmt.Printf("Configuration:  %s\n", st.ConfigSource)
	fmt.Printf("Tags:           %s\n", st.TagsSource)
	fmt.Printf("Connected:      %t (wifi only: %t)\n", st.Connected, st.OnlyConnectOverWifi)
	fmt.Printf("Last request:   %s\n", ago(st.LastRequest.IsZero(), st.LastRequest))
	fmt.Printf("Queued actions: %s\n", humanize.Comma(int64(st.QueueSize)))
	fmt.Printf("Playing:        %t", st.Playing)
	if st.StaticSoundtrack {
		fmt.Print(" (static soundtrack)")
	}
	fmt.Println()
	if st.CurrentAssetID > 0 {
		fmt.Printf("Current asset:  %d\n", st.CurrentAssetID)
	}
	fmt.Printf("Database:       %s\n", health.DB)
	fmt.Printf("Daemon version: %s\n", health.Version)
	return nil
}
