package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fentz26/rwclient/internal/models"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the pending action queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending actions, oldest first",
	RunE:  runQueueList,
}

var queueCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of pending actions",
	RunE:  runQueueCount,
}

var queuePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Drop every pending action",
	RunE:  runQueuePurge,
}

func init() {
	queueCmd.AddCommand(queueListCmd, queueCountCmd, queuePurgeCmd)
}

func fetchQueue() ([]models.QueueEntry, error) {
	resp, err := apiGet("/queue")
	if err != nil {
		return nil, err
	}
	var entries []models.QueueEntry
	if err := json.Unmarshal(resp, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func runQueueList(cmd *cobra.Command, args []string) error {
	entries, err := fetchQueue()
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("Queue is empty")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tOPERATION\tLABEL\tFILE\tQUEUED")
	for _, e := range entries {
		file := ""
		if e.Filename != "" {
			file = fmt.Sprintf("%s (%s)", e.Filename, humanize.Bytes(uint64(e.SizeBytes)))
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", e.ID, e.Operation, truncate(e.Label, 30), file, ago(e.CreatedAt.IsZero(), e.CreatedAt))
	}
	w.Flush()
	return nil
}

func runQueueCount(cmd *cobra.Command, args []string) error {
	entries, err := fetchQueue()
	if err != nil {
		return err
	}
	fmt.Println(len(entries))
	return nil
}

func runQueuePurge(cmd *cobra.Command, args []string) error {
	if _, err := apiDelete("/queue"); err != nil {
		return err
	}
	fmt.Println("Queue purged")
	return nil
}

// --- Helpers ---

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func ago(never bool, t time.Time) string {
	if never {
		return "never"
	}
	return humanize.Time(t)
}
