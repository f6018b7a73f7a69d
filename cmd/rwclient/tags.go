package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/fentz26/rwclient/internal/models"
	"github.com/fentz26/rwclient/internal/tags"
	"github.com/spf13/cobra"
)

var tagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "Inspect and change the tag selection",
}

var tagsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tag options and their selection state",
	RunE:  runTagsList,
}

var tagsSelectCmd = &cobra.Command{
	Use:   "select [mode] [tag-id]",
	Short: "Select a tag option",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return changeTag(args[0], args[1], "select")
	},
}

var tagsDeselectCmd = &cobra.Command{
	Use:   "deselect [mode] [tag-id]",
	Short: "Deselect a tag option",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return changeTag(args[0], args[1], "deselect")
	},
}

var tagsValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that every tag has a valid selection",
	RunE:  runTagsValidate,
}

var tagsMode string

func init() {
	tagsCmd.AddCommand(tagsListCmd, tagsSelectCmd, tagsDeselectCmd, tagsValidateCmd)

	tagsListCmd.Flags().StringVar(&tagsMode, "mode", string(tags.ModeListen), "Tag mode (listen, speak)")
}

func parseMode(s string) (tags.Mode, error) {
	for _, m := range tags.Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown mode %q (want listen or speak)", s)
}

func runTagsList(cmd *cobra.Command, args []string) error {
	mode, err := parseMode(tagsMode)
	if err != nil {
		return err
	}

	resp, err := apiGet("/tags/" + string(mode))
	if err != nil {
		return err
	}
	catalog, err := tags.Parse(resp, models.SourceFromServer)
	if err != nil {
		return err
	}
	list := tags.NewList(catalog, mode)

	if list.Len() == 0 {
		fmt.Printf("No %s tags\n", mode)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTAG\tOPTION\tSELECTED")
	for _, it := range list.Items() {
		mark := ""
		if it.On() {
			mark = "*"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", it.TagID, it.Tag.Code, truncate(it.Text, 40), mark)
	}
	w.Flush()
	return nil
}

func changeTag(modeArg, idArg, op string) error {
	mode, err := parseMode(modeArg)
	if err != nil {
		return err
	}
	tagID, err := strconv.Atoi(idArg)
	if err != nil {
		return fmt.Errorf("invalid tag id %q", idArg)
	}

	resp, err := apiPost(fmt.Sprintf("/tags/%s/%d/%s", mode, tagID, op), nil)
	if err != nil {
		return err
	}
	var result struct {
		Changed bool `json:"changed"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}

	if result.Changed {
		fmt.Printf("Tag %d: %sed\n", tagID, op)
	} else {
		fmt.Printf("Tag %d: unchanged\n", tagID)
	}
	return nil
}

func runTagsValidate(cmd *cobra.Command, args []string) error {
	invalid := 0
	for _, mode := range tags.Modes {
		resp, err := apiGet("/tags/" + string(mode) + "/valid")
		if err != nil {
			return err
		}
		var result struct {
			Valid bool `json:"valid"`
		}
		if err := json.Unmarshal(resp, &result); err != nil {
			return err
		}
		state := "valid"
		if !result.Valid {
			state = "invalid"
			invalid++
		}
		fmt.Printf("%-7s %s\n", mode, state)
	}
	if invalid > 0 {
		return fmt.Errorf("%d tag selection(s) need attention", invalid)
	}
	return nil
}
