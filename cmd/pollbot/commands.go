package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// --- daily ---

var dailyCmd = &cobra.Command{
	Use:   "daily <community>",
	Short: "Trigger the daily poll cycle for a community now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(fmt.Sprintf("/communities/%s/daily", args[0]), nil)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Daily cycle ran for %s", args[0])
		return nil
	},
}

// --- resolve ---

var resolveCmd = &cobra.Command{
	Use:   "resolve <community>",
	Short: "Force-resolve the community's last poll and clear it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(fmt.Sprintf("/communities/%s/resolve", args[0]), nil)
		if err != nil {
			return err
		}

		var result struct {
			Status        string `json:"status"`
			CorrectVoters int    `json:"correct_voters"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		switch result.Status {
		case "resolved":
			printSuccess("Resolved: %d correct voter(s) awarded", result.CorrectVoters)
		case "nothing_to_resolve":
			printWarning("Nothing to resolve")
		default:
			printWarning("Resolution finished with status %q", result.Status)
		}
		return nil
	},
}

// --- relink ---

var relinkCmd = &cobra.Command{
	Use:   "relink <community> <message-id> <correct-option>",
	Short: "Repoint the last-poll record at an existing poll message",
	Long: `Repoint the last-poll record at an existing poll message.

The correct option is 1-based, as the options appear in the poll.
Use this when the stored record went stale (poll deleted, duplicate
post) and follow with "pollbot resolve" to tally it immediately.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		correct, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("correct-option must be a number: %w", err)
		}
		channel, _ := cmd.Flags().GetString("channel")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{
			"message_id":     args[1],
			"correct_option": correct,
		}
		if channel != "" {
			body["channel_id"] = channel
		}

		resp, err := client.post(fmt.Sprintf("/communities/%s/relink", args[0]), body)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Relinked %s to message %s", args[0], args[1])
		return nil
	},
}

// --- ondemand ---

var ondemandCmd = &cobra.Command{
	Use:   "ondemand",
	Short: "Manage on-demand (non-scoring) polls",
}

var ondemandStartCmd = &cobra.Command{
	Use:   "start <community>",
	Short: "Post an on-demand poll",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(fmt.Sprintf("/communities/%s/ondemand/start", args[0]), nil)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("On-demand poll posted for %s", args[0])
		return nil
	},
}

var ondemandRevealCmd = &cobra.Command{
	Use:   "reveal <community>",
	Short: "Reveal the active on-demand poll's answer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(fmt.Sprintf("/communities/%s/ondemand/reveal", args[0]), nil)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("On-demand poll revealed for %s", args[0])
		return nil
	},
}

func init() {
	relinkCmd.Flags().String("channel", "", "channel ID the message lives in (defaults to the configured trivia channel)")
	ondemandCmd.AddCommand(ondemandStartCmd)
	ondemandCmd.AddCommand(ondemandRevealCmd)
}

// --- weekly ---

var weeklyCmd = &cobra.Command{
	Use:   "weekly <community>",
	Short: "Post the weekly standings summary now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(fmt.Sprintf("/communities/%s/weekly", args[0]), nil)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Weekly summary posted for %s", args[0])
		return nil
	},
}

// --- leaderboard ---

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard <community>",
	Short: "Show a community's leaderboard",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(fmt.Sprintf("/communities/%s/leaderboard?limit=%d", args[0], limit))
		if err != nil {
			return err
		}

		var standings []struct {
			UserID string `json:"user_id"`
			Score  int    `json:"score"`
		}
		if err := decodeJSON(resp, &standings); err != nil {
			return err
		}

		if len(standings) == 0 {
			printWarning("No scores yet for %s", args[0])
			return nil
		}
		for i, s := range standings {
			fmt.Fprintf(os.Stdout, "%2d. %s — %d\n", i+1, s.UserID, s.Score)
		}
		return nil
	},
}

// --- score ---

var scoreCmd = &cobra.Command{
	Use:   "score <community> <user-id>",
	Short: "Adjust a user's score",
	Long: `Adjust a user's score.

Exactly one of --add, --remove, or --set is required. Scores never go
below zero; removals are floored.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		add, _ := cmd.Flags().GetInt("add")
		remove, _ := cmd.Flags().GetInt("remove")
		set, _ := cmd.Flags().GetInt("set")
		setChanged := cmd.Flags().Changed("set")

		var action string
		var amount int
		used := 0
		if add > 0 {
			action, amount = "add", add
			used++
		}
		if remove > 0 {
			action, amount = "remove", remove
			used++
		}
		if setChanged {
			action, amount = "set", set
			used++
		}
		if used != 1 {
			return fmt.Errorf("exactly one of --add, --remove, or --set is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(fmt.Sprintf("/communities/%s/score", args[0]), map[string]any{
			"user_id": args[1],
			"action":  action,
			"amount":  amount,
		})
		if err != nil {
			return err
		}

		var result struct {
			UserID string `json:"user_id"`
			Score  int    `json:"score"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("%s now has %d point(s)", result.UserID, result.Score)
		return nil
	},
}

func init() {
	leaderboardCmd.Flags().Int("limit", 10, "maximum entries to show")
	scoreCmd.Flags().Int("add", 0, "points to add")
	scoreCmd.Flags().Int("remove", 0, "points to remove (floored at zero)")
	scoreCmd.Flags().Int("set", 0, "score to set exactly")
}

// --- knowledge ---

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Manage community notes used in chat answers",
}

var knowledgeAddCmd = &cobra.Command{
	Use:   "add <community> <text>",
	Short: "Add a community note",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		content := strings.Join(args[1:], " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(fmt.Sprintf("/communities/%s/knowledge", args[0]), map[string]string{
			"content": content,
		})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Added note %s", result["id"])
		return nil
	},
}

var knowledgeListCmd = &cobra.Command{
	Use:   "list <community>",
	Short: "List community notes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(fmt.Sprintf("/communities/%s/knowledge", args[0]))
		if err != nil {
			return err
		}

		var docs []struct {
			ID      string `json:"id"`
			Content string `json:"content"`
		}
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}

		if len(docs) == 0 {
			printWarning("No notes for %s", args[0])
			return nil
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(docs)
	},
}

var knowledgeRemoveCmd = &cobra.Command{
	Use:   "rm <community> <note-id>",
	Short: "Delete a community note",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(fmt.Sprintf("/communities/%s/knowledge/%s", args[0], args[1]))
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Deleted note %s", args[1])
		return nil
	},
}

func init() {
	knowledgeCmd.AddCommand(knowledgeAddCmd)
	knowledgeCmd.AddCommand(knowledgeListCmd)
	knowledgeCmd.AddCommand(knowledgeRemoveCmd)
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <prompt>",
	Short: "Ask the bot a question through the running server",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		community, _ := cmd.Flags().GetString("community")
		channel, _ := cmd.Flags().GetString("channel")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/ask", map[string]any{
			"community_id": community,
			"channel_id":   channel,
			"author_id":    "cli",
			"prompt":       strings.Join(args, " "),
		})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, result["reply"])
		return nil
	},
}

func init() {
	askCmd.Flags().String("community", "", "community ID for knowledge-base context")
	askCmd.Flags().String("channel", "", "channel ID a deferred answer should land in")
}
