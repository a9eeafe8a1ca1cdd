package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jpviola/theoagent-sub002/internal/config"
)

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send a chat message as a user",
	Long: `Send a chat message through the conversation pipeline.

Examples:
  theoagent chat --user maria "¿Qué es la Inmaculada Concepción?"
  theoagent chat --user john --tier plus "Explain the Council of Nicaea"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		message := strings.Join(args, " ")
		user, _ := cmd.Flags().GetString("user")
		tier, _ := cmd.Flags().GetString("tier")

		if user == "" {
			return fmt.Errorf("--user is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/turns", map[string]any{
			"user_id": user,
			"message": message,
			"tier":    tier,
		})
		if err != nil {
			return err
		}

		var result struct {
			Response   string          `json:"response"`
			Remaining  json.RawMessage `json:"remaining"`
			QueryCount int             `json:"query_count"`
			Complexity string          `json:"complexity_level"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Response)
		printStatus("Remaining today", "%s", string(result.Remaining))
		printStatus("Complexity", "%s (query %d)", result.Complexity, result.QueryCount)
		return nil
	},
}

func init() {
	chatCmd.Flags().String("user", "", "user identifier")
	chatCmd.Flags().String("tier", "", "subscription tier: free, plus, or expert (default free)")
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show a user's conversation statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		if user == "" {
			return fmt.Errorf("--user is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/conversation/stats?user_id="+url.QueryEscape(user))
		if err != nil {
			return err
		}

		var stats struct {
			MessageCount int    `json:"message_count"`
			Tier         string `json:"subscription_tier"`
		}
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		printStatus("Messages", "%d", stats.MessageCount)
		printStatus("Tier", "%s", stats.Tier)
		return nil
	},
}

func init() {
	statsCmd.Flags().String("user", "", "user identifier")
}

// --- clear-history ---

var clearHistoryCmd = &cobra.Command{
	Use:   "clear-history",
	Short: "Delete a user's stored conversation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		confirm, _ := cmd.Flags().GetBool("confirm")
		if user == "" {
			return fmt.Errorf("--user is required")
		}
		if !confirm {
			printWarning("This will delete the conversation history for %s. Use --confirm to proceed.", user)
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/conversation/clear", map[string]any{
			"user_id": user,
		})
		if err != nil {
			return err
		}

		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Conversation history cleared for %s", user)
		return nil
	},
}

func init() {
	clearHistoryCmd.Flags().String("user", "", "user identifier")
	clearHistoryCmd.Flags().Bool("confirm", false, "confirm deletion")
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show a user's learning profile as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		if user == "" {
			return fmt.Errorf("--user is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/profile?user_id="+url.QueryEscape(user))
		if err != nil {
			return err
		}

		var profile any
		if err := decodeJSON(resp, &profile); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(profile)
	},
}

func init() {
	profileCmd.Flags().String("user", "", "user identifier")
}

// --- quota ---

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show a user's remaining daily message allowance",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		tier, _ := cmd.Flags().GetString("tier")
		if user == "" {
			return fmt.Errorf("--user is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/v1/quota?user_id=" + url.QueryEscape(user)
		if tier != "" {
			path += "&tier=" + url.QueryEscape(tier)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var result struct {
			Allowed   bool            `json:"allowed"`
			Remaining json.RawMessage `json:"remaining"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printStatus("Allowed", "%t", result.Allowed)
		printStatus("Remaining", "%s", string(result.Remaining))
		return nil
	},
}

func init() {
	quotaCmd.Flags().String("user", "", "user identifier")
	quotaCmd.Flags().String("tier", "", "subscription tier: free, plus, or expert (default free)")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
