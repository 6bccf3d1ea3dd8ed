package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var (
	sessionsAddr string
	sessionsKey  string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect a running proxy's captured session",
}

var sessionsGetCmd = &cobra.Command{
	Use:   "get <session-id>",
	Short: "Print a session's captured messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsGet,
}

var sessionsSaveCmd = &cobra.Command{
	Use:   "save <session-id> <path>",
	Short: "Save a session's captured messages to a file on the proxy host",
	Args:  cobra.ExactArgs(2),
	RunE:  runSessionsSave,
}

func init() {
	sessionsCmd.PersistentFlags().StringVar(&sessionsAddr, "addr", "http://127.0.0.1:8088", "admin API base address")
	sessionsCmd.PersistentFlags().StringVar(&sessionsKey, "key", "", "operator API key (or WIRETAP_API_KEY)")
	sessionsCmd.AddCommand(sessionsGetCmd, sessionsSaveCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsGet(cmd *cobra.Command, args []string) error {
	key := resolveAPIKey(sessionsKey)
	if key == "" {
		return fmt.Errorf("an API key is required: pass --key or set WIRETAP_API_KEY")
	}

	resp, err := adminRequest(http.MethodGet, sessionsAddr, "/v1/sessions/"+args[0], key, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printAdminResponse(resp)
}

func runSessionsSave(cmd *cobra.Command, args []string) error {
	key := resolveAPIKey(sessionsKey)
	if key == "" {
		return fmt.Errorf("an API key is required: pass --key or set WIRETAP_API_KEY")
	}

	payload, err := json.Marshal(struct {
		Path string `json:"path"`
	}{Path: args[1]})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	resp, err := adminRequest(http.MethodPost, sessionsAddr, "/v1/sessions/"+args[0]+"/save", key, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printAdminResponse(resp)
}
