package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	replayAddr     string
	replayKey      string
	replayProxyID  string
	replayFile     string
	replayDeadline int
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Reissue a captured or supplied request to a running proxy",
	Long: `Ask a running wiretap instance to reissue a request to the upstream
server and print its response, without disturbing the original request's
client.

One of --proxy-id (replay a previously captured message) or --file (replay
an arbitrary JSON-RPC request read from a file, or "-" for stdin) is
required.

Example:
  wiretap replay --addr http://127.0.0.1:8088 --key wtap_xxx --proxy-id 1f2e...`,
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayAddr, "addr", "http://127.0.0.1:8088", "admin API base address")
	replayCmd.Flags().StringVar(&replayKey, "key", "", "operator API key (or WIRETAP_API_KEY)")
	replayCmd.Flags().StringVar(&replayProxyID, "proxy-id", "", "proxy id of a previously captured message to replay")
	replayCmd.Flags().StringVar(&replayFile, "file", "", "file containing a JSON-RPC request to replay (\"-\" for stdin)")
	replayCmd.Flags().IntVar(&replayDeadline, "deadline-ms", 0, "override the replay timeout in milliseconds")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	key := resolveAPIKey(replayKey)
	if key == "" {
		return fmt.Errorf("an API key is required: pass --key or set WIRETAP_API_KEY")
	}
	if replayProxyID == "" && replayFile == "" {
		return fmt.Errorf("one of --proxy-id or --file is required")
	}

	body := struct {
		ProxyID    string          `json:"proxy_id,omitempty"`
		Envelope   json.RawMessage `json:"envelope,omitempty"`
		DeadlineMS int             `json:"deadline_ms,omitempty"`
	}{
		ProxyID:    replayProxyID,
		DeadlineMS: replayDeadline,
	}

	if replayFile != "" {
		raw, err := readEnvelopeFile(replayFile)
		if err != nil {
			return fmt.Errorf("read envelope: %w", err)
		}
		body.Envelope = raw
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	resp, err := adminRequest(http.MethodPost, replayAddr, "/v1/replay", key, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return printAdminResponse(resp)
}

func readEnvelopeFile(path string) (json.RawMessage, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func resolveAPIKey(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("WIRETAP_API_KEY")
}

func adminRequest(method, addr, path, key string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, addr+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	return client.Do(req)
}

func printAdminResponse(resp *http.Response) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(raw))
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("admin API returned %s", resp.Status)
	}
	return nil
}
