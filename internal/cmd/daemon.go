package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/undercity-dev/undercity/internal/config"
)

type daemonFileContents struct {
	PID       int       `json:"pid"`
	Port      string    `json:"port"`
	StartedAt time.Time `json:"startedAt"`
}

func readDaemonFile() (*daemonFileContents, error) {
	home, err := config.GetUndercityHome()
	if err != nil {
		return nil, fmt.Errorf("resolve undercity home: %w", err)
	}
	data, err := os.ReadFile(home + "/daemon.json")
	if err != nil {
		return nil, fmt.Errorf("daemon is not running: %w", err)
	}
	var df daemonFileContents
	if err := json.Unmarshal(data, &df); err != nil {
		return nil, fmt.Errorf("parse daemon.json: %w", err)
	}
	return &df, nil
}

func daemonRequest(method, path string) ([]byte, error) {
	df, err := readDaemonFile()
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("http://%s%s", df.Port, path)
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request daemon: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("daemon returned %s: %s", resp.Status, string(body))
	}
	return body, nil
}

func newDaemonCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Control a running undercity daemon",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show the running daemon's status",
			RunE: func(cmd *cobra.Command, args []string) error {
				body, err := daemonRequest(http.MethodGet, "/status")
				if err != nil {
					return err
				}
				fmt.Println(string(body))
				return nil
			},
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Request a graceful shutdown",
			RunE: func(cmd *cobra.Command, args []string) error {
				_, err := daemonRequest(http.MethodPost, "/stop")
				return err
			},
		},
		&cobra.Command{
			Use:   "pause",
			Short: "Pause dispatching new tasks",
			RunE: func(cmd *cobra.Command, args []string) error {
				_, err := daemonRequest(http.MethodPost, "/pause")
				return err
			},
		},
		&cobra.Command{
			Use:   "resume",
			Short: "Resume dispatching new tasks",
			RunE: func(cmd *cobra.Command, args []string) error {
				_, err := daemonRequest(http.MethodPost, "/resume")
				return err
			},
		},
	)
	return cmd
}
