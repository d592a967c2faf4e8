package cmd

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"
)

func newSetupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactively check prerequisites and scaffold state",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("checking prerequisites...")

			if _, err := exec.LookPath("claude"); err != nil {
				fmt.Println("  [warn] claude CLI not found on PATH; grind will fail until it is installed")
			} else {
				fmt.Println("  [ok] claude CLI found")
			}

			if os.Getenv("ANTHROPIC_API_KEY") == "" {
				fmt.Println("  [warn] ANTHROPIC_API_KEY is not set (the claude CLI may prompt for auth instead)")
			} else {
				fmt.Println("  [ok] ANTHROPIC_API_KEY is set")
			}

			fmt.Print("initialize .undercity state in the current directory? [Y/n] ")
			reader := bufio.NewReader(os.Stdin)
			line, _ := reader.ReadString('\n')
			answer := strings.ToLower(strings.TrimSpace(line))
			if answer == "n" || answer == "no" {
				fmt.Println("skipped state initialization")
				return nil
			}

			return newInitCommand().RunE(cmd, nil)
		},
	}
	return cmd
}
