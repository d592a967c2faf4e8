package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/undercity-dev/undercity/internal/models"
)

var oracleCategories = []models.LearningCategory{
	models.LearningPattern,
	models.LearningFact,
	models.LearningGotcha,
	models.LearningConstraint,
	models.LearningApproach,
}

func newOracleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oracle [situation]",
		Short: "Surface learnings relevant to a described situation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			situation := strings.Join(args, " ")
			keywords := strings.Fields(strings.ToLower(situation))

			ctx := cmd.Context()
			var found bool
			for _, category := range oracleCategories {
				learnings, err := a.Knowledge.RelevantLearnings(ctx, category, keywords)
				if err != nil {
					return fmt.Errorf("query %s learnings: %w", category, err)
				}
				for _, l := range learnings {
					found = true
					fmt.Printf("[%s] %s (confidence %.2f)\n", l.Category, l.Content, l.Confidence)
				}
			}
			if !found {
				fmt.Println("no relevant learnings found")
			}
			return nil
		},
	}
	return cmd
}
