package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"headersmanager/logger"
	"headersmanager/models"

	"github.com/spf13/cobra"
)

var (
	websiteName     string
	websiteURLs     []string
	websiteRules    []string
	websiteDisabled bool
)

var websiteCmd = &cobra.Command{
	Use:     "website",
	Short:   "Manage websites that header rules apply to",
	Long:    `Allows you to list, add, enable, disable or delete websites and to attach header rules to them.`,
	Aliases: []string{"w", "site"},
}

var websiteListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List all stored websites",
	Aliases: []string{"ls"},
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.Info("Executing 'website list' command")
		a, err := loadApplication(cmd.Context())
		if err != nil {
			return err
		}
		cfg, err := a.service.Load(cmd.Context())
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		if len(cfg.Websites) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No websites configured.")
			return nil
		}

		writer := new(tabwriter.Writer)
		writer.Init(cmd.OutOrStdout(), 0, 8, 1, '\t', 0)
		fmt.Fprintln(writer, "ID\tNAME\tENABLED\tURLS\tRULES")
		fmt.Fprintln(writer, "--\t----\t-------\t----\t-----")
		for _, w := range cfg.Websites {
			fmt.Fprintf(writer, "%s\t%s\t%t\t%s\t%s\n", w.ID, w.Name, w.Enabled,
				strings.Join(w.URLs, ","), strings.Join(w.EnabledRules, ","))
		}
		return writer.Flush()
	},
}

var websiteAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a website",
	Example: `  headersmanager website add --name "Local Development" --url "http://localhost:*" --rule cors-basic
  headersmanager website add --name Staging --url "https://*.staging.example.com" --disabled`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApplication(cmd.Context())
		if err != nil {
			return err
		}
		saved, err := a.service.SaveWebsite(cmd.Context(), models.Website{
			Name:         websiteName,
			Enabled:      !websiteDisabled,
			URLs:         websiteURLs,
			EnabledRules: websiteRules,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Website '%s' added with ID %s\n", saved.Name, saved.ID)
		return nil
	},
}

var websiteDeleteCmd = &cobra.Command{
	Use:     "delete <website-id>",
	Short:   "Delete a website",
	Aliases: []string{"rm"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApplication(cmd.Context())
		if err != nil {
			return err
		}
		if err := a.service.DeleteWebsite(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Website %s deleted\n", args[0])
		return nil
	},
}

func websiteToggleCmd(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <website-id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a website",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApplication(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.service.ToggleWebsite(cmd.Context(), args[0], enabled); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Website %s %sd\n", args[0], use)
			return nil
		},
	}
}

var websiteRuleCmd = &cobra.Command{
	Use:   "rule",
	Short: "Attach or detach header rules on a website",
}

func websiteRuleToggleCmd(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <website-id> <rule-id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a header rule for a website",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApplication(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.service.ToggleWebsiteRule(cmd.Context(), args[0], args[1], enabled); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rule %s %sd for website %s\n", args[1], use, args[0])
			return nil
		},
	}
}

func init() {
	websiteAddCmd.Flags().StringVarP(&websiteName, "name", "n", "", "Name of the website")
	websiteAddCmd.Flags().StringSliceVarP(&websiteURLs, "url", "u", nil, "URL pattern, may be repeated")
	websiteAddCmd.Flags().StringSliceVarP(&websiteRules, "rule", "r", nil, "Header rule ID to enable, may be repeated")
	websiteAddCmd.Flags().BoolVar(&websiteDisabled, "disabled", false, "Store the website disabled")
	websiteAddCmd.MarkFlagRequired("url")

	websiteRuleCmd.AddCommand(websiteRuleToggleCmd("enable", true))
	websiteRuleCmd.AddCommand(websiteRuleToggleCmd("disable", false))

	websiteCmd.AddCommand(websiteListCmd)
	websiteCmd.AddCommand(websiteAddCmd)
	websiteCmd.AddCommand(websiteDeleteCmd)
	websiteCmd.AddCommand(websiteToggleCmd("enable", true))
	websiteCmd.AddCommand(websiteToggleCmd("disable", false))
	websiteCmd.AddCommand(websiteRuleCmd)
	rootCmd.AddCommand(websiteCmd)
}
