package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"headersmanager/core"
	"headersmanager/logger"
	"headersmanager/models"

	"github.com/spf13/cobra"
)

var (
	ruleName          string
	ruleSetHeaders    []string
	ruleRemoveHeaders []string
	ruleDisabled      bool
)

var ruleCmd = &cobra.Command{
	Use:   "rule",
	Short: "Manage header rules",
	Long:  `Allows you to list, add or delete header rules. A rule is a named group of header edits.`,
}

var ruleListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List all stored header rules",
	Aliases: []string{"ls"},
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.Info("Executing 'rule list' command")
		a, err := loadApplication(cmd.Context())
		if err != nil {
			return err
		}
		cfg, err := a.service.Load(cmd.Context())
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		if len(cfg.HeaderRules) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No header rules configured.")
			return nil
		}

		writer := new(tabwriter.Writer)
		writer.Init(cmd.OutOrStdout(), 0, 8, 1, '\t', 0)
		fmt.Fprintln(writer, "ID\tNAME\tENABLED\tHEADERS")
		fmt.Fprintln(writer, "--\t----\t-------\t-------")
		for _, r := range cfg.HeaderRules {
			edits := make([]string, 0, len(r.Headers))
			for _, h := range r.Headers {
				if h.EffectiveOperation() == models.OperationRemove {
					edits = append(edits, "-"+h.Name)
				} else {
					edits = append(edits, h.Name+"="+h.Value)
				}
			}
			fmt.Fprintf(writer, "%s\t%s\t%t\t%s\n", r.ID, r.Name, r.Enabled, strings.Join(edits, "; "))
		}
		return writer.Flush()
	},
}

// parseSetHeader splits "Name: value" as accepted by --set.
func parseSetHeader(s string) (models.HeaderDirective, error) {
	name, value, ok := strings.Cut(s, ":")
	if !ok {
		return models.HeaderDirective{}, fmt.Errorf("%w: header %q must be written as 'Name: value'", core.ErrValidation, s)
	}
	return models.HeaderDirective{
		Name:      strings.TrimSpace(name),
		Operation: models.OperationSet,
		Value:     strings.TrimSpace(value),
	}, nil
}

var ruleAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a header rule",
	Example: `  headersmanager rule add --name "Test UA" --set "User-Agent: TestBot/1.0"
  headersmanager rule add --name "No Referer" --remove Referer`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rule := models.HeaderRule{Name: ruleName, Enabled: !ruleDisabled}
		for _, s := range ruleSetHeaders {
			h, err := parseSetHeader(s)
			if err != nil {
				return err
			}
			rule.Headers = append(rule.Headers, h)
		}
		for _, name := range ruleRemoveHeaders {
			rule.Headers = append(rule.Headers, models.HeaderDirective{Name: name, Operation: models.OperationRemove})
		}

		a, err := loadApplication(cmd.Context())
		if err != nil {
			return err
		}
		saved, err := a.service.SaveRule(cmd.Context(), rule)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Header rule '%s' added with ID %s\n", saved.Name, saved.ID)
		return nil
	},
}

var ruleDeleteCmd = &cobra.Command{
	Use:     "delete <rule-id>",
	Short:   "Delete a header rule",
	Aliases: []string{"rm"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApplication(cmd.Context())
		if err != nil {
			return err
		}
		if err := a.service.DeleteRule(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Header rule %s deleted\n", args[0])
		return nil
	},
}

func init() {
	ruleAddCmd.Flags().StringVarP(&ruleName, "name", "n", "", "Name of the header rule")
	ruleAddCmd.Flags().StringArrayVar(&ruleSetHeaders, "set", nil, "Header to set as 'Name: value', may be repeated")
	ruleAddCmd.Flags().StringArrayVar(&ruleRemoveHeaders, "remove", nil, "Header name to remove, may be repeated")
	ruleAddCmd.Flags().BoolVar(&ruleDisabled, "disabled", false, "Store the rule disabled")
	ruleAddCmd.MarkFlagRequired("name")

	ruleCmd.AddCommand(ruleListCmd)
	ruleCmd.AddCommand(ruleAddCmd)
	ruleCmd.AddCommand(ruleDeleteCmd)
	rootCmd.AddCommand(ruleCmd)
}
