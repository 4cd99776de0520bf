package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"headersmanager/core"
	"headersmanager/logger"

	"github.com/spf13/cobra"
)

var (
	exportOutput string
	clearConfirm bool
	compileJSON  bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Import, export, clear or preview the stored configuration",
}

var configExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export websites and header rules as JSON",
	Long: `Writes the stored websites and header rules as an export file. Without --output the
file is named headers-manager-config-YYYY-MM-DD.json in the current directory. Use
--output - to write to stdout.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApplication(cmd.Context())
		if err != nil {
			return err
		}
		body, err := a.service.Export(cmd.Context())
		if err != nil {
			return err
		}

		if exportOutput == "-" {
			_, err = cmd.OutOrStdout().Write(append(body, '\n'))
			return err
		}
		path := exportOutput
		if path == "" {
			path = fmt.Sprintf("headers-manager-config-%s.json", time.Now().UTC().Format("2006-01-02"))
		}
		if err := os.WriteFile(path, body, 0o644); err != nil {
			return fmt.Errorf("writing export file: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration exported to %s\n", path)
		return nil
	},
}

var configImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace websites and header rules with the contents of an export file",
	Long:  `Imports an export file. Use - to read from stdin. Invalid files leave the stored configuration untouched.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			body []byte
			err  error
		)
		if args[0] == "-" {
			body, err = io.ReadAll(cmd.InOrStdin())
		} else {
			body, err = os.ReadFile(args[0])
		}
		if err != nil {
			return fmt.Errorf("reading import file: %w", err)
		}

		a, err := loadApplication(cmd.Context())
		if err != nil {
			return err
		}
		cfg, err := a.service.Import(cmd.Context(), body)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d websites and %d header rules\n", len(cfg.Websites), len(cfg.HeaderRules))
		return nil
	},
}

var configClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all websites and header rules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !clearConfirm {
			return fmt.Errorf("refusing to clear configuration without --yes")
		}
		a, err := loadApplication(cmd.Context())
		if err != nil {
			return err
		}
		if err := a.service.ClearAll(cmd.Context()); err != nil {
			return err
		}
		logger.Info("Configuration cleared from CLI")
		fmt.Fprintln(cmd.OutOrStdout(), "All websites and header rules deleted")
		return nil
	},
}

var configCompileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Show the header directives the current configuration compiles to",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApplication(cmd.Context())
		if err != nil {
			return err
		}
		cfg, err := a.service.Load(cmd.Context())
		if err != nil {
			return err
		}

		directives, sources := core.NewCompiler().CompileWithSources(cfg.Websites, cfg.HeaderRules)
		if compileJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(directives)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d directives\n", core.CountDirectives(cfg.Websites, cfg.HeaderRules))
		for i, d := range directives {
			src := sources[i]
			edit := d.Action.RequestHeaders[0]
			value := ""
			if edit.Value != nil {
				value = " " + *edit.Value
			}
			fmt.Fprintf(out, "  [%d] %s %s%s  url=%s  (%s / %s)\n",
				d.ID, edit.Operation, edit.Header, value, d.Condition.URLFilter, src.Website, src.Rule)
		}
		return nil
	},
}

func init() {
	configExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file, - for stdout")
	configClearCmd.Flags().BoolVarP(&clearConfirm, "yes", "y", false, "Confirm deleting all configuration")
	configCompileCmd.Flags().BoolVar(&compileJSON, "json", false, "Print the directives as JSON")

	configCmd.AddCommand(configExportCmd)
	configCmd.AddCommand(configImportCmd)
	configCmd.AddCommand(configClearCmd)
	configCmd.AddCommand(configCompileCmd)
	rootCmd.AddCommand(configCmd)
}
