package cmd

import (
	"fmt"
	"text/tabwriter"

	"headersmanager/config"

	"github.com/spf13/cobra"
)

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Inspect storage usage or move configuration back to synced storage",
}

var storageInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show which backend holds the configuration and how much space it uses",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApplication(cmd.Context())
		if err != nil {
			return err
		}
		info, err := a.service.StorageUsage(cmd.Context())
		if err != nil {
			return err
		}

		writer := new(tabwriter.Writer)
		writer.Init(cmd.OutOrStdout(), 0, 8, 1, '\t', 0)
		fmt.Fprintf(writer, "Synced backend:\t%s\n", config.AppConfig.Storage.Primary)
		fmt.Fprintf(writer, "Active area:\t%s\n", info.Backend)
		fmt.Fprintf(writer, "Bytes used:\t%d\n", info.BytesUsed)
		fmt.Fprintf(writer, "Synced bytes:\t%d of %d (%.1f%%)\n", info.PrimaryBytes, info.QuotaBytes, info.PercentUsed)
		fmt.Fprintf(writer, "Local bytes:\t%d\n", info.SecondaryBytes)
		fmt.Fprintf(writer, "Remaining synced bytes:\t%d\n", info.RemainingBytes)
		if err := writer.Flush(); err != nil {
			return err
		}
		for _, r := range info.Recommendations {
			fmt.Fprintf(cmd.OutOrStdout(), "  * %s\n", r)
		}
		return nil
	},
}

var storageMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Move the configuration from local storage back to synced storage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApplication(cmd.Context())
		if err != nil {
			return err
		}
		if err := a.service.MigrateToPrimary(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Configuration moved to synced storage")
		return nil
	},
}

func init() {
	storageCmd.AddCommand(storageInfoCmd)
	storageCmd.AddCommand(storageMigrateCmd)
	rootCmd.AddCommand(storageCmd)
}
