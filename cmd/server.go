package cmd

import (
	"context"
	"net/http"

	"headersmanager/api"
	"headersmanager/config"
	"headersmanager/logger"

	"github.com/spf13/cobra"
)

var standaloneServerPort string

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Starts the API server without the proxy",
	RunE: func(cmd *cobra.Command, args []string) error {
		portToUse := standaloneServerPort
		if !cmd.Flags().Changed("port") {
			portToUse = config.AppConfig.Server.Port
		}
		if portToUse == "" {
			portToUse = "8778"
		}

		ctx := context.Background()
		a, err := loadApplication(ctx)
		if err != nil {
			return err
		}
		a.run(ctx)

		logger.Info("Server Command: Listening on :%s", portToUse)
		if err := http.ListenAndServe(":"+portToUse, api.NewServer(a.handlers())); err != nil {
			logger.Error("Could not start server: %v", err)
			return err
		}
		return nil
	},
}

func init() {
	serverCmd.Flags().StringVarP(&standaloneServerPort, "port", "p", "8778", "Port for the server to listen on (overrides config)")
	rootCmd.AddCommand(serverCmd)
}
