package cmd

import (
	"context"
	"fmt"

	"headersmanager/config"
	"headersmanager/core"
	"headersmanager/logger"

	"github.com/spf13/cobra"
)

var standaloneProxyPort string

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Manages the MITM proxy server (can be run standalone or as part of 'start')",
}

var proxyStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Starts the MITM proxy server",
	Long: `Starts the Man-in-the-Middle proxy that rewrites request headers for configured websites.
You will need to configure your browser or system to use this proxy.
A CA certificate must be generated (using 'proxy init-ca') and trusted by your client.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		portToUse := standaloneProxyPort
		if !cmd.Flags().Changed("port") {
			portToUse = config.AppConfig.Proxy.Port
		}
		if portToUse == "" {
			portToUse = "8777"
		}

		caCertPath := config.AppConfig.Proxy.CACertPath
		caKeyPath := config.AppConfig.Proxy.CAKeyPath
		if caCertPath == "" || caKeyPath == "" {
			return fmt.Errorf("proxy CA certificate or key path not configured; check config or run 'proxy init-ca' first")
		}
		logger.ProxyInfo("Proxy using CA Cert: %s, CA Key: %s", caCertPath, caKeyPath)

		ctx := context.Background()
		a, err := loadApplication(ctx)
		if err != nil {
			return err
		}
		a.run(ctx)

		if err := core.StartMitmProxy(portToUse, caCertPath, caKeyPath, a.table); err != nil {
			logger.ProxyError("Error starting proxy: %v", err)
			return err
		}
		return nil
	},
}

var proxyInitCACmd = &cobra.Command{
	Use:   "init-ca",
	Short: "Initializes (generates) the root CA certificate and key for the MITM proxy",
	RunE: func(cmd *cobra.Command, args []string) error {
		certPath := config.AppConfig.Proxy.CACertPath
		keyPath := config.AppConfig.Proxy.CAKeyPath
		if certPath == "" || keyPath == "" {
			return fmt.Errorf("CA certificate or key path is not defined in configuration")
		}
		if err := core.GenerateAndSaveCA(certPath, keyPath); err != nil {
			return fmt.Errorf("generating CA: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "CA certificate saved to %s\nCA private key saved to %s\n", certPath, keyPath)
		fmt.Fprintln(cmd.OutOrStdout(), "Please import the CA certificate into your browser/system's trust store.")
		return nil
	},
}

func init() {
	proxyStartCmd.Flags().StringVarP(&standaloneProxyPort, "port", "p", "8777", "Port for the proxy server to listen on (overrides config)")

	proxyCmd.AddCommand(proxyStartCmd)
	proxyCmd.AddCommand(proxyInitCACmd)
	rootCmd.AddCommand(proxyCmd)
}
