package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"headersmanager/api"
	"headersmanager/config"
	"headersmanager/core"
	"headersmanager/logger"

	"github.com/spf13/cobra"
)

var (
	startServerPort string
	startProxyPort  string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Starts all headersmanager services (API server and MITM proxy)",
	Long: `Starts both the API server and the MITM proxy concurrently. The proxy applies the
installed header directives to every request passing through it.
Press Ctrl+C to gracefully shut down all services.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		actualServerPort := startServerPort
		if !cmd.Flags().Changed("server-port") {
			actualServerPort = config.AppConfig.Server.Port
		}
		if actualServerPort == "" {
			actualServerPort = "8778"
		}
		actualProxyPort := startProxyPort
		if !cmd.Flags().Changed("proxy-port") {
			actualProxyPort = config.AppConfig.Proxy.Port
		}
		if actualProxyPort == "" {
			actualProxyPort = "8777"
		}
		logger.Info("Start Command: Final ports determined - Server: %s, Proxy: %s", actualServerPort, actualProxyPort)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		a, err := loadApplication(ctx)
		if err != nil {
			return err
		}
		a.run(ctx)

		var wg sync.WaitGroup

		// --- Start API Server Goroutine ---
		wg.Add(1)
		go func(parentCtx context.Context) {
			defer wg.Done()
			server := &http.Server{
				Addr:    ":" + actualServerPort,
				Handler: api.NewServer(a.handlers()),
			}

			go func() {
				<-parentCtx.Done()
				logger.Info("Start Command Goroutine(API): Shutdown signal received...")
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					logger.Error("Start Command Goroutine(API): Graceful shutdown failed: %v", err)
				} else {
					logger.Info("Start Command Goroutine(API): Gracefully stopped.")
				}
			}()

			logger.Info("Start Command Goroutine(API): Listening on :%s", actualServerPort)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Start Command Goroutine(API): ListenAndServe error: %v", err)
				cancel()
			}
		}(ctx)

		// --- Start MITM Proxy Goroutine ---
		wg.Add(1)
		go func(parentCtx context.Context) {
			defer wg.Done()
			caCertPath := config.AppConfig.Proxy.CACertPath
			caKeyPath := config.AppConfig.Proxy.CAKeyPath
			if caCertPath == "" || caKeyPath == "" {
				logger.Error("Start Command Goroutine(Proxy): CA certificate or key path not configured. Check config or run 'proxy init-ca' first.")
				cancel()
				return
			}

			proxyErrChan := make(chan error, 1)
			go func() {
				proxyErrChan <- core.StartMitmProxy(actualProxyPort, caCertPath, caKeyPath, a.table)
			}()

			select {
			case err := <-proxyErrChan:
				if err != nil {
					logger.Error("Start Command Goroutine(Proxy): core.StartMitmProxy returned error: %v", err)
					cancel()
				}
			case <-parentCtx.Done():
				logger.ProxyInfo("Start Command Goroutine(Proxy): Shutdown signal received...")
			}
		}(ctx)

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		logger.Info("Start Command: All service goroutines launched. Press Ctrl+C to exit.")

		select {
		case sig := <-sigs:
			logger.Info("Start Command: Received signal: %s. Initiating shutdown...", sig)
		case <-ctx.Done():
			logger.Info("Start Command: Context cancelled (likely due to a service error). Initiating shutdown...")
		}
		cancel()

		shutdownComplete := make(chan struct{})
		go func() {
			wg.Wait()
			close(shutdownComplete)
		}()
		select {
		case <-shutdownComplete:
			logger.Info("Start Command: All services shut down.")
		case <-time.After(10 * time.Second):
			logger.Error("Start Command: Shutdown timed out. Forcing exit.")
		}
		return nil
	},
}

func init() {
	startCmd.Flags().StringVar(&startServerPort, "server-port", "8778", "Port for the API server (overrides config)")
	startCmd.Flags().StringVar(&startProxyPort, "proxy-port", "8777", "Port for the MITM proxy server (overrides config)")
	rootCmd.AddCommand(startCmd)
}
