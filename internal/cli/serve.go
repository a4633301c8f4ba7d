package cli

import (
	"fmt"

	"github.com/harun/companion/internal/daemon"
	"github.com/spf13/cobra"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Run the Companion service in the foreground",
	Long: `Run the Companion service in the foreground.
The gateway serves JSON-RPC on /rpc and /ws, REST chat on /v1/chat, and
metrics on /metrics until SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "gateway host override")
	serveCmd.Flags().IntVar(&servePort, "port", -1, "gateway port override")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Gateway.Host = serveHost
	}
	if servePort >= 0 {
		cfg.Gateway.Port = servePort
	}

	if daemon.IsRunning(daemon.PIDFilePath(cfg.DataDir)) {
		return fmt.Errorf("daemon is already running (PID file: %s)", daemon.PIDFilePath(cfg.DataDir))
	}

	log, err := newLogger(cfg, cfg.Logging.Console)
	if err != nil {
		return err
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}

	if err := d.Start(); err != nil {
		return err
	}

	d.Wait()
	return nil
}
