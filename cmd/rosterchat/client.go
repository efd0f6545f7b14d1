package main

import (
	"github.com/spf13/cobra"

	"rosterchat/internal/app"
)

var clientCfg = app.ClientConfigFromEnv()

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Connect the terminal UI to a relay",
	Long: `Connect to a relay, register a username and open the chat UI.

Logs go to a file because the terminal belongs to the UI; see --log.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.RunClient(cmd.Context(), clientCfg)
	},
}

func init() {
	addClientFlags(clientCmd, &clientCfg)
	clientCmd.Flags().StringVar(&clientCfg.ServerURL, "server", clientCfg.ServerURL, "relay websocket URL (ROSTERCHAT_SERVER)")
	rootCmd.AddCommand(clientCmd)
}

// addClientFlags registers the flags shared by client and local.
func addClientFlags(cmd *cobra.Command, cfg *app.ClientConfig) {
	cmd.Flags().StringVarP(&cfg.Username, "user", "u", cfg.Username, "username to register (ROSTERCHAT_USER)")
	cmd.Flags().StringVar(&cfg.LogPath, "log", cfg.LogPath, "client log file, empty to discard (ROSTERCHAT_LOG_PATH)")
	cmd.Flags().BoolVar(&cfg.Dev, "dev", cfg.Dev, "debug level console logs (ROSTERCHAT_ENV=development)")
}
