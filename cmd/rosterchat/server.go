package main

import (
	"github.com/spf13/cobra"

	"rosterchat/internal/app"
	"rosterchat/internal/logx"
)

var serverCfg = app.ServerConfigFromEnv()

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run a relay",
	Long: `Run the websocket relay. Besides the join endpoint it serves
/healthz, /users and /metrics as JSON.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logx.Init(serverCfg.Dev, nil)
		handle, err := app.RunServer(cmd.Context(), serverCfg)
		if err != nil {
			return err
		}
		logx.Logger().Info().
			Str("addr", handle.Addr()).
			Str("path", serverCfg.Path).
			Str("db", serverCfg.DBPath).
			Msg("relay listening")
		return handle.Wait()
	},
}

var (
	localServerCfg = app.ServerConfigFromEnv()
	localClientCfg = app.ClientConfigFromEnv()
)

var localCmd = &cobra.Command{
	Use:   "local",
	Short: "Start a loopback relay and join it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.RunLocal(cmd.Context(), localServerCfg, localClientCfg)
	},
}

func init() {
	addServerFlags(serverCmd, &serverCfg)
	rootCmd.AddCommand(serverCmd)

	localServerCfg.Addr = "127.0.0.1:0"
	addClientFlags(localCmd, &localClientCfg)
	localCmd.Flags().StringVar(&localServerCfg.DBPath, "db", localServerCfg.DBPath, "sqlite presence database path (ROSTERCHAT_DB_PATH)")
	rootCmd.AddCommand(localCmd)
}

func addServerFlags(cmd *cobra.Command, cfg *app.ServerConfig) {
	flags := cmd.Flags()
	flags.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address (ROSTERCHAT_ADDR)")
	flags.StringVar(&cfg.Path, "path", cfg.Path, "websocket join path (ROSTERCHAT_PATH)")
	flags.StringVar(&cfg.DBPath, "db", cfg.DBPath, "sqlite presence database path (ROSTERCHAT_DB_PATH)")
	flags.StringSliceVar(&cfg.AllowedOrigins, "allowed-origins", cfg.AllowedOrigins, "browser origins allowed to connect (ROSTERCHAT_ALLOWED_ORIGINS)")
	flags.Float64Var(&cfg.RateLimit, "rate", cfg.RateLimit, "messages per second per connection, 0 for the default")
	flags.IntVar(&cfg.RateBurst, "burst", cfg.RateBurst, "message burst per connection, 0 for the default")
	flags.BoolVar(&cfg.Dev, "dev", cfg.Dev, "console logs at debug level (ROSTERCHAT_ENV=development)")
}
