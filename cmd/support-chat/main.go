package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gitlab.com/timkado/api/support-chat-client/internal/bootstrap"
	"gitlab.com/timkado/api/support-chat-client/pkg/contextkeys"
)

var (
	configPath string
	configName string
	userID     string
	userToken  string
	version    = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "support-chat",
	Short: "Customer support chat client",
	Long: `Customer support chat client for the shop support backend.

Conversations are resumed per user (or per anonymous session), messages go
over REST and live updates arrive over a WebSocket that degrades to REST-only
mode when it cannot be kept up.

  support-chat chat                    # chat from the terminal
  support-chat chat --user u-123       # chat as an authenticated user
  support-chat serve                   # headless, driven over the HTTP control routes`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with support from the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, true)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run headless; the host drives the chat over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, false)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config-path", "", "Directory containing the config file (default $VIPER_CONFIG_PATH or .)")
	rootCmd.PersistentFlags().StringVar(&configName, "config-name", "", "Config file name without extension (default $VIPER_CONFIG_NAME or config)")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "", "Authenticated user id; anonymous when empty")
	rootCmd.PersistentFlags().StringVar(&userToken, "token", "", "Bearer token for the authenticated user")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(chatCmd, serveCmd)
}

func run(cmd *cobra.Command, interactive bool) error {
	ctx := context.WithValue(cmd.Context(), contextkeys.RequestIDKey, "app-main")

	app, cleanup, err := bootstrap.InitializeApp(ctx, bootstrap.Flags{
		ConfigPath:  configPath,
		ConfigName:  configName,
		UserID:      userID,
		Token:       userToken,
		Interactive: interactive,
		In:          cmd.InOrStdin(),
		Out:         cmd.OutOrStdout(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer cleanup()

	return app.Run(ctx)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
