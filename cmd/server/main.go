// Command server runs the Antigravity Claude proxy.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vpnbeni/antigravity-claude-proxy/internal/account"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/auth"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/cloudcode"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/config"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/server"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/utils"
	"github.com/vpnbeni/antigravity-claude-proxy/pkg/redis"
)

var (
	flagPort       int
	flagDebug      bool
	flagStrategy   string
	flagNoFallback bool
	flagRedisAddr  string
	flagConfigPath string
)

var rootCmd = &cobra.Command{
	Use:   "antigravity-claude-proxy",
	Short: "Anthropic-compatible proxy for Google Cloud Code",
	Long: `antigravity-claude-proxy exposes an Anthropic Messages API and forwards
requests to Google's internal Cloud Code backend across a pool of
authenticated accounts, hiding per-account rate limits from clients.`,
	Version: config.Version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the proxy server",
	Long: `Start the proxy server.

Example:
  antigravity-claude-proxy serve
  antigravity-claude-proxy serve --port 8080 --strategy hybrid --debug`,
	RunE: runServe,
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage configured accounts",
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured accounts",
	RunE:  runAccountsList,
}

var accountsAddCmd = &cobra.Command{
	Use:   "add <email>",
	Short: "Add an account from a local Antigravity install or a refresh token",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountsAdd,
}

var accountsRemoveCmd = &cobra.Command{
	Use:   "remove <email>",
	Short: "Remove an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountsRemove,
}

var accountsEnableCmd = &cobra.Command{
	Use:   "enable <email>",
	Short: "Enable an account",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setEnabled(args[0], true) },
}

var accountsDisableCmd = &cobra.Command{
	Use:   "disable <email>",
	Short: "Disable an account",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setEnabled(args[0], false) },
}

var flagRefreshToken string

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "Config file path")
	rootCmd.PersistentFlags().StringVar(&flagRedisAddr, "redis", "", "Redis address (overrides config)")

	serveCmd.Flags().IntVarP(&flagPort, "port", "p", 0, "Port to listen on")
	serveCmd.Flags().StringVar(&flagStrategy, "strategy", "", "Account selection strategy (sticky, round-robin, hybrid)")
	serveCmd.Flags().BoolVar(&flagNoFallback, "no-fallback", false, "Disable model fallback")

	accountsAddCmd.Flags().StringVar(&flagRefreshToken, "refresh-token", "", "OAuth refresh token (composite form supported)")

	accountsCmd.AddCommand(accountsListCmd, accountsAddCmd, accountsRemoveCmd, accountsEnableCmd, accountsDisableCmd)
	rootCmd.AddCommand(serveCmd, accountsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if flagDebug {
		cfg.Debug = true
	}
	if flagRedisAddr != "" {
		cfg.Redis.Addr = flagRedisAddr
	}
	utils.SetDebug(cfg.Debug)
	return cfg, nil
}

func openStore(cfg *config.Config) *redis.AccountStore {
	if cfg.Redis.Addr == "" {
		utils.Warn("[Server] No Redis configured; accounts will not persist across restarts")
		return nil
	}
	client, err := redis.NewClient(redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		utils.Error("[Server] Redis unavailable: %v", err)
		return nil
	}
	return redis.NewAccountStore(client)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flagPort > 0 {
		cfg.Port = flagPort
	}
	if flagNoFallback {
		disabled := false
		cfg.FallbackEnabled = &disabled
	}

	manager := account.NewManager(openStore(cfg), cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := manager.Initialize(ctx, flagStrategy); err != nil {
		return err
	}
	if manager.AccountCount() == 0 {
		utils.Warn("[Server] No accounts configured; add one with `antigravity-claude-proxy accounts add`")
	}

	client := cloudcode.NewClient(manager, cfg)
	return server.New(cfg, manager, client).Start(ctx)
}

func runAccountsList(cmd *cobra.Command, args []string) error {
	manager, _, err := openManager()
	if err != nil {
		return err
	}

	accounts := manager.AllAccounts()
	if len(accounts) == 0 {
		fmt.Println("No accounts configured")
		return nil
	}

	for i, acc := range accounts {
		status := "enabled"
		if !acc.Enabled {
			status = "disabled"
		}
		if acc.IsInvalid {
			status = "invalid (" + acc.InvalidReason + ")"
		}
		fmt.Printf("%d. %s [%s] %s\n", i+1, acc.Email, acc.Source, status)
	}
	return nil
}

func runAccountsAdd(cmd *cobra.Command, args []string) error {
	manager, ctx, err := openManager()
	if err != nil {
		return err
	}
	email := args[0]

	acc := &redis.Account{
		Email:   email,
		Enabled: true,
	}

	if flagRefreshToken != "" {
		acc.Source = "oauth"
		acc.RefreshToken = flagRefreshToken
	} else {
		if !auth.IsDatabaseAccessible(config.AntigravityDBPath()) {
			return fmt.Errorf("no --refresh-token given and no local Antigravity install found")
		}
		acc.Source = "database"
	}

	if err := manager.AddOrUpdateAccount(ctx, acc); err != nil {
		return err
	}
	fmt.Printf("Account %s added (%s)\n", email, acc.Source)
	return nil
}

func runAccountsRemove(cmd *cobra.Command, args []string) error {
	manager, ctx, err := openManager()
	if err != nil {
		return err
	}
	if err := manager.RemoveAccount(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Account %s removed\n", args[0])
	return nil
}

func setEnabled(email string, enabled bool) error {
	manager, ctx, err := openManager()
	if err != nil {
		return err
	}
	if err := manager.SetAccountEnabled(ctx, email, enabled); err != nil {
		return err
	}
	fmt.Printf("Account %s enabled=%t\n", email, enabled)
	return nil
}

func openManager() (*account.Manager, context.Context, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	ctx := context.Background()
	manager := account.NewManager(openStore(cfg), cfg)
	if err := manager.Initialize(ctx, ""); err != nil {
		return nil, nil, err
	}
	return manager, ctx, nil
}
