package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/shoeboxhq/shoebox-go/internal/api"
	"github.com/shoeboxhq/shoebox-go/internal/broadcast"
	"github.com/shoeboxhq/shoebox-go/internal/config"
	"github.com/shoeboxhq/shoebox-go/internal/tokenfile"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save an API token and verify it against the server",
		Long: `Authenticate with the shoebox API using a bearer token. The token is read
from --token, the ` + config.EnvToken + ` environment variable, or an interactive
prompt, verified against the server, and saved to the data directory.`,
		RunE: runLogin,
	}

	cmd.Flags().String("token", "", "API bearer token (prompted for if unset)")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved API token",
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the authenticated account",
		RunE:  runWhoami,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd)
	ctx := cmd.Context()

	token, err := readLoginToken(cmd)
	if err != nil {
		return err
	}

	// Verify before saving: a bad token caught here beats one caught by the
	// first drain. The candidate token is not on disk yet, so the client is
	// built over a static source instead of the token file.
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	httpClient := &http.Client{Timeout: cc.Cfg.TimeoutDuration()}
	client := api.NewClient(cc.Cfg.ServerURL, httpClient, source, cc.Logger)

	account, err := client.Me(ctx)
	if err != nil {
		return fmt.Errorf("verifying token: %w", err)
	}

	tf := &tokenfile.File{
		Token: &oauth2.Token{AccessToken: token, TokenType: "Bearer"},
		Meta: map[string]string{
			tokenfile.MetaEmail:       account.Email,
			tokenfile.MetaDisplayName: account.DisplayName,
		},
	}

	if err := tokenfile.Save(cc.Cfg.TokenPath(), tf); err != nil {
		return err
	}

	cc.Logger.Info("login successful", "email", account.Email)
	publishBestEffort(cc, broadcast.Message{Type: broadcast.TypeAuthChanged})
	cc.Statusf("Logged in as %s.\n", account.Email)

	return nil
}

// readLoginToken resolves the token from flag, environment, or prompt, in
// that order.
func readLoginToken(cmd *cobra.Command) (string, error) {
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = os.Getenv(config.EnvToken)
	}

	if token == "" {
		// Token prompts must always be visible, not suppressed by --quiet.
		fmt.Fprint(os.Stderr, "API token: ")

		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("reading token from stdin: %w", err)
		}

		token = strings.TrimSpace(line)
	}

	if token == "" {
		return "", fmt.Errorf("no token provided (use --token or %s)", config.EnvToken)
	}

	return token, nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd)

	if err := tokenfile.Clear(cc.Cfg.TokenPath()); err != nil {
		return err
	}

	cc.Logger.Info("logout successful")
	publishBestEffort(cc, broadcast.Message{Type: broadcast.TypeAuthChanged})
	cc.Statusf("Logged out.\n")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd)

	meta, err := tokenfile.ReadMeta(cc.Cfg.TokenPath())
	if err != nil {
		return err
	}

	if meta == nil {
		return fmt.Errorf("not logged in — run 'shoebox login' first")
	}

	out := whoamiOutput{
		Email:       meta[tokenfile.MetaEmail],
		DisplayName: meta[tokenfile.MetaDisplayName],
	}

	if cc.Flags.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(out)
	}

	if out.DisplayName != "" {
		fmt.Printf("Account: %s (%s)\n", out.DisplayName, out.Email)
	} else {
		fmt.Printf("Account: %s\n", out.Email)
	}

	return nil
}

// publishBestEffort sends one broadcast message from a one-shot command.
// Transport setup or send failures cost siblings a hint, never the command.
func publishBestEffort(cc *CLIContext, msg broadcast.Message) {
	b, err := cc.newBroadcaster()
	if err != nil {
		cc.Logger.Debug("broadcast unavailable", "error", err.Error())
		return
	}

	defer b.Close()

	if err := b.Publish(context.Background(), msg); err != nil {
		cc.Logger.Debug("broadcast publish failed", "error", err.Error())
	}
}
