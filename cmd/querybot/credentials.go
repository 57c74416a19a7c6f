package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"querybot/internal/agent"
	"querybot/internal/config"
	"querybot/internal/domain"

	"github.com/spf13/cobra"
)

func credentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage stored Auth0 credentials per Slack user",
		Long:  "Same effect as the /authorize modal in Slack, for operators with access to the credential store.",
	}

	var baseURL, clientID, clientSecret string
	set := &cobra.Command{
		Use:   "set [slack-user-id]",
		Short: "Store Auth0 credentials for a Slack user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, store domain.CredentialStore) error {
				orch := agent.NewOrchestrator(agent.OrchestratorConfig{Store: store, Logger: logger})
				if err := orch.UpsertCredentials(ctx, args[0], baseURL, clientID, clientSecret); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Credentials saved for", args[0])
				return nil
			})
		},
	}
	set.Flags().StringVar(&baseURL, "base-url", "", "tenant base URL, e.g. https://example.au.auth0.com")
	set.Flags().StringVar(&clientID, "client-id", "", "machine-to-machine application client id")
	set.Flags().StringVar(&clientSecret, "client-secret", "", "machine-to-machine application client secret")

	show := &cobra.Command{
		Use:   "show [slack-user-id]",
		Short: "Show stored credentials with secrets masked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, store domain.CredentialStore) error {
				creds, err := store.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if creds == nil {
					return fmt.Errorf("no credentials stored for %s", args[0])
				}
				return writeCredentials(cmd.OutOrStdout(), creds, time.Now())
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete [slack-user-id]",
		Short: "Remove a Slack user's credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, store domain.CredentialStore) error {
				if err := store.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Credentials deleted for", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(set, show, del)
	return cmd
}

func withStore(fn func(ctx context.Context, store domain.CredentialStore) error) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return fn(ctx, store)
}

// credentialView is what `credentials show` prints.
type credentialView struct {
	UserID       string `json:"user_id"`
	BaseURL      string `json:"auth0_base_url"`
	ClientID     string `json:"auth0_client_id"`
	ClientSecret string `json:"auth0_client_secret"`
	Token        string `json:"access_token"`
	UpdatedAt    string `json:"updated_at"`
}

func writeCredentials(w io.Writer, creds *domain.Credentials, now time.Time) error {
	view := credentialView{
		UserID:       creds.UserID,
		BaseURL:      creds.BaseURL,
		ClientID:     creds.ClientID,
		ClientSecret: "***",
		Token:        tokenState(creds, now),
		UpdatedAt:    creds.UpdatedAt.Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func tokenState(creds *domain.Credentials, now time.Time) string {
	switch {
	case creds.AccessToken == "" || creds.TokenExpiresAt == nil:
		return "none"
	case now.Before(*creds.TokenExpiresAt):
		return "valid until " + creds.TokenExpiresAt.Format(time.RFC3339)
	default:
		return "expired"
	}
}
