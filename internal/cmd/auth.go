package cmd

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/collectdesk/convo/internal/config"
	"github.com/collectdesk/convo/internal/realtime"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage tenant credentials",
		Long:  "Store tenant credentials in the OS keychain. CONVO_BASE_URL, CONVO_API_TOKEN and CONVO_TENANT_ID override stored profiles.",
	}
	cmd.AddCommand(newAuthLoginCmd())
	cmd.AddCommand(newAuthStatusCmd())
	cmd.AddCommand(newAuthLogoutCmd())
	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var (
		baseURL    string
		token      string
		tenantID   string
		cableURL   string
		operatorID string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save credentials to a profile",
		Example: strings.TrimSpace(`
  convo auth login --url https://desk.example.com --token TOKEN --tenant acme
  convo --profile night auth login --url https://desk.example.com --token TOKEN --tenant acme --operator op-7`),
		Args: cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			if baseURL == "" {
				return fmt.Errorf("--url is required")
			}
			if token == "" {
				return fmt.Errorf("--token is required")
			}
			if tenantID == "" {
				return fmt.Errorf("--tenant is required")
			}
			if err := validateBaseURL(baseURL); err != nil {
				return err
			}
			p := config.Profile{
				BaseURL:    strings.TrimSuffix(baseURL, "/"),
				APIToken:   token,
				TenantID:   tenantID,
				CableURL:   cableURL,
				OperatorID: operatorID,
			}
			profile := flags.Profile
			if profile == "" {
				profile = "default"
			}
			if err := config.SaveProfile(profile, p); err != nil {
				return fmt.Errorf("failed to save credentials: %w", err)
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, "Credentials saved.")
			_, _ = fmt.Fprintf(out, "  Base URL: %s\n", p.BaseURL)
			_, _ = fmt.Fprintf(out, "  Tenant:   %s\n", p.TenantID)
			_, _ = fmt.Fprintf(out, "  Profile:  %s\n", profile)
			return nil
		}),
	}
	cmd.Flags().StringVar(&baseURL, "url", "", "Backend base URL")
	cmd.Flags().StringVar(&token, "token", "", "API token")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant id")
	cmd.Flags().StringVar(&cableURL, "cable-url", "", "Realtime feed URL (default: <url>/cable)")
	cmd.Flags().StringVar(&operatorID, "operator", "", "Operator id announced on the realtime feed")
	return cmd
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL: scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("invalid URL: host is required")
	}
	return nil
}

type authStatus struct {
	Authenticated bool   `json:"authenticated"`
	Profile       string `json:"profile,omitempty"`
	Source        string `json:"source,omitempty"`
	BaseURL       string `json:"base_url,omitempty"`
	TenantID      string `json:"tenant_id,omitempty"`
	CableURL      string `json:"cable_url,omitempty"`
	OperatorID    string `json:"operator_id,omitempty"`
	Token         string `json:"token,omitempty"`
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the resolved credentials",
		Args:  cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			status := authStatus{Source: "keyring", Profile: flags.Profile}
			if status.Profile == "" {
				if current, err := config.CurrentProfile(); err == nil {
					status.Profile = current
				}
			}
			p, err := config.Resolve(flags.Profile)
			if err != nil {
				return err
			}
			if envProfileActive() {
				status.Source = "environment"
				status.Profile = ""
			}
			status.Authenticated = true
			status.BaseURL = p.BaseURL
			status.TenantID = p.TenantID
			status.OperatorID = p.OperatorID
			status.CableURL = p.CableURL
			if status.CableURL == "" {
				status.CableURL = realtime.CableURL(p.BaseURL)
			}
			status.Token = maskToken(p.APIToken)

			f := newFormatter(cmd)
			if f.StartTable("FIELD", "VALUE") {
				f.Row("source", status.Source)
				if status.Profile != "" {
					f.Row("profile", status.Profile)
				}
				f.Row("base_url", status.BaseURL)
				f.Row("tenant", status.TenantID)
				f.Row("cable_url", status.CableURL)
				if status.OperatorID != "" {
					f.Row("operator", status.OperatorID)
				}
				f.Row("token", status.Token)
				return f.EndTable()
			}
			return f.Output(status)
		}),
	}
}

func newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove a stored profile (--profile, default: current)",
		Args:  cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			profile := flags.Profile
			if profile == "" {
				current, err := config.CurrentProfile()
				if err != nil {
					return err
				}
				profile = current
			}
			if err := config.DeleteProfile(profile); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Profile %q removed.\n", profile)
			return nil
		}),
	}
}

func envProfileActive() bool {
	return strings.TrimSpace(os.Getenv("CONVO_BASE_URL")) != ""
}

// maskToken keeps the last four characters of long tokens.
func maskToken(token string) string {
	if len(token) < 8 {
		return strings.Repeat("*", len(token))
	}
	return strings.Repeat("*", len(token)-4) + token[len(token)-4:]
}
