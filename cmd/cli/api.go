package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/coldtrack/coldtrack/internal/compliance"
	"github.com/coldtrack/coldtrack/internal/domain"
	"github.com/coldtrack/coldtrack/internal/service"
)

// apiClient calls the coldtrack HTTP API with a bearer token
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func newAPIClient(base, token string) *apiClient {
	return &apiClient{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError is a non-2xx response
type apiError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// do sends body as JSON when non-nil and decodes the response into out when non-nil
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if w, ok := out.(io.Writer); ok {
		_, err := io.Copy(w, resp.Body)
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func tokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".coldtrack", "token")
}

func saveToken(token string) error {
	if err := os.MkdirAll(filepath.Dir(tokenFile()), 0o700); err != nil {
		return err
	}
	return os.WriteFile(tokenFile(), []byte(token), 0o600)
}

func loadToken() string {
	data, err := os.ReadFile(tokenFile())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// client returns an API client that requires a saved token
func client() (*apiClient, error) {
	token := loadToken()
	if token == "" {
		return nil, errors.New(`not logged in: run "coldtrack login" first`)
	}
	return newAPIClient(apiURL, token), nil
}

var (
	loginWorkspace string
	loginUsername  string
	loginPassword  string

	loginCmd = &cobra.Command{
		Use:   "login",
		Short: "Log in and save the session token",
		Long:  "Log in to a workspace. Leave --workspace empty to log in to the portal as the superadmin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if loginUsername == "" || loginPassword == "" {
				return errors.New("--username and --password are required")
			}
			var res service.LoginResult
			in := service.LoginInput{Workspace: loginWorkspace, Username: loginUsername, Password: loginPassword}
			if err := newAPIClient(apiURL, "").do(cmd.Context(), http.MethodPost, "/api/auth/login", in, &res); err != nil {
				return err
			}
			if err := saveToken(res.Token); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (%s)\n", res.User.Username, res.User.Role)
			if res.MustChangePassword {
				fmt.Fprintln(cmd.OutOrStdout(), "a password change is required before using the API")
			}
			return nil
		},
	}

	logoutCmd = &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.Remove(tokenFile()); err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}

	whoamiCmd = &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			var u domain.User
			if err := c.do(cmd.Context(), http.MethodGet, "/api/auth/me", nil, &u); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) role=%s workspace=%s\n", u.DisplayName(), u.Username, u.Role, u.WorkspaceID)
			return nil
		},
	}

	liveCmd = &cobra.Command{
		Use:   "live",
		Short: "Print the live board",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			var board compliance.Board
			if err := c.do(cmd.Context(), http.MethodGet, "/api/live", nil, &board); err != nil {
				return err
			}
			return printBoard(cmd.OutOrStdout(), &board)
		},
	}

	exceptionsFrom string
	exceptionsTo   string

	exceptionsCmd = &cobra.Command{
		Use:   "exceptions",
		Short: "List compliance exceptions for a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			q := url.Values{}
			if exceptionsFrom != "" {
				q.Set("from", exceptionsFrom)
			}
			if exceptionsTo != "" {
				q.Set("to", exceptionsTo)
			}
			var report service.ExceptionReport
			if err := c.do(cmd.Context(), http.MethodGet, "/api/exceptions?"+q.Encode(), nil, &report); err != nil {
				return err
			}
			return printExceptions(cmd.OutOrStdout(), &report)
		},
	}

	exportFrom string
	exportTo   string

	exportsCmd = &cobra.Command{
		Use:   "exports",
		Short: "List exports, or generate one with --from and --to",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			if exportFrom != "" || exportTo != "" {
				var exp domain.Export
				in := service.ManualExportInput{From: exportFrom, To: exportTo}
				if err := c.do(cmd.Context(), http.MethodPost, "/api/exports", in, &exp); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "export %s %s..%s: %s\n", exp.ID, exp.PeriodStart, exp.PeriodEnd, exp.Status)
				return nil
			}
			var res struct {
				Exports []*domain.Export `json:"exports"`
			}
			if err := c.do(cmd.Context(), http.MethodGet, "/api/exports", nil, &res); err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tPERIOD\tSTATUS\tCREATED")
			for _, e := range res.Exports {
				fmt.Fprintf(w, "%s\t%s\t%s..%s\t%s\t%s\n", e.ID, e.Type, e.PeriodStart, e.PeriodEnd, e.Status, e.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	workspacesCmd = &cobra.Command{
		Use:   "workspaces",
		Short: "List workspaces (superadmin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			var res struct {
				Workspaces []*domain.Workspace `json:"workspaces"`
			}
			if err := c.do(cmd.Context(), http.MethodGet, "/api/portal/workspaces", nil, &res); err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSLUG\tNAME\tSTATUS\tUSERS\tVEHICLES")
			for _, ws := range res.Workspaces {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n", ws.ID, ws.Slug, ws.Name, ws.Status, ws.MaxUsers, ws.MaxVehicles)
			}
			return w.Flush()
		},
	}

	backupOut string

	backupCmd = &cobra.Command{
		Use:   "backup <workspace-id>",
		Short: "Download a workspace backup (superadmin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if backupOut != "" {
				f, err := os.Create(backupOut)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			return c.do(cmd.Context(), http.MethodGet, "/api/portal/workspaces/"+url.PathEscape(args[0])+"/backup", nil, out)
		},
	}
)

func init() {
	loginCmd.Flags().StringVar(&loginWorkspace, "workspace", "", "workspace slug (empty for the portal)")
	loginCmd.Flags().StringVar(&loginUsername, "username", "", "username")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "password")

	exceptionsCmd.Flags().StringVar(&exceptionsFrom, "from", "", "first date, YYYY-MM-DD (default: a week ago)")
	exceptionsCmd.Flags().StringVar(&exceptionsTo, "to", "", "last date, YYYY-MM-DD (default: today)")

	exportsCmd.Flags().StringVar(&exportFrom, "from", "", "first date of a manual export")
	exportsCmd.Flags().StringVar(&exportTo, "to", "", "last date of a manual export")

	backupCmd.Flags().StringVarP(&backupOut, "output", "o", "", "write to a file instead of stdout")
}

func printBoard(out io.Writer, b *compliance.Board) error {
	fmt.Fprintf(out, "active %d  idle %d  overdue %d  (overdue after %d min)\n\n", b.Active, b.Idle, b.Overdue, b.OverdueMinutes)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REGO\tDRIVER\tSTATUS\tLAST\tMIN AGO\tALERT")
	for _, e := range b.Vehicles {
		alert := ""
		if e.HasAlert {
			alert = "!"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", e.Rego, e.DriverName, e.Status, e.LastTemp.String(), e.MinutesAgo, alert)
	}
	return w.Flush()
}

func printExceptions(out io.Writer, r *service.ExceptionReport) error {
	fmt.Fprintf(out, "%s..%s: %d exception(s)\n\n", r.From, r.To, len(r.Exceptions))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tREGO\tDRIVER\tTYPE\tSEVERITY\tZONE\tVALUE")
	for _, e := range r.Exceptions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", e.Date, e.Rego, e.DriverName, e.Type, e.Severity, e.Zone, e.Value.String())
	}
	return w.Flush()
}
