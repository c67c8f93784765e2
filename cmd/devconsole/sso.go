package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"devconsole/internal/auth/ports"
	"devconsole/internal/auth/sso/wechatwork"
)

var errSSONotConfigured = errors.New("wechat_work is not configured (set WECHAT_WORK_CORP_ID, WECHAT_WORK_AGENT_ID and WECHAT_WORK_SECRET)")

func newSSOCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sso",
		Short: "Exercise the WeChat Work sign-in from the terminal",
	}

	var state string
	loginURL := &cobra.Command{
		Use:   "login-url",
		Short: "Print the WeChat Work authorize URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			provider, err := c.ssoProvider()
			if err != nil {
				return err
			}
			if state == "" {
				state = uuid.NewString()
			}
			url, err := provider.BuildAuthURL(state)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}
	loginURL.Flags().StringVar(&state, "state", "", "state parameter (random when empty)")

	exchange := &cobra.Command{
		Use:   "exchange <code>",
		Short: "Resolve an authorization code to the corp member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := c.ssoProvider()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			// Three vendor calls, each bounded by the client timeout.
			timeout := c.cfg.WeChatWork.Timeout
			if timeout <= 0 {
				timeout = 10 * time.Second
			}
			ctx, cancel := context.WithTimeout(ctx, 3*timeout)
			defer cancel()

			info, err := provider.Exchange(ctx, args[0])
			if err != nil {
				var apiErr *wechatwork.APIError
				if errors.As(err, &apiErr) {
					return fmt.Errorf("%s failed with errcode %d: %s", apiErr.Step, apiErr.Code, apiErr.Error())
				}
				return err
			}
			writeMember(cmd.OutOrStdout(), info)
			return nil
		},
	}

	cmd.AddCommand(loginURL, exchange)
	return cmd
}

// ssoProvider builds the provider alone; no server state is needed.
func (c *cli) ssoProvider() (*wechatwork.Provider, error) {
	if !c.cfg.WeChatWork.Configured() {
		return nil, errSSONotConfigured
	}
	container := &Container{Config: c.cfg, Logger: c.logger}
	if err := container.buildSSO(); err != nil {
		return nil, err
	}
	return container.SSO, nil
}

func writeMember(w io.Writer, info ports.OAuthUserInfo) {
	table := newPlainTable(w)
	table.Append([]string{"user id", info.ProviderID})
	table.Append([]string{"name", info.DisplayName})
	table.Append([]string{"email", info.Email})
	table.Append([]string{"avatar", info.AvatarURL})
	if info.Token != nil && !info.Token.Expiry.IsZero() {
		table.Append([]string{"token expires", info.Token.Expiry.Format(time.RFC3339)})
	}
	table.Render()
}
