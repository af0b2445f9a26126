package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clinigate/authgw/internal/auth"
)

var cacheKeyOpts struct {
	username       string
	tenant         string
	clientID       string
	scopes         []string
	office         int64
	originalOffice int64
	clientOnly     bool
	external       bool
}

var cacheKeyCmd = &cobra.Command{
	Use:   "cache-key",
	Short: "Print the authorization cache key for a caller",
	Long: `Derives the key under which the gateway caches a caller's authorization
context. Use it to correlate cache behavior with a reported session.
Offices of 0 are treated as unset.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		in := auth.CacheKeyInput{
			Username:      cacheKeyOpts.username,
			ClientOnly:    cacheKeyOpts.clientOnly,
			Tenant:        cacheKeyOpts.tenant,
			IncludeTenant: !cacheKeyOpts.external,
			ClientID:      cacheKeyOpts.clientID,
			Scopes:        cacheKeyOpts.scopes,
		}
		if cacheKeyOpts.office != 0 {
			in.Office = &cacheKeyOpts.office
		}
		if cacheKeyOpts.originalOffice != 0 {
			in.OriginalOffice = &cacheKeyOpts.originalOffice
		}

		fmt.Fprintln(cmd.OutOrStdout(), auth.DeriveCacheKey(in))
		return nil
	},
}

func init() {
	f := cacheKeyCmd.Flags()
	f.StringVar(&cacheKeyOpts.username, "username", "", "Login name (ignored with --client-only)")
	f.StringVar(&cacheKeyOpts.tenant, "tenant", "", "Tenant id")
	f.StringVar(&cacheKeyOpts.clientID, "client-id", "", "OAuth client id")
	f.StringSliceVar(&cacheKeyOpts.scopes, "scope", nil, "Granted scope (repeatable)")
	f.Int64Var(&cacheKeyOpts.office, "office", 0, "Selected office")
	f.Int64Var(&cacheKeyOpts.originalOffice, "original-office", 0, "Office the session started in, after an office switch")
	f.BoolVar(&cacheKeyOpts.clientOnly, "client-only", false, "Caller is a client without a user")
	f.BoolVar(&cacheKeyOpts.external, "external", false, "Caller holds an external token (tenant is not part of the key)")

	rootCmd.AddCommand(cacheKeyCmd)
}
