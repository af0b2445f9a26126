package users

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clinigate/authgw/internal/db/bunx"
	"github.com/clinigate/authgw/internal/repository"
)

var (
	setPasswordTenant string
	setPasswordUserID int64
	setPasswordValue  string
	setPasswordStdin  bool
)

var setPasswordCmd = &cobra.Command{
	Use:   "set-password",
	Short: "Replace a user's password and clear any lockout",
	RunE: func(cmd *cobra.Command, args []string) error {
		if setPasswordTenant == "" || setPasswordUserID <= 0 {
			return fmt.Errorf("--tenant and --id are required")
		}
		password, err := readPassword(cmd, setPasswordValue, setPasswordStdin)
		if err != nil {
			return err
		}
		hash, err := hashPassword(password)
		if err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer bunx.Close(db)

		repo := repository.NewBunUserRepository(db)
		if err := repo.SetPasswordHash(cmd.Context(), setPasswordTenant, setPasswordUserID, hash); err != nil {
			return describe("failed to set password", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Password updated for user %d in %s\n", setPasswordUserID, setPasswordTenant)
		return nil
	},
}

func init() {
	setPasswordCmd.Flags().StringVar(&setPasswordTenant, "tenant", "", "Tenant the user belongs to")
	setPasswordCmd.Flags().Int64Var(&setPasswordUserID, "id", 0, "Numeric user id")
	setPasswordCmd.Flags().StringVar(&setPasswordValue, "password", "", "New password (use --stdin to avoid shell history)")
	setPasswordCmd.Flags().BoolVar(&setPasswordStdin, "stdin", false, "Read password from stdin instead of --password flag")
}
