package users

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/clinigate/authgw/internal/db/bunx"
	"github.com/clinigate/authgw/internal/db/models"
	"github.com/clinigate/authgw/internal/repository"
)

var (
	tenantFlag   string
	usernameFlag string
	passwordFlag string
	officesFlag  []int64
	stdinFlag    bool
	subjectFlag  string
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a staff user with password credentials",
	Long: `Creates an active staff user in a tenant and grants membership of the given
offices. Password-grant logins require the requested office to be one of them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant := strings.TrimSpace(tenantFlag)
		if tenant == "" {
			return fmt.Errorf("--tenant flag is required")
		}
		username := strings.TrimSpace(usernameFlag)
		if username == "" {
			return fmt.Errorf("--username flag is required")
		}

		password, err := readPassword(cmd, passwordFlag, stdinFlag)
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

		user := &models.User{
			TenantID:     tenant,
			Username:     username,
			PasswordHash: hash,
			Active:       true,
		}
		if subject := strings.TrimSpace(subjectFlag); subject != "" {
			user.ExternalSubjectID = &subject
		}
		if err := repository.NewBunUserRepository(db).Create(cmd.Context(), user, officesFlag); err != nil {
			return describe("failed to create user", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "User created successfully!")
		fmt.Fprintln(out, "----------------------------------------")
		fmt.Fprintf(out, "User ID:  %d\n", user.ID)
		fmt.Fprintf(out, "Tenant:   %s\n", user.TenantID)
		fmt.Fprintf(out, "Username: %s\n", user.Username)
		if user.ExternalSubjectID != nil {
			fmt.Fprintf(out, "Subject:  %s\n", *user.ExternalSubjectID)
		}
		if len(officesFlag) > 0 {
			offices := make([]string, len(officesFlag))
			for i, office := range officesFlag {
				offices[i] = fmt.Sprint(office)
			}
			fmt.Fprintf(out, "Offices:  %s\n", strings.Join(offices, ", "))
		}
		fmt.Fprintln(out, "----------------------------------------")
		return nil
	},
}

func init() {
	createCmd.Flags().StringVar(&tenantFlag, "tenant", "", "Tenant the user belongs to")
	createCmd.Flags().StringVar(&usernameFlag, "username", "", "Login name, unique within the tenant")
	createCmd.Flags().StringVar(&passwordFlag, "password", "", "Password for the user (use --stdin to avoid shell history)")
	createCmd.Flags().Int64SliceVar(&officesFlag, "office", nil, "Office the user belongs to (repeatable)")
	createCmd.Flags().StringVar(&subjectFlag, "external-subject", "", "Subject id at the external identity provider to link to this user")
	createCmd.Flags().BoolVar(&stdinFlag, "stdin", false, "Read password from stdin instead of --password flag")
}
