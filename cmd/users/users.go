package users

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"

	"github.com/clinigate/authgw/internal/auth"
	"github.com/clinigate/authgw/internal/config"
	"github.com/clinigate/authgw/internal/db/bunx"
	"github.com/clinigate/authgw/internal/invocation"
)

// bcryptCost is the work factor for passwords set from the CLI.
const bcryptCost = 12

// UsersCmd is the parent command for user management operations
var UsersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage gateway users and patients",
	Long:  `Commands for managing tenant-scoped staff users and patient records directly in the database.`,
}

func init() {
	UsersCmd.AddCommand(createCmd, setPasswordCmd, createPatientCmd)
}

// openDB loads the configuration and connects to the configured database.
func openDB() (*bun.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	db, err := bunx.NewDB(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// readPassword returns flagValue, or the first line of in when fromStdin is set.
func readPassword(cmd *cobra.Command, flagValue string, fromStdin bool) (string, error) {
	password := flagValue
	if fromStdin {
		fmt.Fprint(cmd.ErrOrStderr(), "Enter password: ")
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return "", fmt.Errorf("password is required (use --password or --stdin)")
	}
	return password, nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// describe turns a store failure into an operator-facing error. Constraint
// violations and misses carry the translated hint; anything else keeps the cause.
func describe(action string, err error) error {
	switch o := invocation.Translate(err); o.Category {
	case auth.KindValidationFailure, auth.KindNotFound:
		return fmt.Errorf("%s: %s", action, o.Message)
	default:
		return fmt.Errorf("%s: %w", action, err)
	}
}
