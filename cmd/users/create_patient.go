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
	patientTenant     string
	patientExternalID string
)

var createPatientCmd = &cobra.Command{
	Use:   "create-patient",
	Short: "Link an external patient identity to a new patient record",
	Long: `Creates an active patient whose external identity is matched against the
identity claim of signed patient assertions.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant := strings.TrimSpace(patientTenant)
		externalID := strings.TrimSpace(patientExternalID)
		if tenant == "" || externalID == "" {
			return fmt.Errorf("--tenant and --external-id are required")
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer bunx.Close(db)

		patient := &models.Patient{TenantID: tenant, ExternalID: externalID, Active: true}
		if err := repository.NewBunUserRepository(db).CreatePatient(cmd.Context(), patient); err != nil {
			return describe("failed to create patient", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Patient %d created for %s in %s\n", patient.ID, externalID, tenant)
		return nil
	},
}

func init() {
	createPatientCmd.Flags().StringVar(&patientTenant, "tenant", "", "Tenant the patient belongs to")
	createPatientCmd.Flags().StringVar(&patientExternalID, "external-id", "", "External identity carried by patient assertions")
}
