package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/parceltrace/parceltrace/pkg/ca"
	"github.com/parceltrace/parceltrace/pkg/config"
	"github.com/parceltrace/parceltrace/pkg/models"
)

// ServiceUserID is the wallet identity the gateway itself operates
// under: the event consumer's subscription and per-event party
// resolution sign with it. It carries the ADMIN role, which the
// contract treats as read-only.
const ServiceUserID = "svc-gateway"

// EnsureServiceIdentity enrolls the gateway's service identity on first
// startup. The wallet persists across restarts, so this is a one-time
// registration per deployment; a lost wallet with a surviving CA
// registration needs operator intervention (the enrollment secret is
// not retained).
func EnsureServiceIdentity(ctx context.Context, cfg *config.Config, w IdentityWallet, registrars map[string]CARegistrar) error {
	exists, err := w.Exists(ctx, ServiceUserID)
	if err != nil {
		return fmt.Errorf("failed to check service identity: %w", err)
	}
	if exists {
		return nil
	}

	org := models.PlatformOrg
	if cfg.SingleOrg() {
		org = cfg.OrgName
	}
	registrar, ok := registrars[org]
	if !ok {
		return fmt.Errorf("no CA registrar for organization %s", org)
	}
	orgCfg, err := cfg.Org(org)
	if err != nil {
		return err
	}

	secret, err := newEnrollmentSecret()
	if err != nil {
		return err
	}

	if _, err := registrar.Register(ctx, cfg.CA.AdminID, cfg.CA.AdminSecret, &ca.RegistrationRequest{
		ID:             ServiceUserID,
		Type:           "client",
		Secret:         secret,
		MaxEnrollments: -1,
		Affiliation:    "",
		Attributes: []ca.Attribute{
			{Name: "role", Value: string(models.RoleAdmin), ECert: true},
			{Name: "userId", Value: ServiceUserID, ECert: true},
		},
	}); err != nil {
		if errors.Is(err, ca.ErrAlreadyExists) {
			return fmt.Errorf("service identity %s is registered with the CA but missing from the wallet; "+
				"restore the wallet database or remove the CA identity and restart: %w", ServiceUserID, err)
		}
		return fmt.Errorf("failed to register service identity: %w", err)
	}

	enrollment, err := registrar.Enroll(ctx, ServiceUserID, secret)
	if err != nil {
		return fmt.Errorf("failed to enroll service identity: %w", err)
	}

	if err := w.Put(ctx, ServiceUserID, orgCfg.MSPID,
		enrollment.Certificate, enrollment.PrivateKey, org, ServiceUserID); err != nil {
		return fmt.Errorf("failed to persist service identity: %w", err)
	}

	slog.Info("Service identity enrolled", "user_id", ServiceUserID, "org", org)
	return nil
}
