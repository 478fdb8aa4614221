package services

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/parceltrace/parceltrace/pkg/ca"
	"github.com/parceltrace/parceltrace/pkg/config"
	"github.com/parceltrace/parceltrace/pkg/models"
)

// enrollmentSecretLen is the length of generated per-user enrollment
// secrets.
const enrollmentSecretLen = 16

const secretAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// newEnrollmentSecret generates a random alphanumeric secret.
func newEnrollmentSecret() (string, error) {
	var b strings.Builder
	for i := 0; i < enrollmentSecretLen; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(secretAlphabet))))
		if err != nil {
			return "", fmt.Errorf("failed to generate enrollment secret: %w", err)
		}
		b.WriteByte(secretAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// CARegistrar is the slice of the CA client the user service uses. One
// registrar exists per organization.
type CARegistrar interface {
	Register(ctx context.Context, registrarID, registrarSecret string, req *ca.RegistrationRequest) (string, error)
	Enroll(ctx context.Context, enrollmentID, secret string) (*ca.Enrollment, error)
}

// IdentityWallet is the slice of the wallet the user service uses.
type IdentityWallet interface {
	Put(ctx context.Context, userID, mspID string, certificate, privateKey []byte, organization, enrollmentID string) error
	Exists(ctx context.Context, userID string) (bool, error)
}

// UserService manages user records, CA enrollment and authentication.
type UserService struct {
	pool       *pgxpool.Pool
	cfg        *config.Config
	wallet     IdentityWallet
	registrars map[string]CARegistrar // org name → CA client
}

// NewUserService creates a UserService. registrars must contain one CA
// client per configured organization.
func NewUserService(pool *pgxpool.Pool, cfg *config.Config, w IdentityWallet, registrars map[string]CARegistrar) *UserService {
	return &UserService{pool: pool, cfg: cfg, wallet: w, registrars: registrars}
}

// RegisterParams are the inputs of user registration.
type RegisterParams struct {
	Username    string
	Email       string
	Password    string
	Role        models.Role
	FullName    string
	Address     *models.Address
	CompanyID   string
	CompanyName string
	VehicleInfo *models.VehicleInfo
}

// Register creates the user row, registers and enrolls the user with
// its organization's CA and seals the identity into the wallet. Any
// failure after the row insert rolls the row back: a user without a
// wallet identity must not exist.
func (s *UserService) Register(ctx context.Context, p RegisterParams) (*models.User, error) {
	if err := s.validateRegistration(p); err != nil {
		return nil, err
	}

	org, ok := models.OrgForRole(p.Role)
	if !ok {
		return nil, NewValidationError("role", fmt.Sprintf("unknown role %q", p.Role))
	}

	// Single-org instances only enroll the roles their org accepts.
	if s.cfg.SingleOrg() && !models.OrgAcceptsRole(s.cfg.OrgName, p.Role) {
		return nil, NewValidationError("role",
			fmt.Sprintf("organization %s does not accept role %s", s.cfg.OrgName, p.Role))
	}

	registrar, ok := s.registrars[org]
	if !ok {
		return nil, fmt.Errorf("no CA registrar for organization %s", org)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(p.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           uuid.New().String(),
		Username:     p.Username,
		Email:        p.Email,
		PasswordHash: string(hash),
		Role:         p.Role,
		FullName:     p.FullName,
		Address:      p.Address,
		CompanyID:    p.CompanyID,
		CompanyName:  p.CompanyName,
		VehicleInfo:  p.VehicleInfo,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.insertUser(ctx, user); err != nil {
		return nil, err
	}

	if err := s.enroll(ctx, registrar, org, user); err != nil {
		// Roll back: registration without enrollment leaves no trace.
		if delErr := s.deleteUser(context.WithoutCancel(ctx), user.ID); delErr != nil {
			slog.Error("Failed to roll back user after enrollment failure",
				"user_id", user.ID, "error", delErr)
		}
		return nil, errors.Join(ErrEnrollment, err)
	}

	if err := s.markEnrolled(ctx, user.ID); err != nil {
		return nil, err
	}
	user.IsEnrolled = true

	slog.Info("User registered and enrolled",
		"user_id", user.ID, "username", user.Username, "role", user.Role, "org", org)
	return user, nil
}

// enroll runs the CA bridge: generate a secret, register, enroll, seal
// into the wallet.
func (s *UserService) enroll(ctx context.Context, registrar CARegistrar, org string, user *models.User) error {
	secret, err := newEnrollmentSecret()
	if err != nil {
		return err
	}

	affiliation := strings.ToLower(org)
	if user.CompanyID != "" {
		affiliation = affiliation + "." + strings.ToLower(user.CompanyID)
	}

	attrs := []ca.Attribute{
		{Name: "role", Value: string(user.Role), ECert: true},
		{Name: "userId", Value: user.ID, ECert: true},
	}
	if user.CompanyID != "" {
		attrs = append(attrs, ca.Attribute{Name: "companyId", Value: user.CompanyID, ECert: true})
	}
	if user.CompanyName != "" {
		attrs = append(attrs, ca.Attribute{Name: "companyName", Value: user.CompanyName, ECert: true})
	}

	if _, err := registrar.Register(ctx, s.cfg.CA.AdminID, s.cfg.CA.AdminSecret, &ca.RegistrationRequest{
		ID:             user.ID,
		Type:           "client",
		Secret:         secret,
		MaxEnrollments: -1,
		Affiliation:    affiliation,
		Attributes:     attrs,
	}); err != nil {
		return fmt.Errorf("CA registration failed: %w", err)
	}

	enrollment, err := registrar.Enroll(ctx, user.ID, secret)
	if err != nil {
		return fmt.Errorf("CA enrollment failed: %w", err)
	}

	orgCfg, err := s.cfg.Org(org)
	if err != nil {
		return err
	}

	if err := s.wallet.Put(ctx, user.ID, orgCfg.MSPID,
		enrollment.Certificate, enrollment.PrivateKey, org, user.ID); err != nil {
		return fmt.Errorf("wallet persist failed: %w", err)
	}
	return nil
}

// Authenticate verifies username/password and returns the user.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.GetByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrBadCredentials
	}
	if !user.IsEnrolled {
		return nil, fmt.Errorf("%w: user has no ledger identity", ErrBadCredentials)
	}
	return user, nil
}

// GetByID loads a user by id.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	return s.getUser(ctx, `WHERE id = $1`, id)
}

// GetByUsername loads a user by username.
func (s *UserService) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getUser(ctx, `WHERE username = $1`, username)
}

// --- persistence ---

const userColumns = `id, username, email, password_hash, role, full_name,
	address, company_id, company_name, vehicle_info, is_enrolled, created_at, updated_at`

func (s *UserService) insertUser(ctx context.Context, u *models.User) error {
	addressJSON, err := marshalNullable(u.Address)
	if err != nil {
		return err
	}
	vehicleJSON, err := marshalNullable(u.VehicleInfo)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		u.ID, u.Username, u.Email, u.PasswordHash, string(u.Role), u.FullName,
		addressJSON, nullable(u.CompanyID), nullable(u.CompanyName), vehicleJSON,
		u.IsEnrolled, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username or email taken", ErrAlreadyExists)
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *UserService) getUser(ctx context.Context, where string, arg interface{}) (*models.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users `+where, arg)

	var u models.User
	var role string
	var addressJSON, vehicleJSON []byte
	var companyID, companyName *string
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &role, &u.FullName,
		&addressJSON, &companyID, &companyName, &vehicleJSON, &u.IsEnrolled, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	u.Role = models.Role(role)
	if companyID != nil {
		u.CompanyID = *companyID
	}
	if companyName != nil {
		u.CompanyName = *companyName
	}
	if len(addressJSON) > 0 {
		u.Address = &models.Address{}
		if err := json.Unmarshal(addressJSON, u.Address); err != nil {
			return nil, fmt.Errorf("failed to decode address: %w", err)
		}
	}
	if len(vehicleJSON) > 0 {
		u.VehicleInfo = &models.VehicleInfo{}
		if err := json.Unmarshal(vehicleJSON, u.VehicleInfo); err != nil {
			return nil, fmt.Errorf("failed to decode vehicle info: %w", err)
		}
	}
	return &u, nil
}

func (s *UserService) deleteUser(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	return err
}

func (s *UserService) markEnrolled(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE users SET is_enrolled = TRUE, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark user enrolled: %w", err)
	}
	return nil
}

// --- validation ---

func (s *UserService) validateRegistration(p RegisterParams) error {
	if len(p.Username) < 3 || len(p.Username) > 64 {
		return NewValidationError("username", "must be 3–64 characters")
	}
	if _, err := mail.ParseAddress(p.Email); err != nil {
		return NewValidationError("email", "must be a valid email address")
	}
	if len(p.Password) < 8 {
		return NewValidationError("password", "must be at least 8 characters")
	}
	if !p.Role.IsValid() {
		return NewValidationError("role", fmt.Sprintf("unknown role %q", p.Role))
	}
	if p.Role == models.RoleAdmin {
		return NewValidationError("role", "admin accounts cannot self-register")
	}
	if p.FullName == "" {
		return NewValidationError("fullName", "must not be empty")
	}
	return nil
}

// --- helpers ---

func marshalNullable(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case *models.Address:
		if t == nil {
			return nil, nil
		}
	case *models.VehicleInfo:
		if t == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal field: %w", err)
	}
	return data, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// isUniqueViolation reports whether err is a PostgreSQL unique
// constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
