// internal/services/users/service.go
package users

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"trades-marketplace/internal/common/auth"
	"trades-marketplace/internal/common/camunda"
	"trades-marketplace/internal/common/config"
	"trades-marketplace/internal/common/database"
	apperrors "trades-marketplace/internal/common/errors"
	"trades-marketplace/internal/common/logger"
	"trades-marketplace/internal/common/metrics"
	"trades-marketplace/internal/common/validation"
	"trades-marketplace/internal/models"
	"trades-marketplace/pkg/registry"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const userColumns = `id, email, password_hash, full_name, role, phone, trade, skills, location,
	hourly_rate_cents, bio, rating_avg, rating_count, suspended, created_at, updated_at`

type RegisterRequest struct {
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
	FullName string `json:"fullName,omitempty"`
	Role     string `json:"role,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
}

// ProfileUpdate holds the fields a user may change on their own profile. Nil fields are left alone.
type ProfileUpdate struct {
	FullName        *string   `json:"fullName,omitempty"`
	Phone           *string   `json:"phone,omitempty"`
	Trade           *string   `json:"trade,omitempty"`
	Skills          *[]string `json:"skills,omitempty"`
	Location        *string   `json:"location,omitempty"`
	HourlyRateCents *int64    `json:"hourlyRateCents,omitempty"`
	Bio             *string   `json:"bio,omitempty"`
}

// Service owns accounts: registration, login with lockout, logout and profiles.
type Service struct {
	db       *sql.DB
	tokens   *auth.TokenManager
	lockout  *auth.Lockout
	denylist *auth.Denylist
	engine   camunda.Engine
	cfg      config.AuthConfig
	logger   logger.Logger
	now      func() time.Time
}

func NewService(
	db *sql.DB,
	tokens *auth.TokenManager,
	lockout *auth.Lockout,
	denylist *auth.Denylist,
	engine camunda.Engine,
	cfg config.AuthConfig,
	log logger.Logger,
) *Service {
	return &Service{
		db:       db,
		tokens:   tokens,
		lockout:  lockout,
		denylist: denylist,
		engine:   engine,
		cfg:      cfg,
		logger:   log,
		now:      time.Now,
	}
}

// PasswordStrength scores a candidate password against the configured policy.
func (s *Service) PasswordStrength(password, email string) models.PasswordStrength {
	return auth.CheckPasswordStrength(password, email, s.cfg.Password.MinLength)
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) (*models.AuthToken, error) {
	if err := validation.RegisterSchema.Check(req); err != nil {
		return nil, err
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !validation.ValidateEmail(email) {
		return nil, apperrors.NewValidationError("email: invalid email address")
	}
	if req.Phone != "" && !validation.ValidatePhone(req.Phone) {
		return nil, apperrors.NewValidationError("phone: invalid phone number")
	}

	strength := s.PasswordStrength(req.Password, email)
	if !strength.Valid {
		return nil, apperrors.NewWeakPasswordError(strength.Feedback)
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	role := models.Role(req.Role)
	if s.cfg.IsAdminEmail(email) {
		role = models.RoleAdmin
	}

	now := s.now().UTC()
	user := &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(req.FullName),
		Role:         role,
		Phone:        req.Phone,
		Skills:       []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, full_name, role, phone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.Email, user.PasswordHash, user.FullName, string(user.Role), user.Phone, now, now,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apperrors.NewEmailTakenError()
		}
		return nil, apperrors.NewDatabaseInsertFailedError(err)
	}

	s.logger.Info("user registered", map[string]interface{}{"userId": user.ID, "role": string(user.Role)})

	if user.Role == models.RoleWorker {
		s.startProfileIndex(ctx, user.ID)
	}
	return s.tokens.Issue(user)
}

// Login checks credentials. Unknown email and wrong password are indistinguishable to the
// caller and both count towards the lockout.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*models.AuthToken, error) {
	if err := validation.LoginSchema.Check(req); err != nil {
		return nil, err
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	remaining, err := s.lockout.LockedFor(ctx, email)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if remaining > 0 {
		metrics.LoginFailures.WithLabelValues("locked").Inc()
		return nil, apperrors.NewAccountLockedError(remaining)
	}

	user, err := s.getByEmail(ctx, email)
	if err != nil && !apperrors.HasCode(err, apperrors.ErrCodeResourceNotFound) {
		return nil, err
	}
	if user == nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		metrics.LoginFailures.WithLabelValues("bad_credentials").Inc()
		lockedFor, err := s.lockout.RegisterFailure(ctx, email)
		if err != nil {
			return nil, apperrors.NewInternalError(err)
		}
		if lockedFor > 0 {
			s.logger.Warn("account locked after repeated failures", map[string]interface{}{"email": email})
			return nil, apperrors.NewAccountLockedError(lockedFor)
		}
		return nil, apperrors.NewAuthenticationError("invalid email or password")
	}

	if user.Suspended {
		metrics.LoginFailures.WithLabelValues("suspended").Inc()
		return nil, apperrors.NewAccountSuspendedError()
	}

	if err := s.lockout.Reset(ctx, email); err != nil {
		s.logger.Warn("failed to reset login failures", map[string]interface{}{"error": err.Error()})
	}
	return s.tokens.Issue(user)
}

// Logout revokes the caller's token until it expires.
func (s *Service) Logout(ctx context.Context, p auth.Principal) error {
	if err := s.denylist.Revoke(ctx, p.TokenID, p.ExpiresAt); err != nil {
		return apperrors.NewInternalError(err)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := ScanUser(row)
	if err != nil {
		return nil, database.NotFound("user", id, err)
	}
	return user, nil
}

// GetPublic returns a profile with contact details removed.
func (s *Service) GetPublic(ctx context.Context, id string) (*models.User, error) {
	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	public := user.Public()
	return &public, nil
}

func (s *Service) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (*models.User, error) {
	if err := validation.ProfileUpdateSchema.Check(update); err != nil {
		return nil, err
	}
	if update.Phone != nil && *update.Phone != "" && !validation.ValidatePhone(*update.Phone) {
		return nil, apperrors.NewValidationError("phone: invalid phone number")
	}

	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if update.FullName != nil {
		user.FullName = strings.TrimSpace(*update.FullName)
	}
	if update.Phone != nil {
		user.Phone = *update.Phone
	}
	if update.Trade != nil {
		user.Trade = *update.Trade
	}
	if update.Skills != nil {
		user.Skills = *update.Skills
	}
	if update.Location != nil {
		user.Location = strings.TrimSpace(*update.Location)
	}
	if update.HourlyRateCents != nil {
		user.HourlyRateCents = *update.HourlyRateCents
	}
	if update.Bio != nil {
		user.Bio = *update.Bio
	}
	user.UpdatedAt = s.now().UTC()

	_, err = s.db.ExecContext(ctx, `
		UPDATE users
		SET full_name = $2, phone = $3, trade = $4, skills = $5, location = $6,
			hourly_rate_cents = $7, bio = $8, updated_at = $9
		WHERE id = $1`,
		user.ID, user.FullName, user.Phone, user.Trade, pq.Array(user.Skills), user.Location,
		user.HourlyRateCents, user.Bio, user.UpdatedAt,
	)
	if err != nil {
		return nil, database.QueryError("update-profile", err)
	}

	if user.Role == models.RoleWorker {
		s.startProfileIndex(ctx, user.ID)
	}
	return user, nil
}

func (s *Service) getByEmail(ctx context.Context, email string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	user, err := ScanUser(row)
	if err != nil {
		return nil, database.NotFound("user", email, err)
	}
	return user, nil
}

func (s *Service) startProfileIndex(ctx context.Context, userID string) {
	err := s.engine.StartProcess(ctx, registry.ProcessProfileUpdated, map[string]interface{}{
		"documentType": "worker",
		"documentId":   userID,
		"operation":    "upsert",
	})
	if err != nil {
		logger.FromContext(ctx, s.logger).Warn("failed to start profile-updated process", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
	}
}

// ScanUser reads a row selected with the standard user column list.
func ScanUser(row database.Scanner) (*models.User, error) {
	var (
		u    models.User
		role string
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &role, &u.Phone, &u.Trade,
		pq.Array(&u.Skills), &u.Location, &u.HourlyRateCents, &u.Bio, &u.RatingAvg,
		&u.RatingCount, &u.Suspended, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	if u.Skills == nil {
		u.Skills = []string{}
	}
	return &u, nil
}

// Columns is the select list ScanUser expects.
func Columns() string {
	return userColumns
}
