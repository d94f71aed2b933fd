package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/hmsportal/hms/internal/config"
	"github.com/hmsportal/hms/internal/db/models"
	"github.com/hmsportal/hms/internal/utils"
	"github.com/hmsportal/hms/pkg/metrics"
)

type SessionStore struct {
	sessions map[string]SessionData
	mutex    sync.RWMutex
}

type SessionData struct {
	UserID    string
	TenantID  string
	ExpiresAt time.Time
	IPAddress string
	UserAgent string
}

type SessionOptions struct {
	Timeout           time.Duration
	MaxFailedAttempts int
	LockoutDuration   time.Duration
	CleanupInterval   time.Duration
	Clock             func() time.Time
}

func SessionOptionsFromConfig(cfg config.SecurityConfig) SessionOptions {
	return SessionOptions{
		Timeout:           cfg.SessionTimeout,
		MaxFailedAttempts: cfg.MaxFailedAttempts,
		LockoutDuration:   cfg.LockoutDuration,
	}
}

type SessionService struct {
	db           *gorm.DB
	sessionStore *SessionStore
	logger       *zap.Logger
	metrics      *metrics.MetricsCollector
	opts         SessionOptions
	stopChan     chan struct{}
	stopOnce     sync.Once
}

func NewSessionService(db *gorm.DB, logger *zap.Logger, metricsCollector *metrics.MetricsCollector, opts SessionOptions) *SessionService {
	if opts.Timeout <= 0 {
		opts.Timeout = 8 * time.Hour
	}
	if opts.MaxFailedAttempts <= 0 {
		opts.MaxFailedAttempts = 5
	}
	if opts.LockoutDuration <= 0 {
		opts.LockoutDuration = 15 * time.Minute
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = 15 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &SessionService{
		db: db,
		sessionStore: &SessionStore{
			sessions: make(map[string]SessionData),
		},
		logger:   logger.With(zap.String("service", "session_service")),
		metrics:  metricsCollector,
		opts:     opts,
		stopChan: make(chan struct{}),
	}
}

// Start runs the expired-session sweeper until ctx ends or Stop is called.
func (ss *SessionService) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(ss.opts.CleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ss.stopChan:
				return
			case <-ticker.C:
				ss.cleanupExpiredSessions()
			}
		}
	}()
}

func (ss *SessionService) Stop() {
	ss.stopOnce.Do(func() { close(ss.stopChan) })
}

func (ss *SessionService) cleanupExpiredSessions() int {
	ss.sessionStore.mutex.Lock()
	defer ss.sessionStore.mutex.Unlock()

	now := ss.opts.Clock()
	removed := 0
	for token, session := range ss.sessionStore.sessions {
		if now.After(session.ExpiresAt) {
			delete(ss.sessionStore.sessions, token)
			removed++
		}
	}
	if removed > 0 {
		ss.logger.Debug("Expired sessions removed", zap.Int("count", removed))
	}
	return removed
}

type LoginInput struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	TenantID  string `json:"tenantId" validate:"omitempty,uuid"`
	IPAddress string `json:"-"`
	UserAgent string `json:"-"`
}

type Session struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	Auth      AuthContext `json:"-"`
}

// Login checks the password, applies the failed-attempt lockout and opens a
// session in the requested tenant, or the user's oldest membership when none
// is given.
func (ss *SessionService) Login(ctx context.Context, in LoginInput) (session *Session, err error) {
	start := time.Now()
	defer func() { ss.metrics.ObserveOperation("session.login", start, err) }()

	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := validateInput(in); err != nil {
		return nil, err
	}

	now := ss.opts.Clock()
	var user models.User
	err = ss.db.WithContext(ctx).Where("email = ?", in.Email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		ss.logger.Warn("Login for unknown email", zap.String("ip", in.IPAddress))
		return nil, ErrInvalidLogin
	}
	if err != nil {
		return nil, err
	}

	if user.LockedOut(now) {
		ss.logger.Warn("Login while locked out", zap.String("user_id", user.ID), zap.String("ip", in.IPAddress))
		return nil, ErrAccountLocked
	}
	if !user.ActiveStatus {
		ss.logger.Warn("Inactive account login", zap.String("user_id", user.ID))
		return nil, ErrInvalidLogin
	}

	if ok, _ := utils.VerifyPassword(user.PasswordHash, in.Password); !ok {
		if err := ss.recordFailure(ctx, &user, now); err != nil {
			return nil, err
		}
		ss.logger.Warn("Invalid password",
			zap.String("user_id", user.ID),
			zap.Int("failed_attempts", user.FailedAttempts),
			zap.String("ip", in.IPAddress))
		return nil, ErrInvalidLogin
	}

	member, err := ss.membership(ctx, user.ID, in.TenantID)
	if err != nil {
		return nil, err
	}

	if err := ss.db.WithContext(ctx).Model(&user).Updates(map[string]any{
		"failed_attempts": 0,
		"lockout_until":   nil,
		"last_login":      now,
	}).Error; err != nil {
		return nil, err
	}

	token := uuid.New().String()
	expiresAt := now.Add(ss.opts.Timeout)

	ss.sessionStore.mutex.Lock()
	ss.sessionStore.sessions[token] = SessionData{
		UserID:    user.ID,
		TenantID:  member.TenantID,
		ExpiresAt: expiresAt,
		IPAddress: in.IPAddress,
		UserAgent: in.UserAgent,
	}
	ss.sessionStore.mutex.Unlock()

	ss.logger.Info("Session created",
		zap.String("user_id", user.ID),
		zap.String("tenant_id", member.TenantID),
		zap.String("role", string(member.Role)),
		zap.String("ip", in.IPAddress))

	return &Session{
		Token:     token,
		ExpiresAt: expiresAt,
		Auth: AuthContext{
			UserID:    user.ID,
			UserEmail: user.Email,
			TenantID:  member.TenantID,
			Role:      member.Role,
		},
	}, nil
}

// recordFailure increments the counter in the database so concurrent bad
// logins all count, and locks the account once it reaches the limit.
func (ss *SessionService) recordFailure(ctx context.Context, user *models.User, now time.Time) error {
	return ss.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.User{}).
			Where("id = ?", user.ID).
			Update("failed_attempts", gorm.Expr("failed_attempts + 1")).Error; err != nil {
			return err
		}

		var attempts int
		if err := tx.Model(&models.User{}).
			Where("id = ?", user.ID).
			Select("failed_attempts").
			Scan(&attempts).Error; err != nil {
			return err
		}
		user.FailedAttempts = attempts
		if attempts < ss.opts.MaxFailedAttempts {
			return nil
		}

		until := now.Add(ss.opts.LockoutDuration)
		user.LockoutUntil = &until
		user.FailedAttempts = 0
		ss.logger.Warn("Account locked", zap.String("user_id", user.ID), zap.Time("until", until))
		return tx.Model(&models.User{}).
			Where("id = ?", user.ID).
			Updates(map[string]any{"failed_attempts": 0, "lockout_until": until}).Error
	})
}

func (ss *SessionService) membership(ctx context.Context, userID, tenantID string) (*models.TenantMember, error) {
	q := ss.db.WithContext(ctx).Where("user_id = ?", userID)
	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}
	var member models.TenantMember
	err := q.Order("created_at ASC").First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

// Authenticate resolves a token to the caller. Role and active status are
// re-read on every call so revocations apply to open sessions.
func (ss *SessionService) Authenticate(ctx context.Context, token string) (AuthContext, error) {
	ss.sessionStore.mutex.RLock()
	session, exists := ss.sessionStore.sessions[token]
	ss.sessionStore.mutex.RUnlock()

	if !exists {
		return AuthContext{}, ErrInvalidSession
	}
	if ss.opts.Clock().After(session.ExpiresAt) {
		ss.Logout(token)
		return AuthContext{}, ErrInvalidSession
	}

	var member models.TenantMember
	err := ss.db.WithContext(ctx).
		Preload("User").
		Where("tenant_id = ? AND user_id = ?", session.TenantID, session.UserID).
		First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && (member.User == nil || !member.User.ActiveStatus)) {
		ss.Logout(token)
		return AuthContext{}, ErrInvalidSession
	}
	if err != nil {
		return AuthContext{}, err
	}

	return AuthContext{
		UserID:    member.UserID,
		UserEmail: member.User.Email,
		TenantID:  member.TenantID,
		Role:      member.Role,
	}, nil
}

func (ss *SessionService) Logout(token string) {
	ss.sessionStore.mutex.Lock()
	delete(ss.sessionStore.sessions, token)
	ss.sessionStore.mutex.Unlock()
}
