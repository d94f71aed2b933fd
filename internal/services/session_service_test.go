package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hmsportal/hms/internal/db/models"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func (f *fixture) sessions(clock *testClock) *SessionService {
	return NewSessionService(f.db, zap.NewNop(), nil, SessionOptions{
		Timeout:           time.Hour,
		MaxFailedAttempts: 3,
		LockoutDuration:   10 * time.Minute,
		Clock:             clock.Now,
	})
}

func TestSessionLogin(t *testing.T) {
	f := newFixture(t)
	clock := &testClock{now: fixedNow}
	ss := f.sessions(clock)
	ctx := context.Background()

	s, err := ss.Login(ctx, LoginInput{Email: "  Manager@Acme.test ", Password: "correct horse battery"})
	require.NoError(t, err)
	assert.NotEmpty(t, s.Token)
	assert.True(t, s.ExpiresAt.Equal(fixedNow.Add(time.Hour)))
	assert.Equal(t, f.manager, s.Auth)

	auth, err := ss.Authenticate(ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, f.manager, auth)

	var user models.User
	require.NoError(t, f.db.First(&user, "id = ?", f.manager.UserID).Error)
	require.NotNil(t, user.LastLogin)

	ss.Logout(s.Token)
	_, err = ss.Authenticate(ctx, s.Token)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestSessionLogin_Failures(t *testing.T) {
	f := newFixture(t)
	clock := &testClock{now: fixedNow}
	ss := f.sessions(clock)
	ctx := context.Background()

	_, err := ss.Login(ctx, LoginInput{Email: "nobody@acme.test", Password: "whatever"})
	assert.ErrorIs(t, err, ErrInvalidLogin)

	_, err = ss.Login(ctx, LoginInput{Email: "not-an-email", Password: "x"})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "email")

	_, err = ss.Login(ctx, LoginInput{Email: "employee@acme.test", Password: "correct horse battery", TenantID: f.other})
	assert.ErrorIs(t, err, ErrUnauthorized, "not a member of that tenant")

	_, err = ss.Login(ctx, LoginInput{Email: "employee@acme.test", Password: "correct horse battery", TenantID: uuid.New().String()})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestSessionLogin_Lockout(t *testing.T) {
	f := newFixture(t)
	clock := &testClock{now: fixedNow}
	ss := f.sessions(clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := ss.Login(ctx, LoginInput{Email: "employee@acme.test", Password: "wrong"})
		assert.ErrorIs(t, err, ErrInvalidLogin)
	}

	_, err := ss.Login(ctx, LoginInput{Email: "employee@acme.test", Password: "correct horse battery"})
	assert.ErrorIs(t, err, ErrAccountLocked)

	clock.now = fixedNow.Add(11 * time.Minute)
	_, err = ss.Login(ctx, LoginInput{Email: "employee@acme.test", Password: "correct horse battery"})
	require.NoError(t, err)
}

func TestSessionLogin_ConcurrentFailuresAllCount(t *testing.T) {
	f := newFixture(t)
	clock := &testClock{now: fixedNow}
	ss := f.sessions(clock)
	ctx := context.Background()

	var g errgroup.Group
	for i := 0; i < 2; i++ {
		g.Go(func() error {
			_, err := ss.Login(ctx, LoginInput{Email: "employee@acme.test", Password: "wrong"})
			if !errors.Is(err, ErrInvalidLogin) {
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var user models.User
	require.NoError(t, f.db.First(&user, "id = ?", f.employee.UserID).Error)
	assert.Equal(t, 2, user.FailedAttempts)
	assert.Nil(t, user.LockoutUntil)

	_, err := ss.Login(ctx, LoginInput{Email: "employee@acme.test", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidLogin)

	require.NoError(t, f.db.First(&user, "id = ?", f.employee.UserID).Error)
	assert.Zero(t, user.FailedAttempts)
	require.NotNil(t, user.LockoutUntil)
	assert.True(t, user.LockoutUntil.Equal(fixedNow.Add(10*time.Minute)))
}

func TestSessionAuthenticate_ExpiryAndRevocation(t *testing.T) {
	f := newFixture(t)
	clock := &testClock{now: fixedNow}
	ss := f.sessions(clock)
	ctx := context.Background()

	s, err := ss.Login(ctx, LoginInput{Email: "employee@acme.test", Password: "correct horse battery"})
	require.NoError(t, err)

	// role changes apply to open sessions
	require.NoError(t, f.db.Model(&models.TenantMember{}).
		Where("tenant_id = ? AND user_id = ?", f.tenantID, f.employee.UserID).
		Update("role", models.RoleAuditor).Error)
	auth, err := ss.Authenticate(ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAuditor, auth.Role)

	require.NoError(t, f.db.Model(&models.User{}).Where("id = ?", f.employee.UserID).
		Update("active_status", false).Error)
	_, err = ss.Authenticate(ctx, s.Token)
	assert.ErrorIs(t, err, ErrInvalidSession)

	s, err = ss.Login(ctx, LoginInput{Email: "manager@acme.test", Password: "correct horse battery"})
	require.NoError(t, err)
	clock.now = fixedNow.Add(2 * time.Hour)
	_, err = ss.Authenticate(ctx, s.Token)
	assert.ErrorIs(t, err, ErrInvalidSession)

	_, err = ss.Authenticate(ctx, "unknown")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestSessionCleanup(t *testing.T) {
	f := newFixture(t)
	clock := &testClock{now: fixedNow}
	ss := f.sessions(clock)

	_, err := ss.Login(context.Background(), LoginInput{Email: "admin@acme.test", Password: "correct horse battery"})
	require.NoError(t, err)

	assert.Zero(t, ss.cleanupExpiredSessions())
	clock.now = fixedNow.Add(61 * time.Minute)
	assert.Equal(t, 1, ss.cleanupExpiredSessions())

	ss.Start(context.Background())
	ss.Stop()
	ss.Stop()
}

func TestMemberService(t *testing.T) {
	f := newFixture(t)
	ms := NewMemberService(f.db, NewRoleGate(DefaultGrants()), zap.NewNop())
	ctx := context.Background()

	members, err := ms.List(ctx, f.auditor)
	require.NoError(t, err)
	assert.Len(t, members, 4)
	for _, m := range members {
		assert.Equal(t, f.tenantID, m.TenantID)
	}

	me, err := ms.Me(ctx, f.employee)
	require.NoError(t, err)
	assert.Equal(t, "employee@acme.test", me.Email)
	assert.Equal(t, models.RoleEmployee, me.Role)

	_, err = ms.List(ctx, AuthContext{})
	assert.ErrorIs(t, err, ErrUnauthorized)
}
