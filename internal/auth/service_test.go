package auth_test

import (
	"context"
	"testing"

	"github.com/hugh/go-referral/internal/auth"
	"github.com/hugh/go-referral/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_RegisterAndLogin(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	jwtService := testutil.CreateTestJWTService()
	svc := auth.NewService(db, jwtService)
	ctx := context.Background()

	resp, err := svc.Register(ctx, auth.RegisterInput{
		Email:      "owner@brightsmile.example",
		Password:   "correct-horse-battery",
		Name:       "Dana Reyes",
		ClinicName: "Bright Smile Endodontics",
		City:       "Portland",
	})
	require.NoError(t, err)
	require.NotNil(t, resp.User.Clinic)
	assert.Equal(t, "owner", resp.User.Role)
	assert.Regexp(t, `^bright-smile-endodontics-[0-9a-f]{6}$`, resp.User.Clinic.Slug)
	assert.True(t, resp.User.Clinic.AcceptsPublicReferrals)

	claims, err := jwtService.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.User.Clinic.ID, claims.ClinicID)

	t.Run("duplicate email", func(t *testing.T) {
		_, err := svc.Register(ctx, auth.RegisterInput{
			Email:    "owner@brightsmile.example",
			Password: "another-password",
			Name:     "Someone",
		})
		assert.ErrorIs(t, err, auth.ErrUserExists)
	})

	t.Run("duplicate slug", func(t *testing.T) {
		_, err := svc.Register(ctx, auth.RegisterInput{
			Email:      "other@example.com",
			Password:   "another-password",
			Name:       "Other",
			ClinicSlug: resp.User.Clinic.Slug,
		})
		assert.ErrorIs(t, err, auth.ErrSlugTaken)
	})

	t.Run("login", func(t *testing.T) {
		login, err := svc.Login(ctx, auth.LoginInput{Email: "owner@brightsmile.example", Password: "correct-horse-battery"})
		require.NoError(t, err)
		assert.Equal(t, resp.User.ID, login.User.ID)
		require.NotNil(t, login.User.Clinic)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := svc.Login(ctx, auth.LoginInput{Email: "owner@brightsmile.example", Password: "nope"})
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := svc.Login(ctx, auth.LoginInput{Email: "ghost@example.com", Password: "whatever"})
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})
}

func TestPassword(t *testing.T) {
	hash, err := auth.HashPassword("s3cret-pass")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret-pass", hash)
	assert.True(t, auth.CheckPassword("s3cret-pass", hash))
	assert.False(t, auth.CheckPassword("wrong", hash))
}
