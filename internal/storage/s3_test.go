package storage

import (
	"context"
	"net/url"
	"testing"

	"github.com/hugh/go-referral/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewS3Presigner_NotConfigured(t *testing.T) {
	_, err := NewS3Presigner(context.Background(), config.StorageConfig{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestS3Presigner_PresignGet(t *testing.T) {
	p, err := NewS3Presigner(context.Background(), config.StorageConfig{
		Bucket:            "referral-reports",
		Region:            "us-east-1",
		Endpoint:          "http://localhost:9000",
		AccessKeyID:       "minio",
		SecretAccessKey:   "minio-secret",
		PresignTTLMinutes: 5,
	})
	require.NoError(t, err)

	raw, err := p.PresignGet(context.Background(), "/reports/2024/post-op.pdf")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", u.Host)
	assert.Equal(t, "/referral-reports/reports/2024/post-op.pdf", u.Path)
	assert.Equal(t, "300", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))

	_, err = p.PresignGet(context.Background(), "")
	assert.Error(t, err)
}
