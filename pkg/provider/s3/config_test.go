package s3

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, (&Config{}).Validate())
	assert.NoError(t, (&Config{AccessKeyID: "k", SecretAccessKey: "s"}).Validate())

	err := (&Config{AccessKeyID: "k"}).Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "both access key ID and secret access key")

	assert.Error(t, (&Config{SecretAccessKey: "s"}).Validate())
}

func TestResolveRegion(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		endpoint   string
		resolved   string
		want       string
	}{
		{"explicit wins", "eu-west-1", "", "us-west-2", "eu-west-1"},
		{"sdk resolved", "", "", "us-west-2", "us-west-2"},
		{"aws fallback", "", "", "", DefaultAWSRegion},
		{"compatible endpoint no default", "", "http://localhost:9000", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveRegion(tt.configured, tt.endpoint, tt.resolved))
		})
	}
}

func TestLockKey(t *testing.T) {
	assert.Equal(t, "jobs/.locks/j1.lock", LockKey("jobs", "j1"))
	assert.Equal(t, "jobs/.locks/j1.lock", LockKey("/jobs/", "j1"))
	assert.Equal(t, ".locks/j1.lock", LockKey("", "j1"))
}
