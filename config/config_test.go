package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		provider Provider
		name     string
		want     Key
	}{
		{AWS, "access_key_id", AWSAccessKeyID},
		{AWS, "AWS_ACCESS_KEY_ID", AWSAccessKeyID},
		{AWS, "aws_default_region", AWSRegion},
		{AWS, "endpoint_url", AWSEndpoint},
		{AWS, "allow_http", AWSAllowHTTP},
		{Azure, "AZURE_STORAGE_ACCOUNT_NAME", AzureAccountName},
		{Azure, "azure_storage_access_key", AzureAccountKey},
		{Azure, "use_emulator", AzureUseEmulator},
		{GCP, "google_service_account", GCPServiceAccountPath},
		{GCP, "service_account_key", GCPServiceAccountKey},
		{GCP, "anonymous", GCPAnonymous},
	}
	for _, tt := range tests {
		got, err := ParseKey(tt.provider, tt.name)
		require.NoError(t, err, "ParseKey(%s, %q)", tt.provider, tt.name)
		assert.Equal(t, tt.want, got, "ParseKey(%s, %q)", tt.provider, tt.name)
	}
}

func TestParseKeyUnknown(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		provider Provider
		name     string
	}{
		{AWS, "acess_key_id"},
		{AWS, "account_name"},
		{Azure, "access_key_id"},
		{GCP, "region"},
		{Provider(99), "region"},
	} {
		_, err := ParseKey(tt.provider, tt.name)
		assert.ErrorIs(t, err, ErrUnknownKey, "ParseKey(%s, %q)", tt.provider, tt.name)
	}
}

func TestFromUntyped(t *testing.T) {
	t.Parallel()

	o, err := FromUntyped("s3://bucket/key", map[string]string{
		"aws_access_key_id":     "id",
		"aws_secret_access_key": "secret",
		"endpoint":              "http://localhost:9000",
	})
	require.NoError(t, err)
	require.NotNil(t, o.AWS)
	assert.Nil(t, o.Azure)
	assert.Nil(t, o.GCP)
	assert.Equal(t, "id", o.AWS.Value(AWSAccessKeyID))
	assert.Equal(t, "secret", o.AWS.Value(AWSSecretAccessKey))
	assert.Equal(t, "http://localhost:9000", o.AWS.Value(AWSEndpoint))

	_, err = FromUntyped("gs://bucket/key", map[string]string{"nope": "x"})
	assert.ErrorIs(t, err, ErrUnknownKey)

	local, err := FromUntyped("/tmp/file", map[string]string{"anything": "x"})
	require.NoError(t, err)
	assert.Equal(t, Options{}, local)
}

func TestOptionsFor(t *testing.T) {
	t.Parallel()

	o := Options{}.WithAzure()
	ps, err := o.For(Azure)
	require.NoError(t, err)
	assert.Empty(t, ps)

	_, err = o.For(AWS)
	var missing *MissingError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, AWS, missing.Provider)
	assert.ErrorIs(t, err, ErrMissingConfiguration)
}

func TestPairsOverride(t *testing.T) {
	t.Parallel()

	ps := Pairs{
		{Key: AWSAllowHTTP, Value: "false"},
		{Key: AWSAllowHTTP, Value: "true"},
	}
	b, err := ps.Bool(AWSAllowHTTP)
	require.NoError(t, err)
	assert.True(t, b)

	b, err = ps.Bool(AWSRegion)
	require.NoError(t, err)
	assert.False(t, b)

	_, err = Pairs{{Key: AWSAllowHTTP, Value: "maybe"}}.Bool(AWSAllowHTTP)
	assert.Error(t, err)
}

func TestDecode(t *testing.T) {
	t.Parallel()

	o, err := Decode(strings.NewReader(`
aws:
  aws_access_key_id: minioadmin
  secret_access_key: minioadmin
  endpoint: http://localhost:9000
  allow_http: true
gcp: {}
`))
	require.NoError(t, err)
	assert.Equal(t, "minioadmin", o.AWS.Value(AWSAccessKeyID))
	allow, err := o.AWS.Bool(AWSAllowHTTP)
	require.NoError(t, err)
	assert.True(t, allow)
	assert.Nil(t, o.Azure)
	assert.NotNil(t, o.GCP)
}

func TestDecodeRejectsUnknown(t *testing.T) {
	t.Parallel()

	_, err := Decode(strings.NewReader("aws:\n  colour: blue\n"))
	assert.ErrorIs(t, err, ErrUnknownKey)

	_, err = Decode(strings.NewReader("oracle:\n  key: x\n"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "obstinate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("azure:\n  account_name: devstoreaccount1\n"), 0o600))

	o, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "devstoreaccount1", o.Azure.Value(AzureAccountName))

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

// TestSetDefaultFirstWriterWins is the only test that touches the
// process-wide default.
func TestSetDefaultFirstWriterWins(t *testing.T) {
	first := Options{}.WithAWS(Pair{Key: AWSRegion, Value: "us-east-1"})
	second := Options{}.WithAWS(Pair{Key: AWSRegion, Value: "eu-west-1"})

	assert.True(t, SetDefault(first))
	assert.False(t, SetDefault(second))

	got, ok := Default()
	require.True(t, ok)
	assert.Equal(t, "us-east-1", got.AWS.Value(AWSRegion))

	got.AWS[0].Value = "mutated"
	again, _ := Default()
	assert.Equal(t, "us-east-1", again.AWS.Value(AWSRegion))
}
