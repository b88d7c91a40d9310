package db

import (
	"context"
	"errors"
	"testing"

	"github.com/KromaEnergia/contract-engine/internal/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecrets struct {
	value *string
	err   error
	asked string
}

func (f *fakeSecrets) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.asked = aws.ToString(in.SecretId)
	if f.err != nil {
		return nil, f.err
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: f.value}, nil
}

func TestRetrieveCredentialsPrefersEnvironment(t *testing.T) {
	user, pass, err := retrieveCredentials(context.Background(), config.Database{Username: "app", Password: "pw", SecretID: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "app", user)
	assert.Equal(t, "pw", pass)
}

func TestRetrieveCredentialsNeedsSomeSource(t *testing.T) {
	_, _, err := retrieveCredentials(context.Background(), config.Database{})
	assert.Error(t, err)
}

func TestFetchCredentialsFromSecret(t *testing.T) {
	f := &fakeSecrets{value: aws.String(`{"username":"svc","password":"s3cret"}`)}

	user, pass, err := fetchCredentials(context.Background(), f, "prod/db")
	require.NoError(t, err)
	assert.Equal(t, "prod/db", f.asked)
	assert.Equal(t, "svc", user)
	assert.Equal(t, "s3cret", pass)
}

func TestFetchCredentialsErrors(t *testing.T) {
	_, _, err := fetchCredentials(context.Background(), &fakeSecrets{err: errors.New("denied")}, "x")
	assert.ErrorContains(t, err, "denied")

	_, _, err = fetchCredentials(context.Background(), &fakeSecrets{}, "x")
	assert.ErrorContains(t, err, "no string value")

	_, _, err = fetchCredentials(context.Background(), &fakeSecrets{value: aws.String("not json")}, "x")
	assert.ErrorContains(t, err, "decode secret")
}
