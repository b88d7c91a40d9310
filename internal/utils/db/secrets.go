package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/KromaEnergia/contract-engine/internal/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SecretGetter is the part of the Secrets Manager client used here.
type SecretGetter interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

var newSecretsClient = func(ctx context.Context) (SecretGetter, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return secretsmanager.NewFromConfig(cfg), nil
}

// retrieveCredentials prefers DB_USERNAME/DB_PASSWORD and falls back to the
// Secrets Manager secret named by DB_SECRET_ID.
func retrieveCredentials(ctx context.Context, cfg config.Database) (string, string, error) {
	if cfg.Username != "" && cfg.Password != "" {
		return cfg.Username, cfg.Password, nil
	}
	if cfg.SecretID == "" {
		return "", "", fmt.Errorf("database credentials: set DB_USERNAME/DB_PASSWORD or DB_SECRET_ID")
	}
	client, err := newSecretsClient(ctx)
	if err != nil {
		return "", "", err
	}
	return fetchCredentials(ctx, client, cfg.SecretID)
}

func fetchCredentials(ctx context.Context, client SecretGetter, secretID string) (string, string, error) {
	input := &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(secretID),
		VersionStage: aws.String("AWSCURRENT"), // VersionStage defaults to AWSCURRENT if unspecified
	}
	result, err := client.GetSecretValue(ctx, input)
	if err != nil {
		return "", "", fmt.Errorf("get secret %s: %w", secretID, err)
	}
	if result.SecretString == nil {
		return "", "", fmt.Errorf("secret %s has no string value", secretID)
	}

	var secret Credentials
	if err := json.Unmarshal([]byte(*result.SecretString), &secret); err != nil {
		return "", "", fmt.Errorf("decode secret %s: %w", secretID, err)
	}
	return secret.Username, secret.Password, nil
}
