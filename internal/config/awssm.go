package config

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// resolveAWSSecretsManager reads a secret from AWS Secrets Manager.
// Format: secret-name, or secret-name#key for a JSON secret such as the
// ones RDS creates ({"username": ..., "password": ...}).
func resolveAWSSecretsManager(ref string) (string, error) {
	name, key, hasKey := splitRef(ref)
	if !hasKey {
		name = ref
	}

	ctx := context.Background()
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("loading AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(cfg)
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("getting secret %q: %w", name, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %q has no string value (binary secrets not supported)", name)
	}
	if !hasKey {
		return *out.SecretString, nil
	}
	return jsonSecretField(*out.SecretString, key, name)
}

func jsonSecretField(secret, key, name string) (string, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(secret), &data); err != nil {
		return "", fmt.Errorf("secret %q is not a JSON object: %w", name, err)
	}
	return secretField(data, key, name)
}
