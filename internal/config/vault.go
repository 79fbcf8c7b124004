package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/vault/api"
)

// splitRef splits a secret reference of the form path#key.
func splitRef(ref string) (path, key string, ok bool) {
	path, key, ok = strings.Cut(ref, "#")
	if !ok || path == "" || key == "" {
		return "", "", false
	}
	return path, key, true
}

// resolveVault reads one key of a Vault secret.
// Format: secret/data/path#key
func resolveVault(ref string) (string, error) {
	path, key, ok := splitRef(ref)
	if !ok {
		return "", fmt.Errorf("invalid Vault reference %q: expected format path#key", ref)
	}

	addr := os.Getenv("VAULT_ADDR")
	if addr == "" {
		return "", fmt.Errorf("VAULT_ADDR environment variable not set")
	}
	token := os.Getenv("VAULT_TOKEN")
	if token == "" {
		return "", fmt.Errorf("VAULT_TOKEN environment variable not set")
	}

	cfg := api.DefaultConfig()
	cfg.Address = addr
	client, err := api.NewClient(cfg)
	if err != nil {
		return "", fmt.Errorf("creating Vault client: %w", err)
	}
	client.SetToken(token)
	if ns := os.Getenv("VAULT_NAMESPACE"); ns != "" {
		client.SetNamespace(ns)
	}

	secret, err := client.Logical().Read(path)
	if err != nil {
		return "", fmt.Errorf("reading Vault secret at %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("no secret found at %s", path)
	}
	return secretField(secret.Data, key, path)
}

// secretField extracts a string field, unwrapping the KV v2 "data" envelope.
func secretField(data map[string]any, key, path string) (string, error) {
	if inner, ok := data["data"].(map[string]any); ok {
		data = inner
	}
	val, ok := data[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in secret at %s", key, path)
	}
	str, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("secret value for key %q at %s is not a string", key, path)
	}
	return str, nil
}
