package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/hashicorp/vault/api"
)

// SecretManager retrieves named secrets from a backend.
type SecretManager interface {
	GetSecret(key string) (string, error)
}

// EnvSecretManager reads secrets from ARGUS_-prefixed environment
// variables. It is the default backend.
type EnvSecretManager struct{}

func (e *EnvSecretManager) GetSecret(key string) (string, error) {
	envKey := "ARGUS_" + strings.ToUpper(key)
	value := os.Getenv(envKey)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envKey)
	}
	return value, nil
}

// VaultSecretManager reads secrets from a HashiCorp Vault KV path.
type VaultSecretManager struct {
	client *api.Client
	path   string
}

func NewVaultSecretManager(cfg VaultConfig) (*VaultSecretManager, error) {
	client, err := api.NewClient(&api.Config{
		Address: cfg.Address,
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	} else if token := os.Getenv("VAULT_TOKEN"); token != "" {
		client.SetToken(token)
	}

	path := cfg.Path
	if path == "" {
		path = "secret/argus"
	}

	return &VaultSecretManager{client: client, path: path}, nil
}

func (v *VaultSecretManager) GetSecret(key string) (string, error) {
	secret, err := v.client.Logical().Read(v.path)
	if err != nil {
		return "", fmt.Errorf("failed to read from Vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("secret not found at path %s", v.path)
	}

	value, ok := secret.Data[key]
	if !ok {
		return "", fmt.Errorf("key %s not found in Vault secret", key)
	}
	strValue, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("secret value for key %s is not a string", key)
	}
	return strValue, nil
}

// AWSSecretManager reads secrets from a single AWS Secrets Manager
// secret holding a JSON object of key/value pairs.
type AWSSecretManager struct {
	client   *secretsmanager.SecretsManager
	secretID string
}

func NewAWSSecretManager(cfg AWSConfig) (*AWSSecretManager, error) {
	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	secretID := cfg.SecretID
	if secretID == "" {
		secretID = "argus/secrets"
	}

	return &AWSSecretManager{client: secretsmanager.New(sess), secretID: secretID}, nil
}

func (a *AWSSecretManager) GetSecret(key string) (string, error) {
	result, err := a.client.GetSecretValue(&secretsmanager.GetSecretValueInput{
		SecretId: aws.String(a.secretID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret from AWS: %w", err)
	}

	var secrets map[string]string
	if err := json.Unmarshal([]byte(aws.StringValue(result.SecretString)), &secrets); err != nil {
		return "", fmt.Errorf("failed to parse AWS secret JSON: %w", err)
	}

	value, ok := secrets[key]
	if !ok {
		return "", fmt.Errorf("key %s not found in AWS secret", key)
	}
	return value, nil
}

// NewSecretManager creates the secret manager selected by
// secrets.provider.
func NewSecretManager(cfg *Config) (SecretManager, error) {
	provider := cfg.Secrets.Provider
	if provider == "" {
		provider = "env"
	}

	switch provider {
	case "env":
		return &EnvSecretManager{}, nil
	case "vault":
		return NewVaultSecretManager(cfg.Secrets.Vault)
	case "aws":
		return NewAWSSecretManager(cfg.Secrets.AWS)
	default:
		return nil, fmt.Errorf("unsupported secret provider: %s", provider)
	}
}

// splitIndirection splits a "scheme:key" secret reference. Values
// without a recognized scheme are returned verbatim by the resolver.
func splitIndirection(value string) (scheme, key string, ok bool) {
	for _, s := range []string{"env", "vault", "aws"} {
		prefix := s + ":"
		if strings.HasPrefix(value, prefix) {
			return s, strings.TrimPrefix(value, prefix), true
		}
	}
	return "", "", false
}

type secretResolver struct {
	cfg      *Config
	managers map[string]SecretManager
}

func (r *secretResolver) managerFor(scheme string) (SecretManager, error) {
	if m, ok := r.managers[scheme]; ok {
		return m, nil
	}

	var m SecretManager
	var err error
	switch scheme {
	case "env":
		m = &EnvSecretManager{}
	case "vault":
		m, err = NewVaultSecretManager(r.cfg.Secrets.Vault)
	case "aws":
		m, err = NewAWSSecretManager(r.cfg.Secrets.AWS)
	default:
		err = fmt.Errorf("unsupported secret provider: %s", scheme)
	}
	if err != nil {
		return nil, err
	}

	r.managers[scheme] = m
	return m, nil
}

func (r *secretResolver) resolve(value string) (string, error) {
	scheme, key, ok := splitIndirection(value)
	if !ok {
		return value, nil
	}

	m, err := r.managerFor(scheme)
	if err != nil {
		return "", err
	}
	resolved, err := m.GetSecret(key)
	if err != nil {
		return "", fmt.Errorf("resolve %s secret %q: %w", scheme, key, err)
	}
	return resolved, nil
}

// ResolveSecrets replaces vault:/aws:/env: indirections in the
// sensitive config fields with values fetched from the named backend.
// Literal values pass through untouched.
func ResolveSecrets(cfg *Config) error {
	r := &secretResolver{cfg: cfg, managers: make(map[string]SecretManager)}

	fields := []struct {
		name  string
		value *string
	}{
		{"auth.jwt_secret", &cfg.Auth.JWTSecret},
		{"redis.password", &cfg.Redis.Password},
		{"storage.clickhouse.password", &cfg.Storage.ClickHouse.Password},
	}

	for _, f := range fields {
		resolved, err := r.resolve(*f.value)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.value = resolved
	}

	return nil
}
