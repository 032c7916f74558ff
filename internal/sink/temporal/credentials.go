package temporal

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"go.temporal.io/sdk/client"
	"golang.org/x/oauth2/clientcredentials"
)

// AuthConfig selects how the sink authenticates to Temporal. The first
// configured method wins, in field order; mTLS is taken from TLSConfig.
type AuthConfig struct {
	APIKey    string       `yaml:"apiKey,omitempty"`
	APIKeyEnv string       `yaml:"apiKeyEnv,omitempty"`
	TokenFile string       `yaml:"tokenFile,omitempty"`
	Azure     *AzureConfig `yaml:"azure,omitempty"`
	OIDC      *OIDCConfig  `yaml:"oidc,omitempty"`
}

// AzureConfig uses the default Azure credential chain (workload identity,
// managed identity, environment).
type AzureConfig struct {
	Scope string `yaml:"scope"`
}

// OIDCConfig runs the OAuth2 client credentials flow.
type OIDCConfig struct {
	TokenURL        string   `yaml:"tokenUrl"`
	ClientID        string   `yaml:"clientId"`
	ClientSecret    string   `yaml:"clientSecret,omitempty"`
	ClientSecretEnv string   `yaml:"clientSecretEnv,omitempty"`
	Scopes          []string `yaml:"scopes,omitempty"`
}

// BuildCredentials creates Temporal credentials from config.
// Returns nil if no authentication is configured.
func BuildCredentials(cfg Config) (client.Credentials, error) {
	auth := cfg.Auth
	switch {
	case auth.APIKey != "":
		return client.NewAPIKeyStaticCredentials(auth.APIKey), nil

	case auth.APIKeyEnv != "":
		// Read on every call so a rotated key is picked up.
		envVar := auth.APIKeyEnv
		return client.NewAPIKeyDynamicCredentials(func(context.Context) (string, error) {
			key := os.Getenv(envVar)
			if key == "" {
				return "", fmt.Errorf("environment variable %s is not set or empty", envVar)
			}
			return key, nil
		}), nil

	case auth.TokenFile != "":
		path := auth.TokenFile
		return client.NewAPIKeyDynamicCredentials(func(context.Context) (string, error) {
			token, err := os.ReadFile(path)
			if err != nil {
				return "", fmt.Errorf("read token file %s: %w", path, err)
			}
			return strings.TrimSpace(string(token)), nil
		}), nil

	case auth.Azure != nil:
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("create azure credential: %w", err)
		}
		scope := auth.Azure.Scope
		return client.NewAPIKeyDynamicCredentials(func(ctx context.Context) (string, error) {
			token, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{scope}})
			if err != nil {
				return "", fmt.Errorf("acquire azure token: %w", err)
			}
			return token.Token, nil
		}), nil

	case auth.OIDC != nil:
		return oidcCredentials(auth.OIDC)

	case cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "":
		cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		return client.NewMTLSCredentials(cert), nil
	}
	return nil, nil
}

func oidcCredentials(cfg *OIDCConfig) (client.Credentials, error) {
	secret := cfg.ClientSecret
	if cfg.ClientSecretEnv != "" {
		secret = os.Getenv(cfg.ClientSecretEnv)
		if secret == "" {
			return nil, fmt.Errorf("environment variable %s is not set or empty", cfg.ClientSecretEnv)
		}
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: secret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	// The token source caches and refreshes; it must outlive any single call.
	tokens := cc.TokenSource(context.Background())
	return client.NewAPIKeyDynamicCredentials(func(context.Context) (string, error) {
		token, err := tokens.Token()
		if err != nil {
			return "", fmt.Errorf("acquire OIDC token: %w", err)
		}
		return token.AccessToken, nil
	}), nil
}
