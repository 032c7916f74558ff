// Package kafka provides Kafka cluster configuration, client construction and
// publishing for the Kafka sink.
package kafka

import (
	"errors"
	"fmt"
)

// ClusterConfig defines a Kafka cluster with authentication and TLS settings.
type ClusterConfig struct {
	Brokers  []string   `yaml:"brokers"`
	ClientID string     `yaml:"clientId,omitempty"`
	Auth     AuthConfig `yaml:"auth,omitempty"`
	TLS      TLSConfig  `yaml:"tls,omitempty"`
}

// AuthConfig defines SASL authentication for Kafka.
type AuthConfig struct {
	Mechanism string       `yaml:"mechanism"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512, OAUTHBEARER
	Username  string       `yaml:"username"`
	Password  string       `yaml:"password"`
	OAuth     *OAuthConfig `yaml:"oauth,omitempty"`
}

// OAuthConfig configures token acquisition for SASL/OAUTHBEARER.
type OAuthConfig struct {
	Provider        string `yaml:"provider"` // azure, oidc
	TenantID        string `yaml:"tenantId,omitempty"`
	ClientID        string `yaml:"clientId"`
	ClientSecretEnv string `yaml:"clientSecretEnv"`
	Scope           string `yaml:"scope"`
	TokenURL        string `yaml:"tokenUrl,omitempty"` // oidc only
}

// TLSConfig defines TLS settings for Kafka connections.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CAFile     string `yaml:"caFile,omitempty"`
	CertFile   string `yaml:"certFile,omitempty"` // For mTLS
	KeyFile    string `yaml:"keyFile,omitempty"`  // For mTLS
	SkipVerify bool   `yaml:"skipVerify,omitempty"`
}

var validMechanisms = map[string]bool{
	"PLAIN":         true,
	"SCRAM-SHA-256": true,
	"SCRAM-SHA-512": true,
	"OAUTHBEARER":   true,
}

// Validate checks the cluster configuration for errors.
func (c *ClusterConfig) Validate() error {
	var errs []error

	if len(c.Brokers) == 0 {
		errs = append(errs, errors.New("brokers are required"))
	}

	switch m := c.Auth.Mechanism; {
	case m == "":
	case !validMechanisms[m]:
		errs = append(errs, fmt.Errorf("auth.mechanism %q is not valid (must be PLAIN, SCRAM-SHA-256, SCRAM-SHA-512 or OAUTHBEARER)", m))
	case m == "OAUTHBEARER":
		errs = append(errs, c.Auth.OAuth.validate())
	default:
		if c.Auth.Username == "" {
			errs = append(errs, errors.New("auth.username is required when mechanism is set"))
		}
		if c.Auth.Password == "" {
			errs = append(errs, errors.New("auth.password is required when mechanism is set"))
		}
	}

	if c.TLS.CertFile != "" && c.TLS.KeyFile == "" {
		errs = append(errs, errors.New("tls.keyFile is required when certFile is specified"))
	}
	if c.TLS.KeyFile != "" && c.TLS.CertFile == "" {
		errs = append(errs, errors.New("tls.certFile is required when keyFile is specified"))
	}

	return errors.Join(errs...)
}

func (o *OAuthConfig) validate() error {
	if o == nil {
		return errors.New("auth.oauth config is required for OAUTHBEARER")
	}
	var errs []error
	switch o.Provider {
	case "":
		errs = append(errs, errors.New("oauth.provider is required"))
	case "azure":
		if o.TenantID == "" {
			errs = append(errs, errors.New("oauth.tenantId is required for Azure"))
		}
	case "oidc":
		if o.TokenURL == "" {
			errs = append(errs, errors.New("oauth.tokenUrl is required for OIDC"))
		}
	default:
		errs = append(errs, fmt.Errorf("oauth.provider %q is not supported (must be azure or oidc)", o.Provider))
	}
	if o.Provider != "" {
		if o.ClientID == "" {
			errs = append(errs, errors.New("oauth.clientId is required"))
		}
		if o.Scope == "" {
			errs = append(errs, errors.New("oauth.scope is required"))
		}
	}
	return errors.Join(errs...)
}
