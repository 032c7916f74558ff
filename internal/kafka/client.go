package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/oauth"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"
	"golang.org/x/oauth2/clientcredentials"
)

const defaultClientID = "event-logger"

// ClientOptions returns kgo.Opt slice for the given cluster configuration.
func ClientOptions(cfg *ClusterConfig) ([]kgo.Opt, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = defaultClientID
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(clientID),
		// Every event is produced synchronously, one at a time; keep acks strict.
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}

	if cfg.Auth.Mechanism != "" {
		saslOpt, err := saslOption(cfg.Auth)
		if err != nil {
			return nil, fmt.Errorf("sasl config: %w", err)
		}
		opts = append(opts, saslOpt)
	}

	if cfg.TLS.Enabled {
		tlsConfig, err := buildTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("tls config: %w", err)
		}
		opts = append(opts, kgo.DialTLSConfig(tlsConfig))
	}

	return opts, nil
}

func saslOption(auth AuthConfig) (kgo.Opt, error) {
	var mechanism sasl.Mechanism

	switch auth.Mechanism {
	case "PLAIN":
		mechanism = plain.Auth{User: auth.Username, Pass: auth.Password}.AsMechanism()
	case "SCRAM-SHA-256":
		mechanism = scram.Auth{User: auth.Username, Pass: auth.Password}.AsSha256Mechanism()
	case "SCRAM-SHA-512":
		mechanism = scram.Auth{User: auth.Username, Pass: auth.Password}.AsSha512Mechanism()
	case "OAUTHBEARER":
		tokens, err := tokenFunc(auth.OAuth)
		if err != nil {
			return nil, err
		}
		mechanism = oauth.Oauth(func(ctx context.Context) (oauth.Auth, error) {
			token, err := tokens(ctx)
			if err != nil {
				return oauth.Auth{}, err
			}
			return oauth.Auth{Token: token}, nil
		})
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", auth.Mechanism)
	}

	return kgo.SASL(mechanism), nil
}

// tokenFunc returns a function fetching bearer tokens for OAUTHBEARER.
func tokenFunc(cfg *OAuthConfig) (func(context.Context) (string, error), error) {
	if cfg == nil {
		return nil, fmt.Errorf("oauth config required for OAUTHBEARER")
	}
	secret := os.Getenv(cfg.ClientSecretEnv)
	if secret == "" {
		return nil, fmt.Errorf("environment variable %q is not set or empty", cfg.ClientSecretEnv)
	}

	switch cfg.Provider {
	case "azure":
		cred, err := azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, secret, nil)
		if err != nil {
			return nil, fmt.Errorf("create azure credential: %w", err)
		}
		scope := cfg.Scope
		return func(ctx context.Context) (string, error) {
			tok, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{scope}})
			if err != nil {
				return "", fmt.Errorf("acquire azure token: %w", err)
			}
			return tok.Token, nil
		}, nil

	case "oidc":
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: secret,
			TokenURL:     cfg.TokenURL,
			Scopes:       []string{cfg.Scope},
		}
		return func(ctx context.Context) (string, error) {
			tok, err := cc.Token(ctx)
			if err != nil {
				return "", fmt.Errorf("acquire OIDC token: %w", err)
			}
			return tok.AccessToken, nil
		}, nil

	default:
		return nil, fmt.Errorf("unsupported oauth provider: %q", cfg.Provider)
	}
}

func buildTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.SkipVerify, //nolint:gosec // User-configurable option for dev/testing
	}

	if cfg.CAFile != "" {
		caCert, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file %s: %w", cfg.CAFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate from %s", cfg.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	return tlsCfg, nil
}
