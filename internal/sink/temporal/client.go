package temporal

import (
	"context"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/client"
	temporallog "go.temporal.io/sdk/log"
)

const (
	defaultHostPort  = "localhost:7233"
	defaultNamespace = "default"
)

// NewClient returns a WorkflowClient for the Temporal frontend described by
// cfg. The connection is made on first use, so an unreachable frontend fails
// the delivery instead of the constructor.
func NewClient(cfg Config, logger *slog.Logger) (WorkflowClient, error) {
	opts, err := clientOptions(cfg, logger)
	if err != nil {
		return nil, err
	}
	c, err := client.NewLazyClient(opts)
	if err != nil {
		return nil, fmt.Errorf("temporal client for %s: %w", opts.HostPort, err)
	}
	return &sdkClient{client: c}, nil
}

func clientOptions(cfg Config, logger *slog.Logger) (client.Options, error) {
	opts := client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	}
	if opts.HostPort == "" {
		opts.HostPort = defaultHostPort
	}
	if opts.Namespace == "" {
		opts.Namespace = defaultNamespace
	}
	if logger != nil {
		opts.Logger = temporallog.NewStructuredLogger(logger.With("component", "temporal"))
	}

	creds, err := BuildCredentials(cfg)
	if err != nil {
		return client.Options{}, fmt.Errorf("temporal credentials: %w", err)
	}
	opts.Credentials = creds

	if cfg.TLS.Enabled {
		tlsCfg, err := BuildTLSConfig(cfg.TLS)
		if err != nil {
			return client.Options{}, fmt.Errorf("temporal tls: %w", err)
		}
		opts.ConnectionOptions.TLS = tlsCfg
	}
	return opts, nil
}

type sdkRun struct {
	run client.WorkflowRun
}

func (r *sdkRun) GetID() string    { return r.run.GetID() }
func (r *sdkRun) GetRunID() string { return r.run.GetRunID() }

// sdkClient adapts client.Client to WorkflowClient.
type sdkClient struct {
	client client.Client
}

func (a *sdkClient) ExecuteWorkflow(ctx context.Context, opts StartWorkflowOptions, workflow string, args ...interface{}) (WorkflowRun, error) {
	run, err := a.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        opts.ID,
		TaskQueue: opts.TaskQueue,
	}, workflow, args...)
	if err != nil {
		return nil, err
	}
	return &sdkRun{run: run}, nil
}

func (a *sdkClient) SignalWorkflow(ctx context.Context, workflowID, runID, signalName string, arg interface{}) error {
	return a.client.SignalWorkflow(ctx, workflowID, runID, signalName, arg)
}

func (a *sdkClient) Close() {
	a.client.Close()
}
