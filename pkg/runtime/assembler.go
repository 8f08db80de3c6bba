package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/pathwise-io/pathwise/pkg/contracts"
)

// ClientConfigSource loads per-tenant configuration into the client
// compartment of the assembled context.
type ClientConfigSource interface {
	LoadFor(ctx context.Context, tenantID string) (map[string]any, error)
}

// StaticClientConfig is a ClientConfigSource over a fixed map, keyed by
// tenant ID. Useful for tests and single-tenant deployments.
type StaticClientConfig map[string]map[string]any

// LoadFor implements ClientConfigSource.
func (s StaticClientConfig) LoadFor(_ context.Context, tenantID string) (map[string]any, error) {
	if cfg, ok := s[tenantID]; ok {
		return cfg, nil
	}
	return map[string]any{}, nil
}

// Assembler builds the per-cycle runtime context from an instance and the
// tenant configuration source.
type Assembler struct {
	clientConfig ClientConfigSource
	logger       *slog.Logger
	clock        func() time.Time
}

// NewAssembler creates an assembler. A nil source leaves the client
// compartment as the instance carries it.
func NewAssembler(clientConfig ClientConfigSource) *Assembler {
	return &Assembler{
		clientConfig: clientConfig,
		logger:       slog.Default().With("component", "context-assembler"),
		clock:        time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (a *Assembler) WithClock(clock func() time.Time) *Assembler {
	a.clock = clock
	return a
}

// Assemble snapshots the instance context and layers the tenant config into
// the client compartment. A config-source failure degrades to the instance's
// own client compartment rather than failing the cycle.
func (a *Assembler) Assemble(ctx context.Context, instance *contracts.ProcessInstance, tenantID string, trigger *contracts.Event) Context {
	snapshot := instance.Context.Clone()

	if a.clientConfig != nil && tenantID != "" {
		cfg, err := a.clientConfig.LoadFor(ctx, tenantID)
		if err != nil {
			a.logger.Warn("client config load failed, using instance compartment",
				"tenant_id", tenantID,
				"instance_id", instance.ID,
				"error", err,
			)
		} else {
			if snapshot.Client == nil {
				snapshot.Client = map[string]any{}
			}
			for k, v := range cfg {
				snapshot.Client[k] = v
			}
		}
	}

	return Context{
		ExecutionContext: snapshot,
		TenantID:         tenantID,
		TriggeringEvent:  trigger,
		AssembledAt:      a.clock(),
	}
}
