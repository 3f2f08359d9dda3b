package environment

import (
	"context"
	"errors"
	"fmt"

	"sif3.org/internal/auth"
	"sif3.org/internal/model"
	"sif3.org/internal/settings"
)

// Direct is an in-process Authority backed by a Service, used when a
// provider hosts its own environment.
type Direct struct {
	svc *Service
}

func NewDirect(svc *Service) *Direct { return &Direct{svc: svc} }

func (d *Direct) Create(ctx context.Context, req *model.Environment, tok auth.Token) (*model.Environment, error) {
	return d.svc.Create(ctx, req, tok)
}

func (d *Direct) Retrieve(ctx context.Context, id string, tok auth.Token) (*model.Environment, error) {
	return d.svc.Owned(ctx, id, tok)
}

func (d *Direct) Delete(ctx context.Context, id string, tok auth.Token) error {
	if _, err := d.svc.Owned(ctx, id, tok); err != nil {
		return err
	}
	return d.svc.Delete(ctx, id)
}

// NewAuthority picks the Authority for cfg.EnvironmentType. A BROKERED
// environment is always reached through cfg.EnvironmentURL. A DIRECT one is
// served by local when the caller hosts the environment itself, and
// otherwise by the provider's own endpoint at cfg.EnvironmentURL.
func NewAuthority(cfg settings.Settings, local *Service) (Authority, error) {
	switch cfg.EnvironmentType {
	case model.EnvironmentDirect, "":
		if local != nil {
			return NewDirect(local), nil
		}
	case model.EnvironmentBrokered:
	default:
		return nil, fmt.Errorf("environment: unknown environment type %q", cfg.EnvironmentType)
	}
	if cfg.EnvironmentURL == "" {
		return nil, errors.New("environment: no environment URL configured")
	}
	return NewBroker(cfg.EnvironmentURL, WithCompression(cfg.CompressPayload)), nil
}
