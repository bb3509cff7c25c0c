package server

import (
	"context"
	"errors"
)

// HealthService defines behaviour for readiness probes.
type HealthService interface {
	Probe(ctx context.Context) error
}

// ProbeFunc adapts a function such as OrderService.Ping to HealthService.
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Probe(ctx context.Context) error {
	if f == nil {
		return nil
	}
	return f(ctx)
}

// Probes runs every probe and joins their failures.
type Probes []HealthService

func (p Probes) Probe(ctx context.Context) error {
	var errs []error
	for _, probe := range p {
		if probe == nil {
			continue
		}
		if err := probe.Probe(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
