package streaming

import (
	"context"
	"errors"
	"fmt"
	"log"

	"mediarelay/models"
)

//go:generate mockgen -destination=mocks/mock_resolver.go -package=mocks mediarelay/services/streaming Resolver

// Resolver maps a media request to the location of its bytes.
// Implementations return ErrNotFound when no catalog row matches.
type Resolver interface {
	Resolve(ctx context.Context, kind models.MediaKind, id int64) (models.SourceDescriptor, error)
}

// Dispatcher resolves media requests and hands them to the first provider that serves the source kind.
type Dispatcher struct {
	resolver  Resolver
	providers []Provider
}

// NewDispatcher creates a dispatcher trying providers in order.
func NewDispatcher(resolver Resolver, providers ...Provider) *Dispatcher {
	return &Dispatcher{resolver: resolver, providers: providers}
}

// Dispatch resolves the media id and streams it.
func (d *Dispatcher) Dispatch(ctx context.Context, media models.MediaRequest, rangeHeader, method string) (*Response, error) {
	if media.ID <= 0 {
		return nil, fmt.Errorf("%w: media id must be positive", ErrBadRequest)
	}
	if _, err := models.ParseMediaKind(string(media.Kind)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	if d.resolver == nil {
		return nil, errors.New("media resolver not configured")
	}

	source, err := d.resolver.Resolve(ctx, media.Kind, media.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("resolve %s %d: %w", media.Kind, media.ID, err)
	}

	log.Printf("[dispatch] resolved %s id=%d to %s %q", media.Kind, media.ID, source.Kind, source.Location())

	return d.Stream(ctx, Request{
		Media:       media,
		Source:      source,
		RangeHeader: rangeHeader,
		Method:      method,
	})
}

// Stream tries each provider in order until one handles the request.
func (d *Dispatcher) Stream(ctx context.Context, req Request) (*Response, error) {
	for _, provider := range d.providers {
		if provider == nil {
			continue
		}

		resp, err := provider.Stream(ctx, req)
		if err == nil {
			return resp, nil
		}

		// Not this provider's source kind, try next
		if errors.Is(err, ErrSourceNotHandled) {
			continue
		}

		return nil, err
	}

	return nil, fmt.Errorf("no provider for %s source", req.Source.Kind)
}
