package relay

import (
	"context"
	"log"
	"net/http"

	"mediarelay/models"
	"mediarelay/services/streaming"
)

// Provider implements streaming.Provider for remote radio streams.
type Provider struct {
	client      *Client
	contentType string
}

// NewProvider wraps client. contentType is sent on relayed responses; empty means application/octet-stream.
func NewProvider(client *Client, contentType string) *Provider {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &Provider{client: client, contentType: contentType}
}

// Stream opens the upstream relay. Range headers are ignored: live streams are not seekable.
func (p *Provider) Stream(ctx context.Context, req streaming.Request) (*streaming.Response, error) {
	if req.Source.Kind != models.SourceRemoteURL {
		return nil, streaming.ErrSourceNotHandled
	}

	headers := make(http.Header)
	headers.Set("Content-Type", p.contentType)
	headers.Set("Cache-Control", "no-cache, no-store")

	if req.Method == http.MethodHead {
		if _, err := ParseTarget(req.Source.URL); err != nil {
			return nil, err
		}
		return &streaming.Response{
			Body:          streaming.EmptySource(),
			Headers:       headers,
			Status:        http.StatusOK,
			ContentLength: -1,
		}, nil
	}

	stream, err := p.client.Open(ctx, req.Source.URL)
	if err != nil {
		return nil, err
	}

	log.Printf("[relay] opened media=%d state=%s", req.Media.ID, stream.State())

	return &streaming.Response{
		Body:          stream,
		Headers:       headers,
		Status:        http.StatusOK,
		ContentLength: -1,
	}, nil
}
