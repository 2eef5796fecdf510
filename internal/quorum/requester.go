package quorum

import (
	"context"
	"fmt"

	"Certifier/internal/downloader"
	"Certifier/internal/logger"
	"Certifier/internal/messages"
)

// CertificateRequester locates the certificate at a position in an object's
// history by asking authorities in random order.
type CertificateRequester struct {
	agg *Aggregator
}

// NewCertificateRequester creates a requester over the aggregator's committee.
func (a *Aggregator) NewCertificateRequester() *CertificateRequester {
	return &CertificateRequester{agg: a}
}

// Query returns the first certificate that consumed pos.ObjectID at
// pos.Sequence and verifies against the committee.
func (r *CertificateRequester) Query(ctx context.Context, pos messages.Position) (*messages.Certificate, error) {
	seq := pos.Sequence
	req := &messages.ObjectInfoRequest{ObjectID: pos.ObjectID, RequestSequence: &seq}

	for _, nc := range r.agg.shuffledClients() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := nc.client.HandleObjectInfoRequest(ctx, req)
		if err != nil {
			logger.Debug("certificate lookup failed", "authority", nc.name.Short(), "position", pos, "error", err)
			continue
		}

		cert := resp.RequestedCertificate
		if cert == nil || cert.Order == nil || !cert.Order.Consumes(pos.ObjectID, pos.Sequence) {
			continue
		}

		if err := cert.Check(r.agg.committee); err != nil {
			logger.Warn("authority served an invalid certificate", "authority", nc.name.Short(), "position", pos, "error", err)
			continue
		}

		r.agg.metrics.downloads.WithLabelValues("success").Inc()

		return cert, nil
	}

	r.agg.metrics.downloads.WithLabelValues("failure").Inc()

	return nil, fmt.Errorf("certificate at %s:\n%w", pos, messages.ErrCertificateNotFound)
}

// StartDownloads opens a certificate download session keyed by position.
func (a *Aggregator) StartDownloads(ctx context.Context, known map[messages.Position]*messages.Certificate) *downloader.Downloader[messages.Position, *messages.Certificate] {
	return downloader.Start[messages.Position, *messages.Certificate](ctx, a.NewCertificateRequester(), known)
}
