package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/fixline/backend/internal/domain"
)

// ExpireCredentials marks verified credentials whose expiry date has passed
// as expired, and suspends providers whose level mandates the lapsed
// credential. Returns how many flipped.
func (s *Service) ExpireCredentials(ctx context.Context, batch int) (int, error) {
	now := s.now()
	due, err := s.store.ListExpiringCredentials(ctx, now, batch)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range due {
		if err := s.store.MarkCredentialExpired(ctx, due[i].ID); err != nil {
			return expired, err
		}
		expired++
		s.log.Info("credential expired",
			"credential_id", due[i].ID, "provider_id", due[i].ProviderID, "type", due[i].Type)

		if due[i].Type != domain.CredentialLicense {
			continue
		}
		p, err := s.store.GetProviderProfile(ctx, due[i].ProviderID)
		if err != nil {
			s.log.Error("load provider for lapse check failed",
				"provider_id", due[i].ProviderID, "error", err)
			continue
		}
		// levels 3 and up cannot operate without a valid license
		if p.Level < 3 {
			continue
		}
		if _, err := s.ledger.Suspend(ctx, p.ID, "license expired"); err != nil {
			s.log.Error("suspend for lapsed license failed", "provider_id", p.ID, "error", err)
			continue
		}
		s.log.Info("provider suspended for lapsed license", "provider_id", p.ID)
	}
	return expired, nil
}

// CredentialScanner expires overdue credentials on a daily cadence.
type CredentialScanner struct {
	svc      *Service
	interval time.Duration
	batch    int
	log      *slog.Logger
	stopCh   chan struct{}
}

func NewCredentialScanner(svc *Service, interval time.Duration, batch int, log *slog.Logger) *CredentialScanner {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if batch <= 0 {
		batch = 500
	}
	return &CredentialScanner{svc: svc, interval: interval, batch: batch, log: log, stopCh: make(chan struct{})}
}

// Run blocks until Stop or ctx cancel.
func (c *CredentialScanner) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.log.Info("credential scanner started", "interval", c.interval)
	for {
		select {
		case <-ticker.C:
			if n, err := c.svc.ExpireCredentials(ctx, c.batch); err != nil {
				c.log.Error("credential expiry sweep failed", "error", err)
			} else if n > 0 {
				c.log.Info("credentials expired", "count", n)
			}
		case <-c.stopCh:
			c.log.Info("credential scanner stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop terminates Run.
func (c *CredentialScanner) Stop() { close(c.stopCh) }
