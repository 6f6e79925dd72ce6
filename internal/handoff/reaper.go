package handoff

import (
	"context"
	"log"
	"time"

	"supportchat/backend/internal/config"
	"supportchat/backend/internal/models"
)

// Reaper hands Accepted requests back to the pending pool when their acceptor
// has gone quiet: no live push connection and no activity through the
// service for IdleAfter. Presence and activity are those seen by this node.
type Reaper struct {
	Service   *Service
	IdleAfter time.Duration
	Interval  time.Duration
}

// NewReaper creates a reaper. idleAfter <= 0 disables it.
func NewReaper(svc *Service, idleAfter time.Duration) *Reaper {
	return &Reaper{
		Service:   svc,
		IdleAfter: idleAfter,
		Interval:  config.ReaperInterval,
	}
}

// Run sweeps every Interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	if r.IdleAfter <= 0 {
		log.Println("[handoff] Idle reversion disabled")
		return
	}
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep reverts every idle Accepted request once and returns how many it
// reverted.
func (r *Reaper) Sweep(ctx context.Context) int {
	reqs, err := r.Service.Storage.ListSupportRequests(ctx, models.StatusAccepted)
	if err != nil {
		log.Printf("ERROR: [handoff] reaper could not list accepted requests: %v", err)
		return 0
	}

	n := 0
	for i := range reqs {
		req := &reqs[i]
		if req.StaffID == nil || !r.idle(req) {
			continue
		}
		reverted, err := r.Service.Storage.RevertSupportRequest(ctx, req.ID, *req.StaffID)
		if err != nil {
			// Resolved or reassigned since the listing.
			log.Printf("[handoff] reaper skipped %s: %v", req.ID, err)
			continue
		}
		log.Printf("WARNING: [handoff] support request %s reverted to pending, %s idle", req.ID, *req.StaffID)
		r.Service.Delivery.RequestReverted(ctx, reverted)
		if r.Service.Notifier != nil {
			r.Service.Notifier.SupportRequestReverted(reverted)
		}
		n++
	}
	return n
}

func (r *Reaper) idle(req *models.SupportRequest) bool {
	staffID := *req.StaffID
	since, offline := r.Service.Hub.OfflineSince(staffID)
	if !offline {
		return false
	}
	if req.AcceptedAt != nil && req.AcceptedAt.After(since) {
		since = *req.AcceptedAt
	}
	if last := r.Service.LastActivity(staffID); last.After(since) {
		since = last
	}
	return time.Since(since) >= r.IdleAfter
}
