// Package moderation implements the report-intake service: it persists
// abuse reports, counts offenses, and applies escalating freezes. The
// matching engine never talks to this package directly — it only reads the
// resulting ban/freeze records through the moderation gate.
package moderation

import (
	"context"
	"encoding/json"
	"log"
	"strconv"

	"github.com/veilchat/veil/internal/ban"
	"github.com/veilchat/veil/internal/messaging"
	"github.com/veilchat/veil/internal/ratelimit"
	"github.com/veilchat/veil/internal/report"
)

// ReportRequest is the payload published on report.submitted.
type ReportRequest struct {
	ReporterID int64                 `json:"reporter_id"`
	ReportedID int64                 `json:"reported_id"`
	ChatID     string                `json:"chat_id"`
	Reason     string                `json:"reason"`
	Messages   []report.MessageEntry `json:"messages,omitempty"`
}

// FrozenMsg is published to moderation.frozen.<id> when a freeze is applied.
type FrozenMsg struct {
	Reason          string `json:"reason"`
	DurationSeconds int    `json:"duration_seconds"`
}

// Service consumes abuse reports and applies freezes.
type Service struct {
	reports *report.Store
	bans    *ban.Store
	nats    *messaging.NATSClient
	limiter *ratelimit.Limiter

	ctx    context.Context
	cancel context.CancelFunc
}

// NewService wires the moderation service.
func NewService(reports *report.Store, bans *ban.Store, nc *messaging.NATSClient, limiter *ratelimit.Limiter) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		reports: reports,
		bans:    bans,
		nats:    nc,
		limiter: limiter,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes to the report subject.
func (s *Service) Start() error {
	if err := s.nats.SubscribeReports(s.handleReport); err != nil {
		return err
	}
	log.Println("[moderation] service started")
	return nil
}

// Stop shuts the service down.
func (s *Service) Stop() {
	s.cancel()
	log.Println("[moderation] service stopped")
}

func (s *Service) handleReport(data []byte) {
	var req ReportRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Printf("[moderation] invalid report: %v", err)
		return
	}

	ctx := s.ctx

	allowed, _ := s.limiter.Allow(ctx, strconv.FormatInt(req.ReporterID, 10), ratelimit.RuleReport)
	if !allowed {
		log.Printf("[moderation] rate limited reporter %d", req.ReporterID)
		return
	}

	if err := s.reports.Create(ctx, &report.Report{
		ReporterID: req.ReporterID,
		ReportedID: req.ReportedID,
		ChatID:     req.ChatID,
		Reason:     req.Reason,
		Messages:   req.Messages,
	}); err != nil {
		log.Printf("[moderation] persist report %d->%d: %v", req.ReporterID, req.ReportedID, err)
		// Keep going: a lost audit row must not stop the freeze check.
	}

	frozen, duration, err := s.bans.ReportAndCheck(ctx, req.ReportedID, req.Reason)
	if err != nil {
		log.Printf("[moderation] freeze check for %d: %v", req.ReportedID, err)
		return
	}
	if !frozen {
		return
	}

	log.Printf("[moderation] froze %d for %v after reports", req.ReportedID, duration)
	msg, _ := json.Marshal(FrozenMsg{
		Reason:          req.Reason,
		DurationSeconds: int(duration.Seconds()),
	})
	if err := s.nats.PublishFrozen(req.ReportedID, msg); err != nil {
		log.Printf("[moderation] publish frozen for %d: %v", req.ReportedID, err)
	}
}
