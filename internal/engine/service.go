package engine

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/veilchat/veil/internal/messaging"
	"github.com/veilchat/veil/internal/metrics"
	"github.com/veilchat/veil/internal/ratelimit"
)

// MatchRequest is the payload sent by the command layer when a participant
// starts looking for a partner.
type MatchRequest struct {
	UserID int64 `json:"user_id"`
}

// EndRequest is the payload for ending a conversation or leaving the queue.
type EndRequest struct {
	UserID int64 `json:"user_id"`
}

// RateRequest is the payload for a post-chat rating.
type RateRequest struct {
	RaterID  int64 `json:"rater_id"`
	RatedID  int64 `json:"rated_id"`
	Positive bool  `json:"positive"`
}

// MatchResultMsg is published to match.result.<id> after a find-partner
// request completes. On a match, both participants receive one with the
// same conversation id.
type MatchResultMsg struct {
	Status         string `json:"status"` // "matched", "queued", "rejected", "cancelled"
	PartnerID      int64  `json:"partner_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Reason         string `json:"reason,omitempty"`
	Message        string `json:"message,omitempty"`
}

// ChatEndedMsg is published to chat.ended.<id> when a conversation is over.
type ChatEndedMsg struct {
	PartnerID int64  `json:"partner_id"`
	Cause     string `json:"cause"` // "ended" or "skipped"
}

// Rater records post-chat feedback. Implemented by *rating.Store.
type Rater interface {
	Record(ctx context.Context, rated, rater int64, positive bool) error
}

// Service exposes the engine over NATS. Each incoming request becomes a unit
// of work on a fixed-size worker pool; no per-request goroutines or event
// loops.
type Service struct {
	engine  *Engine
	nats    *messaging.NATSClient
	limiter *ratelimit.Limiter
	rater   Rater

	workers int
	tasks   chan func(ctx context.Context)
	ctx     context.Context
	cancel  context.CancelFunc
}

// ServiceConfig sizes the worker pool.
type ServiceConfig struct {
	Workers   int
	QueueSize int // task backlog; requests beyond it are dropped with a log line
}

// DefaultServiceConfig returns the pool sizing used in production.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{Workers: 16, QueueSize: 1024}
}

// NewService wires a Service around an engine.
func NewService(eng *Engine, nc *messaging.NATSClient, limiter *ratelimit.Limiter, rater Rater, cfg ServiceConfig) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		engine:  eng,
		nats:    nc,
		limiter: limiter,
		rater:   rater,
		workers: cfg.Workers,
		tasks:   make(chan func(ctx context.Context), cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes to the matchmaking subjects and launches the worker pool.
func (s *Service) Start() error {
	if err := s.nats.SubscribeMatchRequest(s.handleMatchRequest); err != nil {
		return err
	}
	if err := s.nats.SubscribeMatchCancel(s.handleMatchCancel); err != nil {
		return err
	}
	if err := s.nats.SubscribeChatEnd(s.handleChatEnd); err != nil {
		return err
	}
	if err := s.nats.SubscribeChatSkip(s.handleChatSkip); err != nil {
		return err
	}
	if err := s.nats.SubscribeChatRate(s.handleChatRate); err != nil {
		return err
	}

	for i := 0; i < s.workers; i++ {
		go s.worker()
	}

	log.Printf("[engine] service started with %d workers", s.workers)
	return nil
}

// Stop shuts the worker pool down. In-flight tasks finish; queued tasks are
// dropped.
func (s *Service) Stop() {
	s.cancel()
	log.Println("[engine] service stopped")
}

func (s *Service) worker() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case task := <-s.tasks:
			task(s.ctx)
		}
	}
}

// submit queues a task for the worker pool, dropping it when the backlog is
// full — the client will retry, and a bounded backlog beats an unbounded
// goroutine pile-up.
func (s *Service) submit(task func(ctx context.Context)) {
	select {
	case s.tasks <- task:
	default:
		log.Println("[engine] task backlog full, dropping request")
	}
}

func (s *Service) handleMatchRequest(data []byte) {
	var req MatchRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Printf("[engine] invalid match request: %v", err)
		return
	}

	s.submit(func(ctx context.Context) {
		allowed, _ := s.limiter.Allow(ctx, strconv.FormatInt(req.UserID, 10), ratelimit.RuleMatch)
		if !allowed {
			log.Printf("[engine] rate limited match request from %d", req.UserID)
			return
		}

		start := time.Now()
		res, err := s.engine.FindPartner(ctx, req.UserID)
		metrics.MatchDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			log.Printf("[engine] find partner for %d: %v", req.UserID, err)
			return
		}

		s.publishResult(req.UserID, res)
		s.refreshQueueGauge(ctx)
	})
}

// handleMatchCancel pulls a participant out of the queue. A participant who
// is already chatting keeps their conversation; cancel only stops a search.
func (s *Service) handleMatchCancel(data []byte) {
	var req EndRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Printf("[engine] invalid cancel request: %v", err)
		return
	}

	s.submit(func(ctx context.Context) {
		removed, err := s.engine.CancelSearch(ctx, req.UserID)
		if err != nil {
			log.Printf("[engine] cancel search for %d: %v", req.UserID, err)
			return
		}
		if removed {
			msg, _ := json.Marshal(MatchResultMsg{Status: "cancelled"})
			if err := s.nats.PublishMatchResult(req.UserID, msg); err != nil {
				log.Printf("[engine] publish match.result for %d: %v", req.UserID, err)
			}
		}
		s.refreshQueueGauge(ctx)
	})
}

func (s *Service) handleChatEnd(data []byte) {
	var req EndRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Printf("[engine] invalid end request: %v", err)
		return
	}

	s.submit(func(ctx context.Context) {
		s.endChat(ctx, req.UserID, "ended")
		s.refreshQueueGauge(ctx)
	})
}

// handleChatSkip ends the current conversation and immediately starts a new
// search for the skipping participant.
func (s *Service) handleChatSkip(data []byte) {
	var req EndRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Printf("[engine] invalid skip request: %v", err)
		return
	}

	s.submit(func(ctx context.Context) {
		s.endChat(ctx, req.UserID, "skipped")

		res, err := s.engine.FindPartner(ctx, req.UserID)
		if err != nil {
			log.Printf("[engine] skip re-match for %d: %v", req.UserID, err)
			return
		}
		s.publishResult(req.UserID, res)
		s.refreshQueueGauge(ctx)
	})
}

func (s *Service) handleChatRate(data []byte) {
	var req RateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Printf("[engine] invalid rate request: %v", err)
		return
	}

	s.submit(func(ctx context.Context) {
		if err := s.rater.Record(ctx, req.RatedID, req.RaterID, req.Positive); err != nil {
			log.Printf("[engine] record rating %d->%d: %v", req.RaterID, req.RatedID, err)
		}
	})
}

func (s *Service) endChat(ctx context.Context, id int64, cause string) {
	partner, hadPartner, err := s.engine.EndChat(ctx, id)
	if err != nil {
		log.Printf("[engine] end chat for %d: %v", id, err)
		return
	}
	if !hadPartner {
		return
	}

	metrics.ActivePairings.Dec()
	metrics.ChatsEndedTotal.WithLabelValues(cause).Inc()

	ownMsg, _ := json.Marshal(ChatEndedMsg{PartnerID: partner, Cause: cause})
	partnerMsg, _ := json.Marshal(ChatEndedMsg{PartnerID: id, Cause: cause})
	if err := s.nats.PublishChatEnded(id, ownMsg); err != nil {
		log.Printf("[engine] publish chat.ended for %d: %v", id, err)
	}
	if err := s.nats.PublishChatEnded(partner, partnerMsg); err != nil {
		log.Printf("[engine] publish chat.ended for %d: %v", partner, err)
	}
}

// publishResult notifies the requester — and on a match, the partner — of
// the outcome.
func (s *Service) publishResult(id int64, res Result) {
	switch res.Outcome {
	case OutcomeMatched:
		metrics.MatchesTotal.WithLabelValues("matched").Inc()
		metrics.ActivePairings.Inc()

		conversationID := uuid.New().String()
		forRequester, _ := json.Marshal(MatchResultMsg{
			Status:         "matched",
			PartnerID:      res.Partner,
			ConversationID: conversationID,
		})
		forPartner, _ := json.Marshal(MatchResultMsg{
			Status:         "matched",
			PartnerID:      id,
			ConversationID: conversationID,
		})
		if err := s.nats.PublishMatchResult(id, forRequester); err != nil {
			log.Printf("[engine] publish match.result for %d: %v", id, err)
		}
		if err := s.nats.PublishMatchResult(res.Partner, forPartner); err != nil {
			log.Printf("[engine] publish match.result for %d: %v", res.Partner, err)
		}
		log.Printf("[engine] matched %d with %d conversation=%s", id, res.Partner, conversationID)

	case OutcomeQueued:
		metrics.MatchesTotal.WithLabelValues("queued").Inc()
		msg, _ := json.Marshal(MatchResultMsg{Status: "queued"})
		if err := s.nats.PublishMatchResult(id, msg); err != nil {
			log.Printf("[engine] publish match.result for %d: %v", id, err)
		}

	case OutcomeRejected:
		metrics.MatchesTotal.WithLabelValues("rejected").Inc()
		metrics.RejectionsTotal.WithLabelValues(string(res.Reason)).Inc()
		msg, _ := json.Marshal(MatchResultMsg{
			Status:  "rejected",
			Reason:  string(res.Reason),
			Message: res.UserMessage(),
		})
		if err := s.nats.PublishMatchResult(id, msg); err != nil {
			log.Printf("[engine] publish match.result for %d: %v", id, err)
		}
	}
}

func (s *Service) refreshQueueGauge(ctx context.Context) {
	if size, err := s.engine.QueueSize(ctx); err == nil {
		metrics.QueueSize.Set(float64(size))
	}
}
