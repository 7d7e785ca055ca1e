package editorial

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/curatorhq/curator/internal/content"
	"github.com/curatorhq/curator/internal/metrics"
)

const systemPrompt = `You are an editor for a curated content site. Given a page's
title, description and extracted text, respond with a JSON object with keys
"summary" (2-3 sentences, neutral tone), "rationale" (one sentence on why the
page is worth a reader's time) and "tags" (up to 5 short lowercase topics).`

// ServiceConfig tunes the editorial stage.
type ServiceConfig struct {
	MaxTokens    int
	MinTextChars int
}

// Service executes the AI editorialisation stage. Every model call gets an
// attempt row, completed or failed; records with too little text skip the
// model entirely and continue down the chain.
type Service struct {
	records  content.RecordStore
	attempts content.EditorialStore
	queue    content.Queue
	client   Client
	pauses   content.PauseRegistry
	usage    content.UsageTracker
	idGen    content.IDGenerator
	clock    content.Clock
	logger   *zap.Logger
	cfg      ServiceConfig
}

// NewService constructs a Service.
func NewService(
	records content.RecordStore,
	attempts content.EditorialStore,
	queue content.Queue,
	client Client,
	pauses content.PauseRegistry,
	usage content.UsageTracker,
	idGen content.IDGenerator,
	clock content.Clock,
	logger *zap.Logger,
	cfg ServiceConfig,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 800
	}
	if cfg.MinTextChars <= 0 {
		cfg.MinTextChars = 280
	}
	return &Service{
		records:  records,
		attempts: attempts,
		queue:    queue,
		client:   client,
		pauses:   pauses,
		usage:    usage,
		idGen:    idGen,
		clock:    clock,
		logger:   logger,
		cfg:      cfg,
	}
}

type editorialOutput struct {
	Summary   string   `json:"summary"`
	Rationale string   `json:"rationale"`
	Tags      []string `json:"tags"`
}

// Editorialise runs the AI stage for the job's record. Model failures are
// an enhancement failure, not a pipeline failure: transient errors propagate
// for retry, everything else records a failed attempt and the chain moves on
// to the screenshot stage.
func (s *Service) Editorialise(ctx context.Context, job content.Job) error {
	rec, err := s.records.GetByID(ctx, job.RecordID)
	if err != nil {
		return fmt.Errorf("load record %s: %w", job.RecordID, err)
	}
	log := s.logger.With(
		zap.String("record_id", rec.ID),
		zap.String("site_id", rec.SiteID),
	)

	paused, err := s.pauses.Paused(ctx, content.WorkflowEditorialisation, rec.SiteID)
	if err != nil {
		return fmt.Errorf("check workflow pause: %w", err)
	}
	if paused {
		log.Info("editorialisation paused, dropping job")
		metrics.ObservePauseSkip(string(content.WorkflowEditorialisation))
		return nil
	}

	if len(rec.Text) < s.cfg.MinTextChars {
		log.Debug("record text too short for editorialisation",
			zap.Int("text_chars", len(rec.Text)),
		)
		return s.continueChain(ctx, rec)
	}

	attemptID, err := s.idGen.NewID()
	if err != nil {
		return fmt.Errorf("generate attempt id: %w", err)
	}
	started := s.clock.Now()
	attempt := content.Editorialisation{
		ID:        attemptID,
		RecordID:  rec.ID,
		SiteID:    rec.SiteID,
		Status:    content.EditorialPending,
		CreatedAt: started,
	}
	if err := s.attempts.Create(ctx, attempt); err != nil {
		return fmt.Errorf("create editorial attempt: %w", err)
	}

	completion, err := s.client.Complete(ctx, Request{
		System:    systemPrompt,
		User:      buildPrompt(rec),
		MaxTokens: s.cfg.MaxTokens,
	})
	attempt.DurationMs = s.clock.Now().Sub(started).Milliseconds()
	if err != nil {
		s.finalizeFailed(ctx, attempt, err)
		return fmt.Errorf("complete editorialisation: %w", err)
	}

	attempt.Model = completion.Model
	attempt.PromptTokens = completion.PromptTokens
	attempt.CompletionTokens = completion.CompletionTokens
	s.usage.Record(ctx, rec.SiteID, completion.PromptTokens+completion.CompletionTokens)
	metrics.ObserveTokens(rec.SiteID, completion.PromptTokens, completion.CompletionTokens)

	var out editorialOutput
	if err := json.Unmarshal([]byte(completion.Content), &out); err != nil || strings.TrimSpace(out.Summary) == "" {
		// The model ignored the format. Paying for a retry rarely helps, so
		// record the failure and let the record complete without a summary.
		if err == nil {
			err = fmt.Errorf("model output has no summary")
		}
		log.Warn("malformed editorial output", zap.Error(err))
		s.finalizeFailed(ctx, attempt, fmt.Errorf("parse model output: %w", err))
		return s.continueChain(ctx, rec)
	}

	now := s.clock.Now()
	rec.Summary = strings.TrimSpace(out.Summary)
	rec.Rationale = strings.TrimSpace(out.Rationale)
	rec.SuggestedTags = normalizeTags(out.Tags)
	rec.EditorialedAt = &now
	rec.UpdatedAt = now
	if err := s.records.Update(ctx, rec); err != nil {
		return fmt.Errorf("store editorialised record: %w", err)
	}

	attempt.Status = content.EditorialCompleted
	attempt.CompletedAt = &now
	if err := s.attempts.Finalize(ctx, attempt); err != nil {
		log.Error("finalize editorial attempt", zap.Error(err))
	}

	return s.continueChain(ctx, rec)
}

func (s *Service) continueChain(ctx context.Context, rec content.Record) error {
	job := content.NewJob(content.JobScreenshot)
	job.SiteID = rec.SiteID
	job.RecordID = rec.ID
	job.Enqueued = s.clock.Now()
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue screenshot: %w", err)
	}
	return nil
}

func (s *Service) finalizeFailed(ctx context.Context, attempt content.Editorialisation, cause error) {
	now := s.clock.Now()
	attempt.Status = content.EditorialFailed
	attempt.ErrorText = cause.Error()
	attempt.CompletedAt = &now
	if err := s.attempts.Finalize(ctx, attempt); err != nil {
		s.logger.Error("finalize failed editorial attempt",
			zap.String("attempt_id", attempt.ID),
			zap.Error(err),
		)
	}
}

func buildPrompt(rec content.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", rec.Title)
	if rec.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", rec.Description)
	}
	fmt.Fprintf(&b, "URL: %s\n\n", rec.CanonicalURL)
	b.WriteString(rec.Text)
	return b.String()
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := map[string]struct{}{}
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == 5 {
			break
		}
	}
	return out
}
