// Package content defines core types shared across the ingestion and
// enrichment subsystems.
package content

import "time"

// SourceKind identifies which adapter handles a source.
type SourceKind string

// Source kinds handled by the adapter registry.
const (
	SourceKindFeed      SourceKind = "feed"
	SourceKindSearchAPI SourceKind = "search_api"
	SourceKindCommunity SourceKind = "community"
)

// SourceStatus values written to Source.LastStatus after each run attempt.
const (
	SourceStatusSuccess        = "success"
	SourceStatusSkipped        = "skipped"
	SourceStatusWorkflowPaused = "workflow_paused"
	SourceStatusRateLimited    = "rate_limited"
)

// Source is the operator-editable configuration for one external feed or API.
type Source struct {
	ID         string         `json:"id"`
	SiteID     string         `json:"site_id"`
	Name       string         `json:"name"`
	Kind       SourceKind     `json:"kind"`
	Category   Category       `json:"category"`
	Enabled    bool           `json:"enabled"`
	Config     map[string]any `json:"config"`
	LastRunAt  *time.Time     `json:"last_run_at,omitempty"`
	LastStatus string         `json:"last_status,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Category distinguishes the two content record families that share the
// enrichment lifecycle.
type Category string

// Content categories.
const (
	CategoryArticle Category = "article"
	CategoryListing Category = "listing"
)

// RunStatus is the lifecycle state of an ImportRun.
type RunStatus string

// Run status values. Completed and failed are terminal.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// ImportRun records one adapter invocation against one source.
type ImportRun struct {
	ID          string      `json:"id"`
	SourceID    string      `json:"source_id"`
	SiteID      string      `json:"site_id"`
	Status      RunStatus   `json:"status"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Counters    RunCounters `json:"counters"`
	ErrorText   string      `json:"error_text,omitempty"`
}

// RunCounters tracks per-item outcomes within a run.
type RunCounters struct {
	ItemsCreated int `json:"items_created"`
	ItemsUpdated int `json:"items_updated"`
	ItemsFailed  int `json:"items_failed"`
	ItemsTotal   int `json:"items_total"`
}

// EnrichmentStatus is the state machine driven by the chained pipeline jobs.
type EnrichmentStatus string

// Enrichment states. The transition pending -> enriching happens at job start,
// before any external call, so a crash mid-flight is observable.
const (
	EnrichmentPending   EnrichmentStatus = "pending"
	EnrichmentEnriching EnrichmentStatus = "enriching"
	EnrichmentComplete  EnrichmentStatus = "complete"
	EnrichmentFailed    EnrichmentStatus = "failed"
)

// Record is the canonical content record produced by the upsert engine and
// mutated by the enrichment stages. CanonicalURL is unique per site.
type Record struct {
	ID           string   `json:"id"`
	SiteID       string   `json:"site_id"`
	SourceID     string   `json:"source_id,omitempty"`
	Category     Category `json:"category"`
	CanonicalURL string   `json:"canonical_url"`
	RawURL       string   `json:"raw_url"`
	FinalURL     string   `json:"final_url,omitempty"`
	Domain       string   `json:"domain,omitempty"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	ImageURL     string   `json:"image_url,omitempty"`
	Text         string   `json:"text,omitempty"`
	Tags         []string `json:"tags,omitempty"`

	EnrichmentStatus EnrichmentStatus `json:"enrichment_status"`
	EnrichmentErrors []string         `json:"enrichment_errors,omitempty"`
	EnrichedAt       *time.Time       `json:"enriched_at,omitempty"`

	Summary       string     `json:"summary,omitempty"`
	Rationale     string     `json:"rationale,omitempty"`
	SuggestedTags []string   `json:"suggested_tags,omitempty"`
	EditorialedAt *time.Time `json:"editorialised_at,omitempty"`

	ScreenshotURI string     `json:"screenshot_uri,omitempty"`
	ScreenshotAt  *time.Time `json:"screenshot_at,omitempty"`

	RawPayload map[string]any `json:"raw_payload,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Item is the normalized shape every adapter maps raw upstream items into.
// Source-specific fields go under a namespaced key in Payload.
type Item struct {
	URL         string         `json:"url"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	ImageURL    string         `json:"image_url,omitempty"`
	PublishedAt *time.Time     `json:"published_at,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// EditorialStatus is the lifecycle of one AI editorialisation attempt.
type EditorialStatus string

// Editorialisation attempt states. Completed and failed attempts are
// immutable; re-runs create new attempt records.
const (
	EditorialPending   EditorialStatus = "pending"
	EditorialCompleted EditorialStatus = "completed"
	EditorialFailed    EditorialStatus = "failed"
)

// Editorialisation records one AI call for one content record.
type Editorialisation struct {
	ID               string          `json:"id"`
	RecordID         string          `json:"record_id"`
	SiteID           string          `json:"site_id"`
	Status           EditorialStatus `json:"status"`
	Model            string          `json:"model,omitempty"`
	PromptTokens     int             `json:"prompt_tokens"`
	CompletionTokens int             `json:"completion_tokens"`
	DurationMs       int64           `json:"duration_ms"`
	ErrorText        string          `json:"error_text,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

// WorkflowType names a class of background work an operator can pause.
type WorkflowType string

// Workflow types. The "all" umbrellas subsume their specific types.
const (
	WorkflowFeedIngestion      WorkflowType = "feed_ingestion"
	WorkflowSearchIngestion    WorkflowType = "search_ingestion"
	WorkflowCommunityIngestion WorkflowType = "community_ingestion"
	WorkflowAllIngestion       WorkflowType = "all_ingestion"
	WorkflowEnrichment         WorkflowType = "enrichment"
	WorkflowEditorialisation   WorkflowType = "editorialisation"
	WorkflowScreenshots        WorkflowType = "screenshots"
	WorkflowAllEnrichment      WorkflowType = "all_enrichment"
)

// Umbrella returns the umbrella workflow that subsumes wt, or "" if wt is
// itself an umbrella.
func (wt WorkflowType) Umbrella() WorkflowType {
	switch wt {
	case WorkflowFeedIngestion, WorkflowSearchIngestion, WorkflowCommunityIngestion:
		return WorkflowAllIngestion
	case WorkflowEnrichment, WorkflowEditorialisation, WorkflowScreenshots:
		return WorkflowAllEnrichment
	default:
		return ""
	}
}

// WorkflowPause is an operator kill switch. SiteID == "" means global scope.
// A pause is active while ResumedAt is nil; a resumed pause never reactivates.
type WorkflowPause struct {
	ID           string       `json:"id"`
	WorkflowType WorkflowType `json:"workflow_type"`
	SiteID       string       `json:"site_id,omitempty"`
	PausedBy     string       `json:"paused_by"`
	PausedAt     time.Time    `json:"paused_at"`
	ResumedBy    string       `json:"resumed_by,omitempty"`
	ResumedAt    *time.Time   `json:"resumed_at,omitempty"`
}

// Active reports whether the pause is still in force.
func (p WorkflowPause) Active() bool {
	return p.ResumedAt == nil
}

// JobType identifies a pipeline stage job.
type JobType string

// Job types executed by the worker pool.
const (
	JobSourceRun    JobType = "source_run"
	JobEnrich       JobType = "enrich"
	JobEditorialise JobType = "editorialise"
	JobScreenshot   JobType = "screenshot"
	JobStaleSweep   JobType = "stale_sweep"
)

// Queue names. Each stage job is routed to its own named queue.
const (
	QueueIngestion   = "ingestion"
	QueueEnrichment  = "enrichment"
	QueueEditorial   = "editorialisation"
	QueueScreenshots = "screenshots"
	QueueDefault     = "default"
	QueueLow         = "low"
)

// Job is the payload enqueued between pipeline stages. It carries only ids
// and small scalars; every stage re-reads persisted state.
type Job struct {
	Type     JobType   `json:"type"`
	Queue    string    `json:"queue"`
	SiteID   string    `json:"site_id,omitempty"`
	RecordID string    `json:"record_id,omitempty"`
	SourceID string    `json:"source_id,omitempty"`
	Attempt  int       `json:"attempt"`
	Enqueued time.Time `json:"enqueued_at"`
}

// QueueFor returns the queue a job type is routed to.
func QueueFor(t JobType) string {
	switch t {
	case JobSourceRun:
		return QueueIngestion
	case JobEnrich:
		return QueueEnrichment
	case JobEditorialise:
		return QueueEditorial
	case JobScreenshot:
		return QueueScreenshots
	case JobStaleSweep:
		return QueueLow
	default:
		return QueueDefault
	}
}

// NewJob builds a job routed to its stage queue.
func NewJob(t JobType) Job {
	return Job{Type: t, Queue: QueueFor(t)}
}
