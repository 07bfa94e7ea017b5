// Package pipeline orchestrates one content run: ingest the trending
// batch, select the topics still needing stories, generate narrative
// and illustration per topic, persist, and republish the sitemap.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sudoghut/trendstory/internal/config"
	"github.com/sudoghut/trendstory/internal/logging"
	"github.com/sudoghut/trendstory/internal/sitemap"
	"github.com/sudoghut/trendstory/internal/store"
	"github.com/sudoghut/trendstory/pkg/comfy"
	"github.com/sudoghut/trendstory/pkg/generate"
	"github.com/sudoghut/trendstory/pkg/trends"
)

// ErrRunAborted means a topic's image generation failed under the
// abort policy; the run stops instead of degrading.
var ErrRunAborted = errors.New("image generation failed and image_failure policy is abort")

// Generator is the retrying story-service gateway.
type Generator interface {
	CallWithRetry(ctx context.Context, req generate.Request) (string, error)
}

// Renderer produces one image for a patched workflow.
type Renderer interface {
	Render(ctx context.Context, w comfy.Workflow) ([]byte, string, error)
}

// Stats summarizes one run.
type Stats struct {
	Ingested   int
	Candidates int
	Generated  int
	Skipped    int
	Failed     int
}

// Pipeline is one run's orchestrator. Topics are processed strictly
// sequentially; the store is opened per logical phase and never held
// across a network call.
type Pipeline struct {
	cfg      *config.Config
	log      *logging.Logger
	provider trends.Provider
	gateway  Generator
	renderer Renderer

	openStore func() (store.Store, error)
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
}

// New wires a pipeline from its collaborators.
func New(cfg *config.Config, log *logging.Logger, provider trends.Provider, gateway Generator, renderer Renderer) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		log:      log,
		provider: provider,
		gateway:  gateway,
		renderer: renderer,
		openStore: func() (store.Store, error) {
			return store.New(cfg.Database.Path)
		},
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
		now: time.Now,
	}
}

// Run executes the full pipeline.
func (p *Pipeline) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	candidates, err := p.ingest(ctx, &stats)
	if err != nil {
		return stats, err
	}
	stats.Candidates = len(candidates)
	p.log.Infof("pipeline: %d topics ingested, %d candidates", stats.Ingested, stats.Candidates)

	for _, topic := range candidates {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		switch err := p.processTopic(ctx, topic); {
		case err == nil:
			stats.Generated++
		case errors.Is(err, errTopicSkipped):
			stats.Skipped++
		case errors.Is(err, ErrRunAborted):
			stats.Failed++
			return stats, err
		default:
			// One topic's failure must not abort the batch.
			stats.Failed++
			p.log.Errorf("pipeline: topic %d (%q) failed: %v", topic.ID, topic.Query, err)
		}
	}

	if err := p.publishSitemap(ctx); err != nil {
		return stats, err
	}

	p.log.Infof("pipeline: done (%d generated, %d skipped, %d failed)", stats.Generated, stats.Skipped, stats.Failed)
	return stats, nil
}

// errTopicSkipped marks deliberate per-topic skips (already narrated,
// nothing to prompt on).
var errTopicSkipped = errors.New("topic skipped")

// ingest fetches the provider batch, stamps and stores it, and selects
// this run's candidates from the active batch date.
func (p *Pipeline) ingest(ctx context.Context, stats *Stats) ([]store.Topic, error) {
	records, err := p.provider.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch trending batch: %w", err)
	}

	batchDate := p.now().Format(store.DateFormat)
	topics := make([]store.Topic, len(records))
	for i, r := range records {
		topics[i] = TopicFromRecord(r, batchDate)
	}

	st, err := p.openStore()
	if err != nil {
		return nil, err
	}
	defer st.Close()

	n, err := st.InsertTopics(ctx, topics)
	stats.Ingested = n
	if err != nil {
		return nil, err
	}

	activeDate, err := st.LatestBatchDate(ctx)
	if err != nil {
		return nil, err
	}
	if activeDate == "" {
		return nil, nil
	}

	return st.TopicsForDate(ctx, activeDate, p.cfg.Trends.ExcludedCategory, p.cfg.Trends.BatchSize)
}

// TopicFromRecord maps a provider record onto a storable topic row.
func TopicFromRecord(r trends.TrendingSearch, batchDate string) store.Topic {
	var start string
	if r.StartTimestamp != 0 {
		start = strconv.FormatInt(r.StartTimestamp, 10)
	}
	cats := make([]store.Category, len(r.Categories))
	for i, c := range r.Categories {
		cats[i] = store.Category{ID: c.ID, Name: c.Name}
	}
	return store.Topic{
		Query:              r.Query,
		StartTimestamp:     start,
		Active:             r.Active,
		SearchVolume:       r.SearchVolume,
		IncreasePercentage: r.IncreasePercentage,
		Categories:         cats,
		Breakdown:          r.TrendBreakdown,
		TrendsLink:         r.TrendsLink,
		NewsPageToken:      r.NewsPageToken,
		NewsLink:           r.NewsLink,
		BatchDate:          batchDate,
	}
}

// processTopic runs the per-topic state machine: story, image prompt,
// render, persist. Returns errTopicSkipped for deliberate skips.
func (p *Pipeline) processTopic(ctx context.Context, topic store.Topic) error {
	today := p.now().Format(store.DateFormat)

	narrated, err := p.alreadyNarrated(ctx, topic, today)
	if err != nil {
		return err
	}
	if narrated {
		p.log.Infof("pipeline: topic %d (%q) already narrated today, skipping", topic.ID, topic.Query)
		return errTopicSkipped
	}

	prompt := StoryPrompt(topic)
	if prompt == "" {
		p.log.Warnf("pipeline: topic %d has no query, categories or related terms, skipping", topic.ID)
		return errTopicSkipped
	}

	p.log.Infof("pipeline: topic %d (%q): requesting story", topic.ID, topic.Query)
	story, err := p.gateway.CallWithRetry(ctx, generate.Request{
		Prompt:       prompt,
		SystemPrompt: storySystemPrompt,
		Model:        p.cfg.Generate.Model,
		Search:       p.cfg.Generate.Search,
	})
	if err != nil {
		return fmt.Errorf("story generation: %w", err)
	}

	imagePath, imageErr := p.generateImage(ctx, topic, story, today)
	if imageErr != nil {
		if p.cfg.Pipeline.ImageFailure == config.ImageFailureAbort {
			return fmt.Errorf("%w: topic %d: %v", ErrRunAborted, topic.ID, imageErr)
		}
		p.log.Warnf("pipeline: topic %d (%q): image failed, persisting story without one: %v",
			topic.ID, topic.Query, imageErr)
		imagePath = ""
	}

	return p.persist(ctx, topic, story, imagePath, today)
}

func (p *Pipeline) alreadyNarrated(ctx context.Context, topic store.Topic, today string) (bool, error) {
	st, err := p.openStore()
	if err != nil {
		return false, err
	}
	defer st.Close()

	exists, err := st.NarrativeExistsForTopic(ctx, topic.ID)
	if err != nil || exists {
		return exists, err
	}
	// A different topic id may already carry today's story for this query.
	return st.NarrativeExistsForQueryOnDate(ctx, topic.Query, today)
}

// generateImage derives the image prompt, renders, and writes the file
// under a date-partitioned directory. A missing or invalid workflow
// template skips image generation regardless of the failure policy.
func (p *Pipeline) generateImage(ctx context.Context, topic store.Topic, story, today string) (string, error) {
	workflow, err := comfy.LoadWorkflow(p.cfg.Comfy.WorkflowPath)
	if err != nil {
		p.log.Warnf("pipeline: workflow template unusable, skipping image for topic %d: %v", topic.ID, err)
		return "", nil
	}

	// Pacing pause before the second generation call.
	if err := p.sleep(ctx, p.cfg.Generate.ParsePromptPause()); err != nil {
		return "", err
	}

	p.log.Infof("pipeline: topic %d (%q): requesting image prompt", topic.ID, topic.Query)
	imagePrompt, err := p.gateway.CallWithRetry(ctx, generate.Request{
		Prompt:       ImagePrompt(story, topic.Query),
		SystemPrompt: imagePromptSystem,
		Model:        p.cfg.Generate.Model,
	})
	if err != nil {
		return "", fmt.Errorf("image prompt generation: %w", err)
	}

	prefix := fmt.Sprintf("%s_%s", SanitizeFilename(topic.Query), p.now().Format("20060102_150405"))
	if err := workflow.SetPrompt(p.cfg.Comfy.PromptNode, imagePrompt); err != nil {
		return "", err
	}
	if err := workflow.SetSeed(p.cfg.Comfy.SeedNode, rand.Int64N(1_000_000_000_000_000)); err != nil {
		return "", err
	}
	if err := workflow.SetFilenamePrefix(p.cfg.Comfy.SaveNode, prefix); err != nil {
		return "", err
	}

	p.log.Infof("pipeline: topic %d (%q): rendering image", topic.ID, topic.Query)
	data, fileName, err := p.renderer.Render(ctx, workflow)
	if err != nil {
		return "", fmt.Errorf("image render: %w", err)
	}

	dir := filepath.Join(p.cfg.Pipeline.ImagesDir, today)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create image dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, fileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write image %s: %w", path, err)
	}
	return filepath.ToSlash(path), nil
}

// persist writes the image row (if any) and then the narrative that
// references it, in that order.
func (p *Pipeline) persist(ctx context.Context, topic store.Topic, story, imagePath, today string) error {
	st, err := p.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	var imageID *int64
	if imagePath != "" {
		id, err := st.InsertImage(ctx, imagePath)
		if err != nil {
			return err
		}
		imageID = &id
	}
	if _, err := st.InsertNarrative(ctx, story, today, topic.ID, imageID); err != nil {
		return err
	}
	p.log.Infof("pipeline: topic %d (%q): persisted", topic.ID, topic.Query)
	return nil
}

// publishSitemap merges the store's narrative dates into the existing
// sitemap document and rewrites it.
func (p *Pipeline) publishSitemap(ctx context.Context) error {
	st, err := p.openStore()
	if err != nil {
		return err
	}
	dates, err := st.DistinctNarrativeDates(ctx)
	st.Close()
	if err != nil {
		return err
	}

	existing, err := os.ReadFile(p.cfg.Site.SitemapPath)
	if err != nil {
		// Absent or unreadable prior document: fresh start.
		existing = nil
	}

	entries := sitemap.Merge(existing, dates, p.cfg.Site.BaseURL, p.now())
	if err := sitemap.WriteFile(p.cfg.Site.SitemapPath, entries); err != nil {
		return err
	}
	p.log.Infof("pipeline: sitemap rewritten with %d entries", len(entries))
	return nil
}
