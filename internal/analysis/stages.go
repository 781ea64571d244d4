package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"stardust/pkg/contracts/domain"
)

// DefaultStages returns the stages of a related-repositories analysis.
func DefaultStages() []Stage {
	return []Stage{
		StageFunc(domain.PhaseResolveInput, resolveInput),
		StageFunc(domain.PhaseResolveComparisons, resolveComparisons),
		StageFunc(domain.PhaseSkimComparisons, skimComparisons),
		StageFunc(domain.PhaseAugmentData, augmentData),
		StageFunc(domain.PhaseTopicsStats, topicsStats),
		StageFunc(domain.PhaseStats, stats),
	}
}

// subjectContext drops cached upstream answers about the subject when an
// operator asked for it.
func subjectContext(ctx context.Context, req domain.Request) context.Context {
	if req.Admin != nil && req.Admin.InvalidateSubject {
		return WithInvalidation(ctx)
	}
	return ctx
}

func resolveInput(ctx context.Context, run *Run) error {
	req := run.Request
	ctx = subjectContext(ctx, req)
	if err := run.Wait(ctx); err != nil {
		return err
	}

	switch req.OpCode {
	case domain.OpCodeRelated:
		repo, err := run.Source.Repository(ctx, req.OpQuery)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", req.OpQuery, err)
		}
		run.subjects = []string{repo.FullName}
		run.Hooks.OnFunnel(domain.FunnelEntry{Size: 1, Stage: "input", Source: "repository"})
	case domain.OpCodeQuery:
		names, err := run.Source.Search(ctx, req.OpQuery, req.MaxResults)
		if err != nil {
			return fmt.Errorf("search %q: %w", req.OpQuery, err)
		}
		if len(names) == 0 {
			return fmt.Errorf("no repositories match %q", req.OpQuery)
		}
		run.subjects = names
		run.Hooks.OnFunnel(domain.FunnelEntry{Size: len(names), Stage: "input", Source: "search"})
	default:
		return fmt.Errorf("unsupported op code %d", req.OpCode)
	}
	return nil
}

func resolveComparisons(ctx context.Context, run *Run) error {
	req := run.Request
	subjectCtx := subjectContext(ctx, req)

	seen := make(map[string]bool)
	for _, subject := range run.subjects {
		if err := run.Wait(ctx); err != nil {
			return err
		}
		users, err := run.Source.Stargazers(subjectCtx, subject, req.MaxResults)
		if err != nil {
			return fmt.Errorf("stargazers of %s: %w", subject, err)
		}
		for _, u := range users {
			if !seen[u] {
				seen[u] = true
				run.stargazers = append(run.stargazers, u)
			}
		}
	}
	run.Hooks.OnFunnel(domain.FunnelEntry{Size: len(run.stargazers), Stage: "stargazers", Source: "subjects"})

	subjects := make(map[string]bool, len(run.subjects))
	for _, s := range run.subjects {
		subjects[s] = true
	}

	var mu sync.Mutex
	err := run.ForEach(ctx, len(run.stargazers), func(ctx context.Context, i int) error {
		if err := run.Wait(ctx); err != nil {
			return err
		}
		starred, err := run.Source.Starred(ctx, run.stargazers[i], req.LimitStarsPerUser)
		if err != nil {
			return fmt.Errorf("starred by %s: %w", run.stargazers[i], err)
		}

		mu.Lock()
		defer mu.Unlock()
		for _, name := range starred {
			if !subjects[name] {
				run.counts[name]++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	run.Hooks.OnFunnel(domain.FunnelEntry{Size: len(run.counts), Stage: "comparisons", Source: "stargazers"})
	return nil
}

func skimComparisons(_ context.Context, run *Run) error {
	req := run.Request
	threshold := 2
	if req.IncreaseSNR {
		threshold = max(threshold, len(run.stargazers)/10)
	}

	candidates := make([]string, 0, len(run.counts))
	for name, n := range run.counts {
		if n >= threshold {
			candidates = append(candidates, name)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		ci, cj := run.counts[candidates[i]], run.counts[candidates[j]]
		if ci != cj {
			return ci > cj
		}
		return candidates[i] < candidates[j]
	})
	if req.MaxResults > 0 && len(candidates) > req.MaxResults {
		candidates = candidates[:req.MaxResults]
	}
	run.candidates = candidates

	filters := []string{fmt.Sprintf("shared stargazers >= %d", threshold)}
	if req.MaxResults > 0 {
		filters = append(filters, fmt.Sprintf("top %d by shared stargazers", req.MaxResults))
	}
	run.Hooks.OnFilters(filters...)
	run.Hooks.OnFunnel(domain.FunnelEntry{Size: len(candidates), Stage: "skim", Source: "comparisons"})
	return nil
}

func augmentData(ctx context.Context, run *Run) error {
	repos := make([]*Repo, len(run.candidates))
	err := run.ForEach(ctx, len(run.candidates), func(ctx context.Context, i int) error {
		if err := run.Wait(ctx); err != nil {
			return err
		}
		repo, err := run.Source.Repository(ctx, run.candidates[i])
		if errors.Is(err, ErrRepoNotFound) {
			run.Logger.DebugContext(ctx, "candidate vanished", slog.String("repo", run.candidates[i]))
			return nil
		}
		if err != nil {
			return fmt.Errorf("describe %s: %w", run.candidates[i], err)
		}
		repos[i] = repo
		return nil
	})
	if err != nil {
		return err
	}

	run.repos = run.repos[:0]
	for _, r := range repos {
		if r != nil {
			run.repos = append(run.repos, r)
		}
	}
	run.Hooks.OnFunnel(domain.FunnelEntry{Size: len(run.repos), Stage: "augment", Source: "repository"})
	return nil
}

// TagCount is one row of the topic and language breakdowns.
type TagCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// TopicsStats is the payload of the topics phase.
type TopicsStats struct {
	Topics    []TagCount `json:"topics"`
	Languages []TagCount `json:"languages"`
}

func topicsStats(ctx context.Context, run *Run) error {
	topics := make(map[string]int)
	languages := make(map[string]int)
	for _, r := range run.repos {
		for _, t := range r.Topics {
			topics[t]++
		}
		if r.Language != "" {
			languages[r.Language]++
		}
	}
	return run.Hooks.OnOutput(ctx, domain.PhaseTopicsStats, TopicsStats{
		Topics:    rankTags(topics),
		Languages: rankTags(languages),
	})
}

func rankTags(counts map[string]int) []TagCount {
	tags := make([]TagCount, 0, len(counts))
	for name, n := range counts {
		tags = append(tags, TagCount{Name: name, Count: n})
	}
	sort.Slice(tags, func(i, j int) bool {
		if tags[i].Count != tags[j].Count {
			return tags[i].Count > tags[j].Count
		}
		return tags[i].Name < tags[j].Name
	})
	return tags
}

// StatsRow is one line of the stats table.
type StatsRow struct {
	Repo             string   `json:"repo"`
	SharedStargazers int      `json:"sharedStargazers"`
	Relevance        float64  `json:"relevance"`
	Stars            int      `json:"stars"`
	Forks            int      `json:"forks"`
	OpenIssues       int      `json:"openIssues"`
	Language         string   `json:"language"`
	Topics           []string `json:"topics"`
	CreatedAt        string   `json:"createdAt"`
	PushedAt         string   `json:"pushedAt"`
	StarsPerYear     *float64 `json:"starsPerYear,omitempty"`
}

func stats(ctx context.Context, run *Run) error {
	rows := make([]StatsRow, 0, len(run.repos))
	now := time.Now()
	for _, r := range run.repos {
		shared := run.counts[r.FullName]
		row := StatsRow{
			Repo:             r.FullName,
			SharedStargazers: shared,
			Stars:            r.Stars,
			Forks:            r.Forks,
			OpenIssues:       r.OpenIssues,
			Language:         r.Language,
			Topics:           r.Topics,
			CreatedAt:        r.CreatedAt.Format(time.DateOnly),
			PushedAt:         r.PushedAt.Format(time.DateOnly),
		}
		if len(run.stargazers) > 0 {
			row.Relevance = float64(shared) / float64(len(run.stargazers))
		}
		if run.Request.StarsHistory {
			years := max(now.Sub(r.CreatedAt).Hours()/(24*365), 1.0/12)
			perYear := float64(r.Stars) / years
			row.StarsPerYear = &perYear
		}
		rows = append(rows, row)
	}
	return run.Hooks.OnOutput(ctx, domain.PhaseStats, rows)
}
