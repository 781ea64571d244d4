package analysis

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

// ErrRepoNotFound is returned for repositories the source does not know.
var ErrRepoNotFound = errors.New("repository not found")

// Repo is the metadata of one repository.
type Repo struct {
	FullName    string    `json:"fullName"`
	Description string    `json:"description"`
	Language    string    `json:"language"`
	Topics      []string  `json:"topics"`
	Stars       int       `json:"stars"`
	Forks       int       `json:"forks"`
	OpenIssues  int       `json:"openIssues"`
	CreatedAt   time.Time `json:"createdAt"`
	PushedAt    time.Time `json:"pushedAt"`
}

// Source is the upstream the stages read from.
type Source interface {
	Search(ctx context.Context, query string, limit int) ([]string, error)
	Repository(ctx context.Context, fullName string) (*Repo, error)
	Stargazers(ctx context.Context, fullName string, limit int) ([]string, error)
	Starred(ctx context.Context, login string, limit int) ([]string, error)
}

// SampleSource fabricates a small, stable universe of repositories and
// users. Every answer is derived from a hash of the question, so repeated
// runs see the same data.
type SampleSource struct {
	// Repos is the size of the repository pool users star from.
	Repos int
	// Users is the size of the stargazer pool.
	Users int
}

// NewSampleSource returns a source with the default pool sizes.
func NewSampleSource() *SampleSource {
	return &SampleSource{Repos: 60, Users: 500}
}

var (
	sampleLanguages = []string{"Go", "TypeScript", "Rust", "Python", "C++", "Kotlin"}
	sampleTopics    = []string{"cli", "database", "web", "machine-learning", "devops", "graphics", "networking", "security", "testing", "compiler"}
	sampleEpoch     = time.Date(2015, time.January, 1, 0, 0, 0, 0, time.UTC)
)

func hashOf(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

// Search returns repositories named after the query.
func (s *SampleSource) Search(ctx context.Context, query string, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	slug := strings.Trim(strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '-'
	}, query), "-")
	if slug == "" {
		return nil, nil
	}

	n := min(limit, 3+int(hashOf(query)%5))
	names := make([]string, 0, n)
	for i := 0; i < n; i++ {
		names = append(names, fmt.Sprintf("%s-lab/%s-%d", slug, slug, i))
	}
	return names, nil
}

// Repository describes fullName, which must have the form owner/name.
func (s *SampleSource) Repository(ctx context.Context, fullName string) (*Repo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	owner, name, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("%w: %s", ErrRepoNotFound, fullName)
	}

	h := hashOf(fullName)
	created := sampleEpoch.Add(time.Duration(h%3000) * 24 * time.Hour)
	return &Repo{
		FullName:    fullName,
		Description: fmt.Sprintf("Sample project %s", name),
		Language:    sampleLanguages[h%uint32(len(sampleLanguages))],
		Topics: []string{
			sampleTopics[h%uint32(len(sampleTopics))],
			sampleTopics[(h/7)%uint32(len(sampleTopics))],
		},
		Stars:      int(h%50000) + 10,
		Forks:      int(h%4000) + 1,
		OpenIssues: int(h % 300),
		CreatedAt:  created,
		PushedAt:   created.Add(time.Duration(h%400) * 24 * time.Hour),
	}, nil
}

// Stargazers returns up to limit users who starred fullName.
func (s *SampleSource) Stargazers(ctx context.Context, fullName string, limit int) ([]string, error) {
	if _, err := s.Repository(ctx, fullName); err != nil {
		return nil, err
	}
	h := hashOf(fullName)
	n := min(limit, 20+int(h%40))
	users := make([]string, 0, n)
	seen := make(map[uint32]bool, n)
	for i := 0; len(users) < n && i < s.Users; i++ {
		id := (h + uint32(i)*7919) % uint32(s.Users)
		if seen[id] {
			continue
		}
		seen[id] = true
		users = append(users, fmt.Sprintf("user-%d", id))
	}
	return users, nil
}

// Starred returns up to limit repositories starred by login.
func (s *SampleSource) Starred(ctx context.Context, login string, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := hashOf(login)
	n := min(limit, 5+int(h%25))
	repos := make([]string, 0, n)
	seen := make(map[uint32]bool, n)
	for i := 0; len(repos) < n && i < s.Repos; i++ {
		id := (h + uint32(i)*131) % uint32(s.Repos)
		if seen[id] {
			continue
		}
		seen[id] = true
		repos = append(repos, fmt.Sprintf("org-%d/repo-%d", id%12, id))
	}
	return repos, nil
}
