package domain

import "fmt"

// Operation is one submitted analysis job together with its full lifecycle
// state. It is the unit that is queued, executed, persisted and broadcast.
type Operation struct {
	UID         string        `json:"uid"`
	Seq         uint64        `json:"seq"`
	Request     Request       `json:"request"`
	Progress    Progress      `json:"progress"`
	Funnel      []FunnelEntry `json:"funnel"`
	Filters     []string      `json:"filters"`
	Outputs     []OutputRef   `json:"outputs"`
	SubmitterID string        `json:"submitterId"`
}

// OpCode selects how OpQuery is interpreted.
type OpCode int

const (
	OpCodeRelated OpCode = 0
	OpCodeQuery   OpCode = 1
)

// Request holds the validated, normalized submission parameters.
type Request struct {
	OpCode            OpCode          `json:"opCode" validate:"oneof=0 1"`
	OpQuery           string          `json:"opQuery" validate:"required"`
	MaxResults        int             `json:"maxResults"`
	LimitStarsPerUser int             `json:"limitStarsPerUser"`
	IncreaseSNR       bool            `json:"increaseSNR"`
	StarsHistory      bool            `json:"starsHistory"`
	Admin             *AdminDirective `json:"admin,omitempty"`
}

// AdminDirective carries per-request switches reserved for operators.
type AdminDirective struct {
	InvalidateSubject bool `json:"invalidateSubject,omitempty"`
}

// State is the coarse lifecycle position of an operation.
type State int

const (
	StateQueued  State = 0
	StateRunning State = 1
	StateDone    State = 2
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Progress is the mutable execution state of an operation. Timestamps are
// unix seconds, 0 meaning unset.
type Progress struct {
	State      State   `json:"state"`
	QueuedAt   int64   `json:"queuedAt"`
	StartedAt  int64   `json:"startedAt"`
	EndedAt    int64   `json:"endedAt"`
	PhaseIndex int     `json:"phaseIndex"`
	PhaseCount int     `json:"phaseCount"`
	Fraction   float64 `json:"fraction"`
	Error      string  `json:"error,omitempty"`
}

// FunnelEntry records the size of the working set after one stage.
type FunnelEntry struct {
	Size   int    `json:"size"`
	Stage  string `json:"stage"`
	Source string `json:"source"`
}

// OutputRef points at an artifact stored in the artifact cache.
type OutputRef struct {
	Format   string `json:"format"`
	RowCount int    `json:"rowCount"`
	ColCount int    `json:"colCount"`
	ByteSize int    `json:"byteSize"`
	CacheKey string `json:"cacheKey"`
}

// ServerStatus is the ephemeral, never persisted, server state pushed to
// every observer.
type ServerStatus struct {
	ConnectedClients int  `json:"connectedClients"`
	IsRunning        bool `json:"isRunning"`
	QueueFull        bool `json:"queueFull"`
}

// Phase tags the stage of an analysis that produced an output.
type Phase int

const (
	PhaseResolveInput       Phase = 1
	PhaseResolveComparisons Phase = 2
	PhaseSkimComparisons    Phase = 3
	PhaseAugmentData        Phase = 4
	PhaseTopicsStats        Phase = 5
	PhaseStats              Phase = 6
)

var phaseNames = map[Phase]string{
	PhaseResolveInput:       "resolve-input",
	PhaseResolveComparisons: "resolve-comparisons",
	PhaseSkimComparisons:    "skim-comparisons",
	PhaseAugmentData:        "augment-data",
	PhaseTopicsStats:        "topics-stats",
	PhaseStats:              "stats",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Clone returns a deep copy safe to hand to another goroutine.
func (o *Operation) Clone() *Operation {
	if o == nil {
		return nil
	}
	c := *o
	if o.Request.Admin != nil {
		admin := *o.Request.Admin
		c.Request.Admin = &admin
	}
	c.Funnel = cloneSlice(o.Funnel)
	c.Filters = cloneSlice(o.Filters)
	c.Outputs = cloneSlice(o.Outputs)
	return &c
}

// cloneSlice copies s, never returning nil so lists encode as [].
func cloneSlice[T any](s []T) []T {
	out := make([]T, len(s))
	copy(out, s)
	return out
}

// IsActive reports whether the operation still counts against admission.
func (o *Operation) IsActive() bool {
	return o.Progress.State != StateDone
}
