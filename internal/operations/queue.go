package operations

import (
	"encoding/base64"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"stardust/pkg/contracts/domain"
)

// Request normalization bounds.
const (
	MinMaxResults           = 1
	MaxMaxResults           = 100000
	MaxLimitStarsPerUser    = 400
	DefaultMaxActive        = 5
	maxUIDCollisionAttempts = 8
)

// Queue is the ordered collection of operations, newest first. It is not
// safe for concurrent use; the Manager serializes access.
type Queue struct {
	ops       []*domain.Operation
	nextSeq   uint64
	maxActive int
	validate  *validator.Validate
	now       func() time.Time
	newUID    func() string
}

// NewQueue creates an empty queue admitting at most maxActive operations
// that are not done.
func NewQueue(maxActive int) *Queue {
	if maxActive <= 0 {
		maxActive = DefaultMaxActive
	}
	return &Queue{
		maxActive: maxActive,
		validate:  validator.New(),
		now:       time.Now,
		newUID:    newUID,
	}
}

// newUID returns a 22 character url-safe id.
func newUID() string {
	id := uuid.New()
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// Submit validates and normalizes req and prepends a new queued operation.
// Saturation is checked first unless bypassLimit is set.
func (q *Queue) Submit(req domain.Request, submitterID string, bypassLimit bool) (*domain.Operation, error) {
	if !bypassLimit && q.IsSaturated() {
		return nil, ErrQueueSaturated
	}
	if err := q.validate.Struct(req); err != nil {
		return nil, NewValidationError("invalid request", err)
	}

	req.MaxResults = clamp(req.MaxResults, MinMaxResults, MaxMaxResults)
	if req.LimitStarsPerUser > MaxLimitStarsPerUser {
		req.LimitStarsPerUser = MaxLimitStarsPerUser
	}

	uid := q.newUID()
	for i := 0; q.Find(uid) != nil; i++ {
		if i >= maxUIDCollisionAttempts {
			return nil, NewValidationError("could not allocate an operation id", nil)
		}
		uid = q.newUID()
	}

	q.nextSeq++
	op := &domain.Operation{
		UID:     uid,
		Seq:     q.nextSeq,
		Request: req,
		Progress: domain.Progress{
			State:    domain.StateQueued,
			QueuedAt: q.now().Unix(),
		},
		Funnel:      []domain.FunnelEntry{},
		Filters:     []string{},
		Outputs:     []domain.OutputRef{},
		SubmitterID: submitterID,
	}
	q.ops = append([]*domain.Operation{op}, q.ops...)
	return op, nil
}

// Delete removes a queued or finished operation.
func (q *Queue) Delete(uid string) error {
	for i, op := range q.ops {
		if op.UID != uid {
			continue
		}
		if op.Progress.State == domain.StateRunning {
			return NewInUseError(uid)
		}
		q.ops = append(q.ops[:i], q.ops[i+1:]...)
		return nil
	}
	return NewNotFoundError(uid)
}

// Find returns the operation with uid, or nil.
func (q *Queue) Find(uid string) *domain.Operation {
	for _, op := range q.ops {
		if op.UID == uid {
			return op
		}
	}
	return nil
}

// EligibleForStart returns the queued operation submitted first, or nil.
func (q *Queue) EligibleForStart() *domain.Operation {
	var next *domain.Operation
	for _, op := range q.ops {
		if op.Progress.State != domain.StateQueued {
			continue
		}
		if next == nil || op.Seq < next.Seq {
			next = op
		}
	}
	return next
}

// ActiveCount counts operations that are not done.
func (q *Queue) ActiveCount() int {
	n := 0
	for _, op := range q.ops {
		if op.IsActive() {
			n++
		}
	}
	return n
}

// IsSaturated reports whether admission is closed.
func (q *Queue) IsSaturated() bool {
	return q.ActiveCount() >= q.maxActive
}

// Operations returns the live operations, newest first. The slice is a
// copy but the operations are shared.
func (q *Queue) Operations() []*domain.Operation {
	out := make([]*domain.Operation, len(q.ops))
	copy(out, q.ops)
	return out
}

// Snapshot returns deep copies of every operation, newest first.
func (q *Queue) Snapshot() []*domain.Operation {
	out := make([]*domain.Operation, len(q.ops))
	for i, op := range q.ops {
		out[i] = op.Clone()
	}
	return out
}

// Load replaces the queue contents with restored operations.
func (q *Queue) Load(ops []*domain.Operation) {
	q.ops = q.ops[:0]
	q.nextSeq = 0
	for _, op := range ops {
		if op == nil {
			continue
		}
		if op.Funnel == nil {
			op.Funnel = []domain.FunnelEntry{}
		}
		if op.Filters == nil {
			op.Filters = []string{}
		}
		if op.Outputs == nil {
			op.Outputs = []domain.OutputRef{}
		}
		if op.Seq > q.nextSeq {
			q.nextSeq = op.Seq
		}
		q.ops = append(q.ops, op)
	}
}

// Len returns the number of operations held.
func (q *Queue) Len() int {
	return len(q.ops)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
