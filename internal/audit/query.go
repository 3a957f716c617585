package audit

import (
	"context"
	"errors"

	"estatly.org/internal/authz"
)

const (
	OpRead   authz.Operation = "audit.read"
	OpStream authz.Operation = "audit.stream"
)

// ErrStreamDisabled is returned by Subscribe when no feed is configured.
var ErrStreamDisabled = errors.New("audit: live stream disabled")

// RegisterOperations declares the ledger read operations on p.
func RegisterOperations(p *authz.Policy) error {
	for _, op := range []authz.Operation{OpRead, OpStream} {
		if err := p.Register(op, authz.RoleSuperAdmin); err != nil {
			return err
		}
	}
	return nil
}

// Authorizer decides one request. mutation.Wrapper satisfies it.
type Authorizer interface {
	Authorize(ctx context.Context, actor authz.Actor, op authz.Operation, tenant string) (authz.Decision, error)
}

// Query serves authorized reads of the ledger.
type Query struct {
	reader Reader
	feed   *Feed
	authz  Authorizer
}

// NewQuery returns a Query. feed may be nil.
func NewQuery(reader Reader, feed *Feed, authorizer Authorizer) *Query {
	return &Query{reader: reader, feed: feed, authz: authorizer}
}

func (q *Query) List(ctx context.Context, actor authz.Actor, f Filter) ([]Entry, error) {
	if _, err := q.authz.Authorize(ctx, actor, OpRead, ""); err != nil {
		return nil, err
	}
	return q.reader.List(ctx, f.Normalize())
}

// Subscribe tails entries recorded after the call until ctx ends.
func (q *Query) Subscribe(ctx context.Context, actor authz.Actor) (<-chan Entry, error) {
	if _, err := q.authz.Authorize(ctx, actor, OpStream, ""); err != nil {
		return nil, err
	}
	if q.feed == nil {
		return nil, ErrStreamDisabled
	}
	return q.feed.Subscribe(ctx), nil
}
