package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/council/internal/consultation"
	"github.com/fyrsmithlabs/council/internal/events"
	"github.com/fyrsmithlabs/council/internal/memory"
)

const defaultPersistTimeout = 30 * time.Second

// Writer stores decisions and experiences.
type Writer interface {
	RecordDecision(ctx context.Context, d *memory.StrategicDecision) error
	RecordExperiences(ctx context.Context, exps []*memory.Experience) error
}

// PersistResult reports the outcome of one background write.
type PersistResult struct {
	DecisionErr   error
	ExperienceErr error
}

// Err joins both errors.
func (r PersistResult) Err() error {
	return errors.Join(r.DecisionErr, r.ExperienceErr)
}

// PersistTask is a handle on a background write.
type PersistTask struct {
	done   chan struct{}
	result PersistResult
}

// Done is closed when the write finishes.
func (t *PersistTask) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the write finishes.
func (t *PersistTask) Wait() PersistResult {
	<-t.done
	return t.result
}

// Persister writes rounds to memory in the background. Failures are logged
// and counted; they never reach the caller of the round.
type Persister struct {
	writer    Writer
	publisher events.Publisher
	timeout   time.Duration
	metrics   *Metrics
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// PersisterOption configures a Persister.
type PersisterOption func(*Persister)

// WithPublisher publishes decision.recorded after a successful write.
func WithPublisher(p events.Publisher) PersisterOption {
	return func(ps *Persister) {
		if p != nil {
			ps.publisher = p
		}
	}
}

// WithPersistTimeout bounds one background write.
func WithPersistTimeout(d time.Duration) PersisterOption {
	return func(ps *Persister) {
		if d > 0 {
			ps.timeout = d
		}
	}
}

// NewPersister creates a Persister.
func NewPersister(writer Writer, logger *zap.Logger, opts ...PersisterOption) (*Persister, error) {
	if writer == nil {
		return nil, fmt.Errorf("writer cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Persister{
		writer:    writer,
		publisher: events.Nop{},
		timeout:   defaultPersistTimeout,
		metrics:   NewMetrics(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Persist starts writing d and one experience per usable response. It
// returns at once; the write runs detached from ctx's cancellation.
func (p *Persister) Persist(ctx context.Context, d *memory.StrategicDecision, responses []consultation.Response) *PersistTask {
	task := &PersistTask{done: make(chan struct{})}
	exps := Experiences(d, responses)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(task.done)
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("persist panicked",
					zap.String("decision_id", d.ID),
					zap.Any("panic", r),
					zap.Stack("stack"))
				task.result.DecisionErr = fmt.Errorf("persist panic: %v", r)
			}
		}()

		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		task.result = p.write(wctx, d, exps)
	}()
	return task
}

// Wait blocks until every started write has finished.
func (p *Persister) Wait() {
	p.wg.Wait()
}

func (p *Persister) write(ctx context.Context, d *memory.StrategicDecision, exps []*memory.Experience) PersistResult {
	var res PersistResult

	res.DecisionErr = p.writer.RecordDecision(ctx, d)
	p.observe("decision", res.DecisionErr)
	if res.DecisionErr != nil {
		p.logger.Error("persisting decision failed",
			zap.String("decision_id", d.ID),
			zap.String("corporation_id", d.CorporationID),
			zap.String("session_id", d.SessionID),
			zap.Error(res.DecisionErr))
	}

	if len(exps) > 0 {
		res.ExperienceErr = p.writer.RecordExperiences(ctx, exps)
		p.observe("experiences", res.ExperienceErr)
		if res.ExperienceErr != nil {
			p.logger.Error("persisting experiences failed",
				zap.String("corporation_id", d.CorporationID),
				zap.String("session_id", d.SessionID),
				zap.Int("count", len(exps)),
				zap.Error(res.ExperienceErr))
		}
	}

	if res.DecisionErr == nil {
		if err := p.publisher.DecisionRecorded(ctx, d); err != nil {
			p.logger.Warn("publishing decision event failed",
				zap.String("decision_id", d.ID),
				zap.Error(err))
		}
	}
	return res
}

func (p *Persister) observe(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.metrics.PersistTotal.WithLabelValues(kind, result).Inc()
}

// Experiences builds one experience per non-degraded response, tagged with
// the specialist kind and the query keywords. Experience IDs are derived
// from the decision ID and the kind, so rebuilding the same decision yields
// the same IDs.
func Experiences(d *memory.StrategicDecision, responses []consultation.Response) []*memory.Experience {
	keywords := memory.Keywords(d.DecisionContext)
	var out []*memory.Experience
	for _, r := range responses {
		if r.Degraded {
			continue
		}
		rec := strings.Join(r.Recommendations, "; ")
		if rec == "" {
			rec = r.Analysis
		}
		if rec == "" {
			continue
		}
		tags := make([]string, 0, len(keywords)+1)
		tags = append(tags, string(r.AgentType))
		tags = append(tags, keywords...)

		out = append(out, &memory.Experience{
			ID:             uuid.NewSHA1(uuid.NameSpaceOID, []byte(d.ID+"/"+string(r.AgentType))).String(),
			AgentType:      r.AgentType,
			Timestamp:      d.Timestamp,
			SessionID:      d.SessionID,
			CorporationID:  d.CorporationID,
			Situation:      d.DecisionContext,
			Recommendation: rec,
			Tags:           tags,
		})
	}
	return out
}
