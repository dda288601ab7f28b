// Package tracing exports finished runs as OpenTelemetry spans: one span
// per run, with file, suite and test spans nested the way the tasks are.
package tracing

import (
	"context"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/hitrun/packages/core/task"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/abdul-hamid-achik/hitrun"

// Reporter builds spans from the finished task tree. Span timestamps
// come from task results, so spans are emitted once the run is done.
type Reporter struct {
	tracer trace.Tracer

	mu      sync.Mutex
	started time.Time
}

// NewReporter returns a reporter using tp, or the global provider when
// tp is nil.
func NewReporter(tp trace.TracerProvider) *Reporter {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Reporter{tracer: tp.Tracer(instrumentationName)}
}

func (r *Reporter) OnCollected(ctx context.Context, files []*task.File) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = time.Now()
	return nil
}

func (r *Reporter) OnTaskUpdate(ctx context.Context, packs []task.ResultPack) error {
	return nil
}

func (r *Reporter) OnFinished(ctx context.Context, files []*task.File) error {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if started.IsZero() {
		started = time.Now()
	}

	ctx, run := r.tracer.Start(ctx, "hitrun.run",
		trace.WithTimestamp(started),
		trace.WithAttributes(attribute.Int("hitrun.files", len(files))))

	failed := false
	for _, f := range files {
		r.span(ctx, f)
		if task.HasFailed(f) {
			failed = true
		}
	}
	if failed {
		run.SetStatus(codes.Error, "run failed")
	}
	run.End()
	return nil
}

// span emits the span of t and recurses into its children.
func (r *Reporter) span(ctx context.Context, t task.Task) {
	b := t.Common()
	start, end := window(b.Result)

	name := b.Name
	if t.Type() != task.TypeFile {
		name = task.FullName(t)
	}
	attrs := []attribute.KeyValue{
		attribute.String("hitrun.task.id", b.ID),
		attribute.String("hitrun.task.type", string(t.Type())),
		attribute.String("hitrun.task.mode", string(b.Mode)),
	}
	if len(b.Tags) > 0 {
		attrs = append(attrs, attribute.StringSlice("hitrun.task.tags", b.Tags))
	}
	if f, ok := t.(*task.File); ok {
		attrs = append(attrs,
			attribute.String("hitrun.file.path", f.Filepath),
			attribute.Int64("hitrun.file.collect_ms", f.CollectDuration.Milliseconds()),
			attribute.Int64("hitrun.file.setup_ms", f.SetupDuration.Milliseconds()))
	}

	ctx, span := r.tracer.Start(ctx, name, trace.WithTimestamp(start), trace.WithAttributes(attrs...))

	if res := b.Result; res != nil {
		span.SetAttributes(
			attribute.String("hitrun.state", string(res.State)),
			attribute.Int("hitrun.retry_count", res.RetryCount),
			attribute.Int("hitrun.repeat_count", res.RepeatCount))
		if res.Note != "" {
			span.SetAttributes(attribute.String("hitrun.note", res.Note))
		}
		for _, e := range res.Errors {
			span.RecordError(e, trace.WithTimestamp(end),
				trace.WithAttributes(attribute.String("hitrun.error.kind", string(e.Kind))))
		}
		if res.State == task.StateFail {
			span.SetStatus(codes.Error, firstMessage(res))
		}
	}

	var children []task.Task
	switch v := t.(type) {
	case *task.File:
		children = v.Tasks
	case *task.Suite:
		children = v.Tasks
	}
	for _, c := range children {
		r.span(ctx, c)
	}
	span.End(trace.WithTimestamp(end))
}

func window(res *task.Result) (time.Time, time.Time) {
	if res == nil || res.StartTime.IsZero() {
		now := time.Now()
		return now, now
	}
	return res.StartTime, res.StartTime.Add(res.Duration)
}

func firstMessage(res *task.Result) string {
	if len(res.Errors) == 0 {
		return string(res.State)
	}
	return res.Errors[0].Error()
}
