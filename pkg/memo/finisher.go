package memo

import (
	"context"
	"log/slog"

	"github.com/voxflow-ai/voxflow/pkg/callctx"
)

// Finisher runs the post-call reporting chain: build the memo, post it,
// record the collection activity. Every step is best effort.
type Finisher struct {
	builder *Builder
	sink    *Sink
	log     *slog.Logger
}

func NewFinisher(builder *Builder, sink *Sink, log *slog.Logger) *Finisher {
	if log == nil {
		log = slog.Default()
	}
	return &Finisher{builder: builder, sink: sink, log: log}
}

// Finish reports the finished call. Matches the bridge's FinishCall
// callback shape.
func (f *Finisher) Finish(ctx context.Context, final *callctx.Context) {
	if final == nil {
		return
	}

	memo := f.builder.Build(ctx, final)
	if err := f.sink.PostMemo(ctx, memo); err != nil {
		f.log.Error("memo post failed", "call_sid", final.CallSID, "error", err)
	}
	if err := f.sink.PostCollectionActivity(ctx, final.Seed.LoanID); err != nil {
		f.log.Error("collection activity post failed", "call_sid", final.CallSID, "error", err)
	}
}
