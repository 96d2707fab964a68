package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracerWithoutEndpoint(t *testing.T) {
	tracer, closer, err := InitTracer("montage", "", 1)
	require.NoError(t, err)
	defer closer.Close()

	assert.IsType(t, opentracing.NoopTracer{}, tracer)
}

func TestSpanHelpers(t *testing.T) {
	tracer := mocktracer.New()
	opentracing.SetGlobalTracer(tracer)
	defer opentracing.SetGlobalTracer(opentracing.NoopTracer{})

	span, ctx := StartSpan(context.Background(), "export.render")
	SetTag(span, "frames", 90)
	LogError(span, errors.New("encoder exited"))

	child, _ := StartSpan(ctx, "export.encode")
	FinishSpan(child)
	FinishSpan(span)

	finished := tracer.FinishedSpans()
	require.Len(t, finished, 2)
	assert.Equal(t, "export.render", finished[1].OperationName)
	assert.Equal(t, 90, finished[1].Tag("frames"))
	assert.Equal(t, true, finished[1].Tag("error"))
	assert.Equal(t, finished[1].SpanContext.SpanID, finished[0].ParentID)

	// nil spans are ignored
	FinishSpan(nil)
	LogError(nil, errors.New("x"))
}
