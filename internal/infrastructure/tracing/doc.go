/*
Package tracing provides lightweight request tracing.

# Overview

Spans are created per inbound HTTP request and per outbound capabilities
lookup, and are logged through zap once finished. Trace context travels in
the X-Trace-ID and X-Span-ID headers, and in the matching lowercase gRPC
metadata keys.

# Usage

	tracer := tracing.New("fastcheckout", logger)
	defer tracer.Close()

	// HTTP middleware
	router.Use(tracing.HTTPMiddleware(tracer))

	// gRPC client interceptor
	conn, err := grpc.NewClient(addr,
		grpc.WithUnaryInterceptor(tracing.GRPCClientInterceptor(tracer)),
	)

	// Manual span creation
	span, ctx := tracer.StartSpan(ctx, "operation")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()

# Performance

Spans are buffered (1000) and processed on a single collector goroutine.
When the buffer is full, spans are dropped rather than blocking the caller.
*/
package tracing
