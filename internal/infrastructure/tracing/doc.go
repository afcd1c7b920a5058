/*
Package tracing provides lightweight request tracing.

# Overview

Spans carry a trace id across the HTTP surface and into upstream relay
fetches. Completed spans are collected asynchronously and written to the
structured log.

# Usage

	tracer := tracing.New("scriptkit", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "relay.fetch")
	defer tracer.End(span)
	tracing.InjectHeaders(ctx, req.Header)

# Trace Format

- X-Trace-ID: identifier for the whole request flow
- X-Span-ID: identifier for the current operation
*/
package tracing
