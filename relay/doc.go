// Package relay implements a lossy, bounded frame-relay pipeline between a
// blocking camera source and a set of slower, fallible sinks.
//
// Core Philosophy: "The producer never waits. Slowness is a sink's problem."
//
// A Session owns one Source adapter and fans every pulled frame out to zero
// or more registered sinks, each with its own delivery policy:
//   - Blocking: the sink receives every frame in order, its drain worker
//     absorbs the backpressure (never the pull loop)
//   - DropOldest: a full queue evicts the oldest queued frame (latest-wins)
//   - DropNewest: a full queue rejects the incoming frame (earliest-wins)
//
// Usage:
//
//	sess := relay.New(source)
//	if err := sess.Start(ctx); err != nil { ... }
//
//	sess.RegisterSink("display", displaySink, relay.SinkPolicy{Policy: relay.DropOldest, Depth: 1})
//	sess.RegisterSink("rtp", pipeSink, relay.SinkPolicy{Policy: relay.Blocking, Depth: 30})
//
//	go func() {
//	    for f := range sess.Failures() {
//	        log.Printf("sink %s failed: %v", f.SinkID, f.Err)
//	    }
//	}()
//
//	sess.Stop()
//
// Failure isolation: a sink whose delivery errors is reported once on the
// failure channel and auto-unregistered; the source loop and the remaining
// sinks are unaffected. Only source death ends the session.
//
// Public API Stability:
//
// The public API (types, interfaces, errors) is the stable contract.
// Internal implementation lives in internal/session and can evolve freely.
package relay
