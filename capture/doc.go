// Package capture acquires camera frames through GStreamer and exposes them
// as a relay.Source.
//
// Two modes cover the two acquisition paths of the system:
//   - ModeRaw: decoded RGB frames for display and snapshot sinks
//   - ModeH264: an encoded H.264 byte-stream for the RTP pipe and
//     recording sinks (encoding happens inside the GStreamer pipeline,
//     chunks must never be reordered or dropped between encoder and sink)
//
// The provider is fail-fast: configuration is validated at construction,
// GStreamer errors surface at Open. After Open, NextFrame blocks until the
// pipeline produces a frame; a pipeline bus error or EOS ends the stream
// and NextFrame returns ErrStreamEnded, which the relay session treats as
// source death.
package capture
