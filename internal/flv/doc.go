// Package flv implements an incremental demultiplexer for FLV-style tagged
// byte streams, plus the simpler single-record wire format used by
// message-oriented transports.
//
// The central type is [Demuxer], an explicit pull state machine: callers
// [Demuxer.Feed] chunks of arbitrary size as they arrive and [Demuxer.Poll]
// for frames until it reports [ErrNeedMore]. Chunk boundaries never need to
// line up with tag boundaries. [ReadFrames] wraps the same machine around an
// [io.Reader] as a lazy sequence.
package flv
