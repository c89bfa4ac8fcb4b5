// Package streamcore moves encoded video frames from hardware buffer slots
// to streaming clients.
//
// A producer writes access units into the slots of a slotqueue.Queue.
// A Streamer acquires them, extracts their NAL units and forwards them to
// one or more Sinks, like an RTSP server or WebSocket clients.
package streamcore
