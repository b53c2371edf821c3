// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package barwire

import "expvar"

// wireMetrics record client and server activity counters.
type wireMetrics struct {
	framesRecv     expvar.Int
	framesSent     expvar.Int
	framesDropped  expvar.Int
	requests       expvar.Int // number of client round trips initiated
	requestsFailed expvar.Int // number of client round trips reporting an error
	retries        expvar.Int // number of re-resolutions after a failed send
	replyTimeout   expvar.Int // number of reply waits that ended without a reply
	handlerCalls   expvar.Int // number of frames passed to a server handler
	handlerErrors  expvar.Int // number of server handler calls reporting an error
	kills          expvar.Int // number of sentinel frames received

	emap *expvar.Map
}

var rootMetrics = newWireMetrics()

func newWireMetrics() *wireMetrics {
	m := &wireMetrics{emap: new(expvar.Map)}
	m.emap.Set("frames_received", &m.framesRecv)
	m.emap.Set("frames_sent", &m.framesSent)
	m.emap.Set("frames_dropped", &m.framesDropped)
	m.emap.Set("requests", &m.requests)
	m.emap.Set("requests_failed", &m.requestsFailed)
	m.emap.Set("retries", &m.retries)
	m.emap.Set("reply_timeouts", &m.replyTimeout)
	m.emap.Set("handler_calls", &m.handlerCalls)
	m.emap.Set("handler_errors", &m.handlerErrors)
	m.emap.Set("kills", &m.kills)
	return m
}

// Metrics returns the metrics map shared by all clients and servers in the
// process. It is safe for the caller to add additional metrics to the map.
func Metrics() *expvar.Map { return rootMetrics.emap }
