// Package gateway is the HTTP surface of the agent service.
//
// It translates JSON requests into dispatcher runs and writes the RunResult
// back. Agent-level failures are still HTTP 200 with success false; only
// malformed requests get a 4xx.
//
// Routes:
//
//	GET    /health
//	POST   /api/agent/run
//	POST   /api/agent/tool
//	POST   /api/agent/session
//	DELETE /api/agent/session/{id}
//	GET    /api/agent/stream   (websocket)
//	GET    /metrics
package gateway
