package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"

	"github.com/qrinfo/hunt/internal/hunt"
)

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse map[string]struct {
	Status string `json:"status"`
}

type sessionPath struct {
	SessionID string `path:"sessionID"`
}

type playerPath struct {
	SessionID string `path:"sessionID"`
	PlayerID  string `path:"playerID"`
}

type playerHeader struct {
	SessionID     string `path:"sessionID"`
	PlayerID      string `header:"X-Player-Id" description:"Device identity, when signed identities are disabled."`
	Authorization string `header:"Authorization" description:"Bearer identity token, when signed identities are enabled."`
}

type operatorHeader struct {
	OperatorKey string `header:"X-Operator-Key" required:"true"`
}

type registerOp struct {
	playerHeader
	RegisterRequest
}

type scanOp struct {
	playerHeader
	ScanRequest
}

type configureOp struct {
	sessionPath
	operatorHeader
	hunt.SessionConfig
}

type phaseOp struct {
	sessionPath
	operatorHeader
	PhaseRequest
}

type operatorSessionOp struct {
	sessionPath
	operatorHeader
}

type operatorPlayerOp struct {
	playerPath
	operatorHeader
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "Hunt API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Live session engine for QR scavenger hunts and station races.")

	// GET /healthz
	getHealthz, _ := r.NewOperationContext(http.MethodGet, "/healthz")
	getHealthz.SetSummary("Health check")
	getHealthz.SetDescription("Returns the health status of backend dependencies.")
	getHealthz.AddRespStructure(HealthResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	getHealthz.AddRespStructure(HealthResponse{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(getHealthz)

	// GET /ws/sessions/{sessionID}
	getWS, _ := r.NewOperationContext(http.MethodGet, "/ws/sessions/{sessionID}")
	getWS.SetSummary("Live feed (WebSocket)")
	getWS.SetDescription("Upgrades to a WebSocket that sends the current projection, then every change.")
	getWS.AddReqStructure(sessionPath{})
	getWS.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusSwitchingProtocols),
		openapi.WithContentType("text/plain"))
	_ = r.AddOperation(getWS)

	// GET /api/sessions/{sessionID}
	getInfo, _ := r.NewOperationContext(http.MethodGet, "/api/sessions/{sessionID}")
	getInfo.SetSummary("Session info")
	getInfo.SetDescription("Public session details a device needs before registering.")
	getInfo.AddReqStructure(sessionPath{})
	getInfo.AddRespStructure(SessionInfo{}, openapi.WithHTTPStatus(http.StatusOK))
	getInfo.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(getInfo)

	// POST /api/sessions/{sessionID}/register
	postRegister, _ := r.NewOperationContext(http.MethodPost, "/api/sessions/{sessionID}/register")
	postRegister.SetSummary("Register player")
	postRegister.SetDescription("Creates the caller's player record. Registering again returns the existing record.")
	postRegister.AddReqStructure(registerOp{})
	postRegister.AddRespStructure(hunt.Player{}, openapi.WithHTTPStatus(http.StatusOK))
	postRegister.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	postRegister.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	postRegister.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	_ = r.AddOperation(postRegister)

	// POST /api/sessions/{sessionID}/start
	postStart, _ := r.NewOperationContext(http.MethodPost, "/api/sessions/{sessionID}/start")
	postStart.SetSummary("Start run")
	postStart.SetDescription("Starts the caller's run and assigns a type when configured. Idempotent.")
	postStart.AddReqStructure(playerHeader{})
	postStart.AddRespStructure(hunt.StartResult{}, openapi.WithHTTPStatus(http.StatusOK))
	postStart.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	postStart.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	_ = r.AddOperation(postStart)

	// POST /api/sessions/{sessionID}/scan
	postScan, _ := r.NewOperationContext(http.MethodPost, "/api/sessions/{sessionID}/scan")
	postScan.SetSummary("Submit scan")
	postScan.SetDescription("Validates a scanned target. Rejections that are part of play come back as 200 with a reason.")
	postScan.AddReqStructure(scanOp{})
	postScan.AddRespStructure(hunt.ScanResult{}, openapi.WithHTTPStatus(http.StatusOK))
	postScan.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	postScan.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	postScan.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	_ = r.AddOperation(postScan)

	// GET /api/sessions/{sessionID}/me
	getMe, _ := r.NewOperationContext(http.MethodGet, "/api/sessions/{sessionID}/me")
	getMe.SetSummary("Current player")
	getMe.SetDescription("Returns the caller's record, rank, next target and accepted scans.")
	getMe.AddReqStructure(playerHeader{})
	getMe.AddRespStructure(hunt.PlayerView{}, openapi.WithHTTPStatus(http.StatusOK))
	getMe.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(getMe)

	// GET /api/sessions/{sessionID}/leaderboard
	getBoard, _ := r.NewOperationContext(http.MethodGet, "/api/sessions/{sessionID}/leaderboard")
	getBoard.SetSummary("Leaderboard")
	getBoard.SetDescription("Ranks started players by score, finish state and tie-break.")
	getBoard.AddReqStructure(sessionPath{})
	getBoard.AddRespStructure([]hunt.LeaderboardEntry{}, openapi.WithHTTPStatus(http.StatusOK))
	getBoard.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(getBoard)

	// GET /api/sessions/{sessionID}/stats
	getStats, _ := r.NewOperationContext(http.MethodGet, "/api/sessions/{sessionID}/stats")
	getStats.SetSummary("Session stats")
	getStats.SetDescription("Live counters, computed from the store when the live channel is down.")
	getStats.AddReqStructure(sessionPath{})
	getStats.AddRespStructure(hunt.Stats{}, openapi.WithHTTPStatus(http.StatusOK))
	getStats.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(getStats)

	// GET /api/sessions/{sessionID}/events
	getEvents, _ := r.NewOperationContext(http.MethodGet, "/api/sessions/{sessionID}/events")
	getEvents.SetSummary("SSE event stream")
	getEvents.SetDescription("Server-Sent Events stream of session, stats, leaderboard and player changes.")
	getEvents.AddReqStructure(sessionPath{})
	getEvents.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusOK),
		openapi.WithContentType("text/event-stream"))
	_ = r.AddOperation(getEvents)

	// PUT /api/operator/sessions/{sessionID}
	putSession, _ := r.NewOperationContext(http.MethodPut, "/api/operator/sessions/{sessionID}")
	putSession.SetSummary("Configure session")
	putSession.SetDescription("Creates the session or replaces its configuration. Requires X-Operator-Key.")
	putSession.AddReqStructure(configureOp{})
	putSession.AddRespStructure(hunt.Session{}, openapi.WithHTTPStatus(http.StatusOK))
	putSession.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	putSession.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	putSession.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	_ = r.AddOperation(putSession)

	// GET /api/operator/sessions/{sessionID}
	getSession, _ := r.NewOperationContext(http.MethodGet, "/api/operator/sessions/{sessionID}")
	getSession.SetSummary("Get session")
	getSession.SetDescription("Returns the full session document. Requires X-Operator-Key.")
	getSession.AddReqStructure(operatorSessionOp{})
	getSession.AddRespStructure(hunt.Session{}, openapi.WithHTTPStatus(http.StatusOK))
	getSession.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(getSession)

	// POST /api/operator/sessions/{sessionID}/phase
	postPhase, _ := r.NewOperationContext(http.MethodPost, "/api/operator/sessions/{sessionID}/phase")
	postPhase.SetSummary("Set phase")
	postPhase.SetDescription("Moves the session forward through registration, countdown, playing and finished.")
	postPhase.AddReqStructure(phaseOp{})
	postPhase.AddRespStructure(hunt.Session{}, openapi.WithHTTPStatus(http.StatusOK))
	postPhase.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	postPhase.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	_ = r.AddOperation(postPhase)

	// GET /api/operator/sessions/{sessionID}/players
	getPlayers, _ := r.NewOperationContext(http.MethodGet, "/api/operator/sessions/{sessionID}/players")
	getPlayers.SetSummary("List players")
	getPlayers.SetDescription("Returns every player record of the session in registration order.")
	getPlayers.AddReqStructure(operatorSessionOp{})
	getPlayers.AddRespStructure([]hunt.Player{}, openapi.WithHTTPStatus(http.StatusOK))
	getPlayers.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(getPlayers)

	// DELETE /api/operator/sessions/{sessionID}/players/{playerID}
	deletePlayer, _ := r.NewOperationContext(http.MethodDelete, "/api/operator/sessions/{sessionID}/players/{playerID}")
	deletePlayer.SetSummary("Remove player")
	deletePlayer.SetDescription("Deletes a player record. Its accepted scans stay in the event log.")
	deletePlayer.AddReqStructure(operatorPlayerOp{})
	deletePlayer.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusNoContent))
	deletePlayer.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(deletePlayer)

	// POST /api/operator/sessions/{sessionID}/players/{playerID}/finish
	finishPlayer, _ := r.NewOperationContext(http.MethodPost, "/api/operator/sessions/{sessionID}/players/{playerID}/finish")
	finishPlayer.SetSummary("Finish player")
	finishPlayer.SetDescription("Completes a started player's run with the score earned so far.")
	finishPlayer.AddReqStructure(operatorPlayerOp{})
	finishPlayer.AddRespStructure(hunt.Player{}, openapi.WithHTTPStatus(http.StatusOK))
	finishPlayer.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	finishPlayer.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	_ = r.AddOperation(finishPlayer)

	// POST /api/operator/sessions/{sessionID}/reset
	postReset, _ := r.NewOperationContext(http.MethodPost, "/api/operator/sessions/{sessionID}/reset")
	postReset.SetSummary("Reset session")
	postReset.SetDescription("Deletes every player and scan and returns the session to registration.")
	postReset.AddReqStructure(operatorSessionOp{})
	postReset.AddRespStructure(hunt.Session{}, openapi.WithHTTPStatus(http.StatusOK))
	postReset.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(postReset)

	// POST /api/operator/sessions/{sessionID}/resync
	postResync, _ := r.NewOperationContext(http.MethodPost, "/api/operator/sessions/{sessionID}/resync")
	postResync.SetSummary("Resync live projection")
	postResync.SetDescription("Rebuilds stats and leaderboard in the live channel from the store.")
	postResync.AddReqStructure(operatorSessionOp{})
	postResync.AddRespStructure(hunt.ResyncResult{}, openapi.WithHTTPStatus(http.StatusOK))
	postResync.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	postResync.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(postResync)

	// POST /api/operator/sessions/{sessionID}/tokens
	postToken, _ := r.NewOperationContext(http.MethodPost, "/api/operator/sessions/{sessionID}/tokens")
	postToken.SetSummary("Issue device token")
	postToken.SetDescription("Mints a signed identity for a new device. Only when signed identities are enabled.")
	postToken.AddReqStructure(operatorSessionOp{})
	postToken.AddRespStructure(TokenResponse{}, openapi.WithHTTPStatus(http.StatusCreated))
	postToken.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	_ = r.AddOperation(postToken)

	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
