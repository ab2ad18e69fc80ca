package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tjfontaine/callscreen/internal/domain"
	"github.com/tjfontaine/callscreen/internal/speech/realtime"
	"github.com/tjfontaine/callscreen/internal/telephony/twilio"
)

// handleInboundCall is Twilio's voice webhook. It resolves the dialed number
// to an owner, admits the call, and answers with TwiML that bridges the
// call's audio to the media-stream endpoint.
func (s *Server) handleInboundCall(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed webhook payload", http.StatusBadRequest)
		return
	}

	callID := r.PostForm.Get("CallSid")
	from := r.PostForm.Get("From")
	to := r.PostForm.Get("To")
	if callID == "" || to == "" {
		http.Error(w, "CallSid and To are required", http.StatusBadRequest)
		return
	}
	AddLogField(r.Context(), "call_id", callID)

	profile, err := s.deps.Profiles.ProfileByAssistantNumber(r.Context(), to)
	if err != nil {
		AddError(r.Context(), err)
		s.writeTwiML(w, r.Context(), mustReject("rejected"))
		return
	}

	sess := s.deps.NewSession(callID, from, *profile)
	if err := s.deps.Registry.Admit(sess); err != nil {
		sess.Discard()
		AddError(r.Context(), err)
		reason := "rejected"
		if domain.IsType(err, domain.ErrorTypeCapacityExceeded) {
			reason = "busy"
		}
		s.writeTwiML(w, r.Context(), mustReject(reason))
		return
	}

	twiml, err := twilio.ConnectStreamTwiML(s.cfg.StreamURL)
	if err != nil {
		s.deps.Registry.Remove(callID)
		sess.Discard()
		AddError(r.Context(), err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeTwiML(w, r.Context(), twiml)
}

// handleAudioStream receives Twilio's media-stream connection, binds it to
// the admitted session, dials the speech model, and runs the call to
// completion. The handler goroutine is the session's event loop.
func (s *Server) handleAudioStream(w http.ResponseWriter, r *http.Request) {
	conn, err := twilio.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("media stream upgrade failed", slog.String("error", err.Error()))
		return
	}
	stream := twilio.NewMediaStream(conn)

	// The call outlives the HTTP request; lifetime belongs to the session.
	waitCtx, cancel := context.WithTimeout(context.Background(), s.cfg.SetupTimeout)
	callID, err := stream.WaitStart(waitCtx)
	cancel()
	if err != nil {
		s.logger.Error("media stream never started", slog.String("error", err.Error()))
		stream.Close()
		return
	}

	sess, ok := s.deps.Registry.Lookup(callID)
	if !ok {
		s.logger.Warn("media stream for unknown call", slog.String("call_id", callID))
		stream.Close()
		return
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), s.cfg.SetupTimeout)
	busy, known := sess.Availability(dialCtx)
	instructions := realtime.Instructions(sess.Profile(), realtime.CalendarStatus(busy, known))
	model, err := s.deps.DialModel(dialCtx, instructions)
	cancel()
	if err != nil {
		s.logger.Error("speech model dial failed",
			slog.String("call_id", callID),
			slog.String("error", err.Error()),
		)
		sess.Close(domain.OutcomeSetupFailed)
		stream.Close()
		return
	}

	sess.Run(context.Background(), stream, model)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":          "ok",
		"active_sessions": s.deps.Registry.Len(),
	})
}

func (s *Server) writeTwiML(w http.ResponseWriter, ctx context.Context, body string) {
	w.Header().Set("Content-Type", "text/xml")
	if _, err := w.Write([]byte(body)); err != nil {
		AddError(ctx, err)
	}
}

// mustReject renders a Reject document; the input is a fixed enum, so a
// marshal failure cannot happen at runtime.
func mustReject(reason string) string {
	twiml, err := twilio.RejectTwiML(reason)
	if err != nil {
		panic(err)
	}
	return twiml
}
