// Package realtime is the socket.io edge: authenticated namespaces for job
// rooms, provider location streaming, and in-job chat, plus a plain
// websocket ops stream for admins. Cross-instance fan-out rides the
// socket.io Redis adapter.
package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	socketio "github.com/googollee/go-socket.io"

	"github.com/fixline/backend/internal/auth"
	"github.com/fixline/backend/internal/domain"
	"github.com/fixline/backend/internal/events"
	"github.com/fixline/backend/internal/service"
)

// Namespaces served by the gateway.
const (
	NsJobs     = "/jobs"
	NsLocation = "/location"
	NsChat     = "/chat"
)

// JobRoom is the room every party to a job shares.
func JobRoom(jobID string) string { return "job_" + jobID }

// PersonalRoom addresses one user across all their connections.
func PersonalRoom(role auth.Role, userID string) string {
	return fmt.Sprintf("%s_%s", role, userID)
}

// ProviderRoom addresses a provider by profile id, the key dispatch events
// carry.
func ProviderRoom(profileID string) string { return "provider_profile_" + profileID }

// ConnHook observes connection lifecycle, for instrumentation. Satisfied by
// the metrics registry.
type ConnHook interface {
	SocketConnected(namespace string)
	SocketDisconnected(namespace string)
}

// Gateway owns the socket.io server and its event handlers.
type Gateway struct {
	server   *socketio.Server
	verifier *auth.Verifier
	svc      *service.Service
	tracker  *LocationTracker
	hook     ConnHook
	log      *slog.Logger
}

// NewGateway builds the server. redisAddr enables the multi-instance
// adapter; empty keeps fan-out process-local.
func NewGateway(verifier *auth.Verifier, svc *service.Service, tracker *LocationTracker, redisAddr string, log *slog.Logger) (*Gateway, error) {
	server := socketio.NewServer(nil)

	if redisAddr != "" {
		ok, err := server.Adapter(&socketio.RedisAdapterOptions{
			Addr:   redisAddr,
			Prefix: "socket.io",
		})
		if err != nil || !ok {
			return nil, fmt.Errorf("socket.io redis adapter: %w", err)
		}
	}

	g := &Gateway{
		server:   server,
		verifier: verifier,
		svc:      svc,
		tracker:  tracker,
		log:      log,
	}
	g.wire()
	return g, nil
}

// SetConnHook installs an observer for connect and disconnect.
func (g *Gateway) SetConnHook(h ConnHook) { g.hook = h }

// Server exposes the underlying socket.io server for HTTP mounting.
func (g *Gateway) Server() *socketio.Server { return g.server }

// Serve runs the socket.io engine loop; call in a goroutine.
func (g *Gateway) Serve() error { return g.server.Serve() }

func (g *Gateway) Close() error { return g.server.Close() }

// authenticate pulls the token from the handshake query and verifies it.
func (g *Gateway) authenticate(u *url.URL) (*auth.Claims, error) {
	return g.verifier.Verify(u.Query().Get("token"))
}

// claimsOf returns the claims stashed on the connection at connect time.
func claimsOf(s socketio.Conn) *auth.Claims {
	claims, _ := s.Context().(*auth.Claims)
	return claims
}

func (g *Gateway) wire() {
	for _, ns := range []string{NsJobs, NsLocation, NsChat} {
		ns := ns
		g.server.OnConnect(ns, func(s socketio.Conn) error {
			u := s.URL()
			claims, err := g.authenticate(&u)
			if err != nil {
				return err
			}
			s.SetContext(claims)
			s.Join(PersonalRoom(claims.Role, claims.UserID))
			if claims.Role == auth.RoleProvider && claims.ProfileID != "" {
				s.Join(ProviderRoom(claims.ProfileID))
			}
			if g.hook != nil {
				g.hook.SocketConnected(ns)
			}
			g.log.Info("socket connected", "namespace", ns, "sid", s.ID(), "user_id", claims.UserID, "role", claims.Role)
			return nil
		})
		g.server.OnError(ns, func(s socketio.Conn, err error) {
			g.log.Error("socket error", "namespace", ns, "error", err)
		})
		g.server.OnDisconnect(ns, func(s socketio.Conn, reason string) {
			if g.hook != nil {
				g.hook.SocketDisconnected(ns)
			}
			if claims := claimsOf(s); claims != nil {
				g.log.Info("socket disconnected", "namespace", ns, "user_id", claims.UserID, "reason", reason)
			}
		})
	}

	g.wireJobs()
	g.wireLocation()
	g.wireChat()
}

// joinJobMsg is the payload for join_job / leave_job.
type joinJobMsg struct {
	JobID string `json:"job_id"`
}

type offerMsg struct {
	AssignmentID string `json:"assignment_id"`
	Reason       string `json:"reason,omitempty"`
}

type jobActionMsg struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason,omitempty"`
}

type enRouteMsg struct {
	JobID string   `json:"job_id"`
	Lat   *float64 `json:"lat,omitempty"`
	Lng   *float64 `json:"lng,omitempty"`
}

// ack is the uniform reply shape for socket requests.
type ack struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

func okAck(data any) ack   { return ack{OK: true, Data: data} }
func errAck(err error) ack { return ack{OK: false, Error: err.Error()} }

func (g *Gateway) wireJobs() {
	g.server.OnEvent(NsJobs, "join_job", func(s socketio.Conn, msg joinJobMsg) ack {
		claims := claimsOf(s)
		ctx := context.Background()

		// visibility check doubles as authorization for the room
		if _, err := g.svc.GetJob(ctx, claims, msg.JobID); err != nil {
			return errAck(err)
		}
		s.Join(JobRoom(msg.JobID))
		return okAck(nil)
	})

	g.server.OnEvent(NsJobs, "leave_job", func(s socketio.Conn, msg joinJobMsg) {
		s.Leave(JobRoom(msg.JobID))
	})

	g.server.OnEvent(NsJobs, "accept_offer", func(s socketio.Conn, msg offerMsg) ack {
		claims := claimsOf(s)
		outcome, err := g.svc.AcceptOffer(context.Background(), claims, msg.AssignmentID)
		if err != nil {
			return errAck(err)
		}

		g.server.BroadcastToRoom(NsJobs, JobRoom(outcome.Job.ID), "offer_accepted", map[string]any{
			"job_id":      outcome.Job.ID,
			"provider_id": outcome.Assignment.ProviderID,
			"status":      outcome.Job.Status,
		})
		return okAck(outcome.Job)
	})

	g.server.OnEvent(NsJobs, "decline_offer", func(s socketio.Conn, msg offerMsg) ack {
		claims := claimsOf(s)
		if err := g.svc.DeclineOffer(context.Background(), claims, msg.AssignmentID, msg.Reason); err != nil {
			return errAck(err)
		}
		return okAck(nil)
	})

	g.server.OnEvent(NsJobs, "mark_en_route", func(s socketio.Conn, msg enRouteMsg) ack {
		claims := claimsOf(s)
		job, err := g.svc.MarkEnRoute(context.Background(), claims, msg.JobID, msg.Lat, msg.Lng)
		if err != nil {
			return errAck(err)
		}
		g.broadcastStatus(job)
		return okAck(job)
	})

	type progressHandler func(ctx context.Context, claims *auth.Claims, jobID string) (*domain.Job, error)
	progress := map[string]progressHandler{
		"start_work":   g.svc.StartWork,
		"complete_job": g.svc.CompleteJob,
	}
	for event, handler := range progress {
		event, handler := event, handler
		g.server.OnEvent(NsJobs, event, func(s socketio.Conn, msg jobActionMsg) ack {
			claims := claimsOf(s)
			job, err := handler(context.Background(), claims, msg.JobID)
			if err != nil {
				return errAck(err)
			}
			g.broadcastStatus(job)
			return okAck(job)
		})
	}

	g.server.OnEvent(NsJobs, "mark_arrived", func(s socketio.Conn, msg jobActionMsg) ack {
		claims := claimsOf(s)
		a, err := g.svc.MarkArrived(context.Background(), claims, msg.JobID)
		if err != nil {
			return errAck(err)
		}
		g.server.BroadcastToRoom(NsJobs, JobRoom(msg.JobID), "provider_arrived", map[string]any{
			"job_id":      msg.JobID,
			"provider_id": a.ProviderID,
			"arrived_at":  a.ArrivedAt,
		})
		return okAck(a)
	})
}

type chatMsg struct {
	JobID string `json:"job_id"`
	Body  string `json:"body"`
}

func (g *Gateway) wireChat() {
	g.server.OnEvent(NsChat, "chat_message", func(s socketio.Conn, msg chatMsg) ack {
		claims := claimsOf(s)
		if msg.Body == "" || len(msg.Body) > 2000 {
			return errAck(fmt.Errorf("message body must be 1..2000 characters"))
		}
		if _, err := g.svc.GetJob(context.Background(), claims, msg.JobID); err != nil {
			return errAck(err)
		}

		g.server.BroadcastToRoom(NsChat, JobRoom(msg.JobID), "chat_message", map[string]any{
			"job_id":    msg.JobID,
			"sender_id": claims.UserID,
			"role":      claims.Role,
			"body":      msg.Body,
		})
		return okAck(nil)
	})

	g.server.OnEvent(NsChat, "join_job", func(s socketio.Conn, msg joinJobMsg) ack {
		claims := claimsOf(s)
		if _, err := g.svc.GetJob(context.Background(), claims, msg.JobID); err != nil {
			return errAck(err)
		}
		s.Join(JobRoom(msg.JobID))
		return okAck(nil)
	})
}

// broadcastStatus pushes a status change into the job's room.
func (g *Gateway) broadcastStatus(job *domain.Job) {
	g.server.BroadcastToRoom(NsJobs, JobRoom(job.ID), "job_status", map[string]any{
		"job_id": job.ID,
		"status": job.Status,
	})
}

// AttachBus forwards relevant bus events into socket rooms so parties see
// changes made over plain HTTP or by other instances.
func (g *Gateway) AttachBus(bus events.Bus) {
	bus.Subscribe(events.JobStatusChanged, func(_ context.Context, ev events.Event) {
		g.server.BroadcastToRoom(NsJobs, JobRoom(ev.JobID), "job_status", ev)
	})
	bus.Subscribe(events.OfferCreated, func(_ context.Context, ev events.Event) {
		g.server.BroadcastToRoom(NsJobs, ProviderRoom(ev.ProviderID), "offer_received", ev)
	})
	bus.Subscribe(events.SlaWarning, func(_ context.Context, ev events.Event) {
		g.server.BroadcastToRoom(NsJobs, ProviderRoom(ev.ProviderID), "sla_warning", ev)
	})
}
