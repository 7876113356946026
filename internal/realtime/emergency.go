package realtime

import (
	"context"
	"encoding/json"

	"github.com/fixline/backend/internal/events"
)

// emergencyRadiusKm bounds who hears an emergency alert; offers still go
// through the ranked dispatch pipeline.
const emergencyRadiusKm = 25.0

// AttachEmergencyAlerts pushes an alert to every online provider near a new
// emergency job so they see it before the formal offer lands.
func (g *Gateway) AttachEmergencyAlerts(bus events.Bus) {
	bus.Subscribe(events.JobCreated, func(ctx context.Context, ev events.Event) {
		var p events.JobCreatedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil || !p.IsEmergency {
			return
		}

		hits, err := g.tracker.NearbyProviders(ctx, p.Lat, p.Lng, emergencyRadiusKm)
		if err != nil {
			g.log.Error("emergency geo lookup failed", "job_id", ev.JobID, "error", err)
			return
		}

		alert := map[string]any{
			"job_id":    ev.JobID,
			"task_id":   p.TaskID,
			"reference": p.Reference,
			"priority":  p.Priority,
		}
		for _, h := range hits {
			g.server.BroadcastToRoom(NsJobs, ProviderRoom(h.Member), "emergency_job", alert)
		}
		g.log.Info("emergency alert fanned out", "job_id", ev.JobID, "providers", len(hits))
	})
}
