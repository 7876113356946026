package realtime

import (
	"context"
	"encoding/json"
	"math"
	"time"

	socketio "github.com/googollee/go-socket.io"

	"github.com/fixline/backend/internal/auth"
	"github.com/fixline/backend/internal/cache"
	"github.com/fixline/backend/internal/geo"
)

// TrackerTuning bounds the location stream.
type TrackerTuning struct {
	Throttle    time.Duration // min spacing between updates per provider
	TrackMax    int64         // trail length kept per job
	AvgSpeedKmh float64       // city-driving assumption for ETA
}

// TrackPoint is one entry in a job's location trail.
type TrackPoint struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	RecordedAt time.Time `json:"recorded_at"`
}

// LocationTracker maintains the online-provider geo index and per-job
// location trails in Redis. It doubles as the presence sink for the
// service layer.
type LocationTracker struct {
	cache  *cache.Cache
	tuning TrackerTuning
	now    func() time.Time
}

func NewLocationTracker(c *cache.Cache, tuning TrackerTuning) *LocationTracker {
	if tuning.Throttle <= 0 {
		tuning.Throttle = 3 * time.Second
	}
	if tuning.TrackMax <= 0 {
		tuning.TrackMax = 500
	}
	if tuning.AvgSpeedKmh <= 0 {
		tuning.AvgSpeedKmh = 30
	}
	return &LocationTracker{cache: c, tuning: tuning, now: time.Now}
}

// TrackProvider upserts a provider's position in the geo index.
func (t *LocationTracker) TrackProvider(ctx context.Context, providerID string, lat, lng float64) error {
	return t.cache.GeoAdd(ctx, cache.KeyProviderGeo, providerID, lat, lng)
}

// UntrackProvider removes a provider from the geo index.
func (t *LocationTracker) UntrackProvider(ctx context.Context, providerID string) error {
	return t.cache.GeoRemove(ctx, cache.KeyProviderGeo, providerID)
}

// Allow claims the provider's throttle slot. False means the update came
// too soon after the previous one and should be dropped.
func (t *LocationTracker) Allow(ctx context.Context, providerID string) (bool, error) {
	return t.cache.SetNX(ctx, cache.KeyLocThrottle+providerID, t.tuning.Throttle)
}

// Record stores an accepted update: geo index position plus the job trail.
func (t *LocationTracker) Record(ctx context.Context, jobID, providerID string, lat, lng float64) error {
	if err := t.TrackProvider(ctx, providerID, lat, lng); err != nil {
		return err
	}
	raw, err := json.Marshal(TrackPoint{Lat: lat, Lng: lng, RecordedAt: t.now().UTC()})
	if err != nil {
		return err
	}
	return t.cache.PushTrim(ctx, cache.KeyJobTrack+jobID, string(raw), t.tuning.TrackMax)
}

// Trail returns a job's stored location trail, oldest first.
func (t *LocationTracker) Trail(ctx context.Context, jobID string) ([]TrackPoint, error) {
	raw, err := t.cache.ListAll(ctx, cache.KeyJobTrack+jobID)
	if err != nil {
		return nil, err
	}
	out := make([]TrackPoint, 0, len(raw))
	for _, r := range raw {
		var p TrackPoint
		if json.Unmarshal([]byte(r), &p) == nil {
			out = append(out, p)
		}
	}
	return out, nil
}

// NearbyProviders returns online providers within radiusKm of a point.
func (t *LocationTracker) NearbyProviders(ctx context.Context, lat, lng, radiusKm float64) ([]cache.GeoHit, error) {
	return t.cache.GeoSearchKm(ctx, cache.KeyProviderGeo, lat, lng, radiusKm)
}

// EtaMinutes estimates arrival from straight-line distance at the assumed
// average speed, rounded up. Never less than one minute while any distance
// remains.
func (t *LocationTracker) EtaMinutes(distanceKm float64) int {
	if distanceKm <= 0 {
		return 0
	}
	mins := int(math.Ceil(distanceKm / t.tuning.AvgSpeedKmh * 60))
	if mins < 1 {
		mins = 1
	}
	return mins
}

// locationMsg is a provider position report on the /location namespace.
type locationMsg struct {
	JobID string  `json:"job_id"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
}

func (g *Gateway) wireLocation() {
	g.server.OnEvent(NsLocation, "join_job", func(s socketio.Conn, msg joinJobMsg) ack {
		claims := claimsOf(s)
		if _, err := g.svc.GetJob(context.Background(), claims, msg.JobID); err != nil {
			return errAck(err)
		}
		s.Join(JobRoom(msg.JobID))
		return okAck(nil)
	})

	g.server.OnEvent(NsLocation, "location_update", func(s socketio.Conn, msg locationMsg) {
		claims := claimsOf(s)
		if claims == nil || claims.Role != auth.RoleProvider {
			return
		}
		if !geo.ValidCoordinates(msg.Lat, msg.Lng) {
			return
		}
		ctx := context.Background()

		ok, err := g.tracker.Allow(ctx, claims.ProfileID)
		if err != nil {
			g.log.Error("location throttle check failed", "provider_id", claims.ProfileID, "error", err)
			return
		}
		if !ok {
			return // inside the throttle window, drop silently
		}

		job, err := g.svc.GetJob(ctx, claims, msg.JobID)
		if err != nil {
			return
		}
		if err := g.tracker.Record(ctx, msg.JobID, claims.ProfileID, msg.Lat, msg.Lng); err != nil {
			g.log.Error("location record failed", "job_id", msg.JobID, "error", err)
			return
		}

		dist := geo.HaversineKm(msg.Lat, msg.Lng, job.ServiceLat, job.ServiceLng)
		payload := map[string]any{
			"job_id":      msg.JobID,
			"provider_id": claims.ProfileID,
			"lat":         msg.Lat,
			"lng":         msg.Lng,
			"distance_km": math.Round(dist*100) / 100,
			"eta_minutes": g.tracker.EtaMinutes(dist),
		}

		// everyone in the room except the reporting provider
		sender := s.ID()
		g.server.ForEach(NsLocation, JobRoom(msg.JobID), func(conn socketio.Conn) {
			if conn.ID() != sender {
				conn.Emit("provider_location", payload)
			}
		})
	})
}
