package incidents

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/good-yellow-bee/incidentchain/internal/broadcast"
	"github.com/good-yellow-bee/incidentchain/internal/models"
	"github.com/good-yellow-bee/incidentchain/internal/storage"
)

const (
	minPollInterval = time.Second
	maxPollInterval = time.Minute
	snapshotLimit   = 50
)

// connectedPayload is the ack sent as the first SSE event, echoing the
// resolved filters back to the client.
type connectedPayload struct {
	Severities      []models.Severity `json:"severities,omitempty"`
	Statuses        []models.Status   `json:"statuses,omitempty"`
	AgentIDs        []string          `json:"agents,omitempty"`
	IncludeChain    bool              `json:"chain"`
	IncludeActivity bool              `json:"activity"`
	PollIntervalMS  int64             `json:"poll_interval_ms"`
	Timestamp       string            `json:"timestamp"`
}

// Stream handles GET /api/v1/incidents/stream - SSE streaming of incidents,
// chain entries, and agent activity. Delivery is at-least-once: a push path
// fed by the in-process broadcaster is backed by a poll fallback so events
// survive broadcaster drops.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "streaming not supported")
		return
	}

	ctx := r.Context()
	q := r.URL.Query()

	severities, err := parseSeverities(q.Get("severities"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, err.Error())
		return
	}
	statuses, err := parseStatuses(q.Get("statuses"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, err.Error())
		return
	}
	agentIDs := splitList(q.Get("agents"))

	filter := &broadcast.Filter{
		Severities:      severities,
		Statuses:        statuses,
		AgentIDs:        agentIDs,
		IncludeChain:    parseBool(q.Get("chain")),
		IncludeActivity: parseBool(q.Get("activity")),
	}

	pollInterval := h.config.StreamPollInterval
	if intervalStr := q.Get("interval"); intervalStr != "" {
		secs, err := strconv.Atoi(intervalStr)
		if err != nil || secs < 1 {
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, "interval must be a positive integer (seconds)")
			return
		}
		pollInterval = time.Duration(secs) * time.Second
	}
	if pollInterval < minPollInterval {
		pollInterval = minPollInterval
	}
	if pollInterval > maxPollInterval {
		pollInterval = maxPollInterval
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sse := NewSSEWriter(w, flusher)

	subID, events := h.broadcaster.Register(filter)
	defer h.broadcaster.Unregister(subID)

	ack := connectedPayload{
		Severities:      severities,
		Statuses:        statuses,
		AgentIDs:        agentIDs,
		IncludeChain:    filter.IncludeChain,
		IncludeActivity: filter.IncludeActivity,
		PollIntervalMS:  pollInterval.Milliseconds(),
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	}
	if err := sendJSON(sse, "connected", ack); err != nil {
		return
	}

	// Poll watermarks, advanced by both the snapshots and the poll loop.
	// Chain entries additionally gate the push path so the per-connection
	// sequence order never decreases.
	incidentMark := time.Now().UTC()
	var chainMark int64
	activityMark := time.Now().UTC()

	// Initial snapshots
	incFilter := &storage.IncidentFilter{
		Statuses:   statuses,
		Severities: severities,
		Limit:      snapshotLimit,
	}
	snapshot, err := h.storage.Incidents().List(ctx, incFilter)
	if err != nil {
		log.Printf("stream initial incidents failed: %v", err)
		snapshot = nil
	}
	if snapshot == nil {
		snapshot = []*models.Incident{}
	}
	for _, inc := range snapshot {
		if inc.UpdatedAt.After(incidentMark) {
			incidentMark = inc.UpdatedAt
		}
	}
	if err := sendJSON(sse, "initial_incidents", snapshot); err != nil {
		return
	}

	if filter.IncludeChain {
		// The watermark starts at the chain tail so the poll path picks up
		// exactly what arrives after the snapshot, and the snapshot itself is
		// the latest page, not the oldest.
		tail, err := h.storage.Chain().Latest(ctx)
		if err != nil {
			log.Printf("stream chain tail failed: %v", err)
			tail = &storage.ChainTail{}
		}
		chainMark = tail.Sequence

		sinceSeq := tail.Sequence - snapshotLimit
		if sinceSeq < 0 {
			sinceSeq = 0
		}
		entries, err := h.storage.Chain().List(ctx, &storage.ChainFilter{SinceSeq: sinceSeq, Limit: snapshotLimit})
		if err != nil {
			log.Printf("stream initial chain failed: %v", err)
			entries = nil
		}
		if entries == nil {
			entries = []*models.ChainEntry{}
		}
		if err := sendJSON(sse, "initial_chain", entries); err != nil {
			return
		}
	}

	if filter.IncludeActivity {
		activity, err := h.storage.Agents().ListActivity(ctx, agentIDs, snapshotLimit)
		if err != nil {
			log.Printf("stream initial activity failed: %v", err)
			activity = nil
		}
		if activity == nil {
			activity = []*models.AgentActivity{}
		}
		for _, act := range activity {
			if act.CreatedAt.After(activityMark) {
				activityMark = act.CreatedAt
			}
		}
		if err := sendJSON(sse, "initial_activity", activity); err != nil {
			return
		}
	}

	deadline := time.Now().Add(h.config.StreamMaxDuration)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Client disconnected
			return

		case ev, open := <-events:
			if !open {
				// Broadcaster shut down
				sse.SendEvent("close", `{"reason":"shutdown"}`)
				return
			}
			switch ev.Kind {
			case broadcast.KindIncident:
				if err := sendJSON(sse, "incident", ev.Incident); err != nil {
					return
				}
				if ev.Incident.UpdatedAt.After(incidentMark) {
					incidentMark = ev.Incident.UpdatedAt
				}
			case broadcast.KindChain:
				if ev.Chain.Sequence <= chainMark {
					continue // already delivered by the poll path
				}
				if err := sendJSON(sse, "chain", ev.Chain); err != nil {
					return
				}
				chainMark = ev.Chain.Sequence
			case broadcast.KindActivity:
				if err := sendJSON(sse, "activity", ev.Activity); err != nil {
					return
				}
				if ev.Activity.CreatedAt.After(activityMark) {
					activityMark = ev.Activity.CreatedAt
				}
			}

		case <-ticker.C:
			if time.Now().After(deadline) {
				sse.SendEvent("close", `{"reason":"timeout"}`)
				return
			}

			// Poll fallback. Query errors are logged and the tick is
			// skipped; the stream itself stays up.
			updated, err := h.storage.Incidents().ListUpdatedSince(ctx, incidentMark, incFilter)
			if err != nil {
				log.Printf("stream incident poll failed: %v", err)
			} else {
				for _, inc := range updated {
					if err := sendJSON(sse, "incident", inc); err != nil {
						return
					}
					if inc.UpdatedAt.After(incidentMark) {
						incidentMark = inc.UpdatedAt
					}
				}
			}

			if filter.IncludeChain {
				entries, err := h.storage.Chain().List(ctx, &storage.ChainFilter{SinceSeq: chainMark})
				if err != nil {
					log.Printf("stream chain poll failed: %v", err)
				} else {
					for _, entry := range entries {
						if err := sendJSON(sse, "chain", entry); err != nil {
							return
						}
						if entry.Sequence > chainMark {
							chainMark = entry.Sequence
						}
					}
				}
			}

			if filter.IncludeActivity {
				activity, err := h.storage.Agents().ListActivitySince(ctx, activityMark, agentIDs)
				if err != nil {
					log.Printf("stream activity poll failed: %v", err)
				} else {
					for _, act := range activity {
						if err := sendJSON(sse, "activity", act); err != nil {
							return
						}
						if act.CreatedAt.After(activityMark) {
							activityMark = act.CreatedAt
						}
					}
				}
			}

			if err := sse.SendEvent("heartbeat", `{"timestamp":"`+time.Now().UTC().Format(time.RFC3339)+`"}`); err != nil {
				return
			}
		}
	}
}

func sendJSON(sse *SSEWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("sse marshal %s: %v", event, err)
		return nil
	}
	return sse.SendEvent(event, string(data))
}
