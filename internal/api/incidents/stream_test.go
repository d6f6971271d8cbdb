package incidents

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/good-yellow-bee/incidentchain/internal/incidents"
	"github.com/good-yellow-bee/incidentchain/internal/models"
)

// sseEvent is one parsed server-sent event.
type sseEvent struct {
	Name string
	Data string
}

// sseClient reads events from a stream endpoint until its context ends.
type sseClient struct {
	cancel context.CancelFunc
	resp   *http.Response
	events chan sseEvent
}

func openStream(t *testing.T, server *httptest.Server, query string) *sseClient {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/v1/incidents/stream"+query, nil)
	if err != nil {
		cancel()
		t.Fatalf("new request: %v", err)
	}
	resp, err := server.Client().Do(req)
	if err != nil {
		cancel()
		t.Fatalf("open stream: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		cancel()
		resp.Body.Close()
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		cancel()
		resp.Body.Close()
		t.Fatalf("content type = %q, want text/event-stream", ct)
	}

	client := &sseClient{cancel: cancel, resp: resp, events: make(chan sseEvent, 64)}
	go client.read()
	t.Cleanup(client.close)
	return client
}

func (c *sseClient) read() {
	defer close(c.events)
	scanner := bufio.NewScanner(c.resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var current sseEvent
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.Name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.Data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if current.Name != "" {
				c.events <- current
			}
			current = sseEvent{}
		}
	}
}

func (c *sseClient) close() {
	c.cancel()
	c.resp.Body.Close()
}

// next returns the next event, skipping heartbeats.
func (c *sseClient) next(t *testing.T, timeout time.Duration) sseEvent {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-c.events:
			if !ok {
				t.Fatal("stream closed before expected event")
			}
			if ev.Name == "heartbeat" {
				continue
			}
			return ev
		case <-deadline:
			t.Fatal("timed out waiting for event")
		}
	}
}

// expect asserts the next non-heartbeat event name.
func (c *sseClient) expect(t *testing.T, name string, timeout time.Duration) sseEvent {
	t.Helper()
	ev := c.next(t, timeout)
	if ev.Name != name {
		t.Fatalf("event = %q (data %s), want %q", ev.Name, ev.Data, name)
	}
	return ev
}

func TestStreamHandshakeAndSnapshot(t *testing.T) {
	fx := newHandlerFixture(t)
	fx.seedIncident(t, "one", models.SeverityLow)
	fx.seedIncident(t, "two", models.SeverityHigh)

	server := httptest.NewServer(fx.router)
	t.Cleanup(server.Close)

	client := openStream(t, server, "?chain=true")

	connected := client.expect(t, "connected", 2*time.Second)
	if !strings.Contains(connected.Data, `"chain":true`) {
		t.Errorf("connected ack = %s, want chain enabled", connected.Data)
	}

	initial := client.expect(t, "initial_incidents", 2*time.Second)
	if !strings.Contains(initial.Data, `"one"`) || !strings.Contains(initial.Data, `"two"`) {
		t.Errorf("snapshot = %s, want both incidents", initial.Data)
	}

	initialChain := client.expect(t, "initial_chain", 2*time.Second)
	if !strings.Contains(initialChain.Data, `"sequence_number":1`) {
		t.Errorf("chain snapshot = %s, want entry 1", initialChain.Data)
	}
}

func TestStreamPushDelivery(t *testing.T) {
	fx := newHandlerFixture(t)

	server := httptest.NewServer(fx.router)
	t.Cleanup(server.Close)

	client := openStream(t, server, "?chain=true&interval=60")
	client.expect(t, "connected", 2*time.Second)
	client.expect(t, "initial_incidents", 2*time.Second)
	client.expect(t, "initial_chain", 2*time.Second)

	inc, err := fx.service.Create(context.Background(), incidents.CreateInput{
		Title:       "pushed incident",
		Description: "d",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// The create publishes an incident event followed by its chain entry.
	incidentEv := client.expect(t, "incident", 2*time.Second)
	if !strings.Contains(incidentEv.Data, inc.ID) {
		t.Errorf("incident event = %s, want id %s", incidentEv.Data, inc.ID)
	}
	chainEv := client.expect(t, "chain", 2*time.Second)
	if !strings.Contains(chainEv.Data, `"sequence_number":1`) {
		t.Errorf("chain event = %s", chainEv.Data)
	}
}

func TestStreamFilterSuppressesNonMatching(t *testing.T) {
	fx := newHandlerFixture(t)

	server := httptest.NewServer(fx.router)
	t.Cleanup(server.Close)

	client := openStream(t, server, "?severities=critical&interval=60")
	client.expect(t, "connected", 2*time.Second)
	client.expect(t, "initial_incidents", 2*time.Second)

	if _, err := fx.service.Create(context.Background(), incidents.CreateInput{
		Title:       "low noise",
		Description: "d",
		Severity:    models.SeverityLow,
	}); err != nil {
		t.Fatalf("create low: %v", err)
	}
	crit, err := fx.service.Create(context.Background(), incidents.CreateInput{
		Title:       "critical breach",
		Description: "d",
		Severity:    models.SeverityCritical,
	})
	if err != nil {
		t.Fatalf("create critical: %v", err)
	}

	ev := client.expect(t, "incident", 2*time.Second)
	if !strings.Contains(ev.Data, crit.ID) {
		t.Errorf("event = %s, want only the critical incident", ev.Data)
	}
}

func TestStreamPollFallback(t *testing.T) {
	fx := newHandlerFixture(t)
	inc := fx.seedIncident(t, "quiet incident", models.SeverityMedium)

	server := httptest.NewServer(fx.router)
	t.Cleanup(server.Close)

	client := openStream(t, server, "?interval=1")
	client.expect(t, "connected", 2*time.Second)
	client.expect(t, "initial_incidents", 2*time.Second)

	// Mutate storage directly, bypassing the broadcaster. Only the poll
	// path can deliver this.
	stored, err := fx.store.IncidentRepo.GetByID(context.Background(), inc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	stored.Status = models.StatusInvestigating
	stored.UpdatedAt = time.Now().UTC().Add(10 * time.Millisecond)
	if err := fx.store.IncidentRepo.Update(context.Background(), stored); err != nil {
		t.Fatalf("update: %v", err)
	}

	ev := client.expect(t, "incident", 5*time.Second)
	if !strings.Contains(ev.Data, `"investigating"`) {
		t.Errorf("event = %s, want investigating status via poll", ev.Data)
	}
}

func TestStreamHeartbeat(t *testing.T) {
	fx := newHandlerFixture(t)

	server := httptest.NewServer(fx.router)
	t.Cleanup(server.Close)

	client := openStream(t, server, "?interval=1")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-client.events:
			if !ok {
				t.Fatal("stream closed before heartbeat")
			}
			if ev.Name == "heartbeat" {
				return
			}
		case <-deadline:
			t.Fatal("no heartbeat within 5s")
		}
	}
}

func TestStreamBroadcasterShutdownClosesStream(t *testing.T) {
	fx := newHandlerFixture(t)

	server := httptest.NewServer(fx.router)
	t.Cleanup(server.Close)

	client := openStream(t, server, "?interval=60")
	client.expect(t, "connected", 2*time.Second)
	client.expect(t, "initial_incidents", 2*time.Second)

	fx.broadcaster.Close()

	ev := client.expect(t, "close", 2*time.Second)
	if !strings.Contains(ev.Data, "shutdown") {
		t.Errorf("close event = %s, want shutdown reason", ev.Data)
	}
}

func TestStreamRejectsBadParams(t *testing.T) {
	fx := newHandlerFixture(t)

	for _, target := range []string{
		"/api/v1/incidents/stream?interval=abc",
		"/api/v1/incidents/stream?interval=0",
		"/api/v1/incidents/stream?severities=apocalyptic",
		"/api/v1/incidents/stream?statuses=limbo",
	} {
		w := fx.do(t, http.MethodGet, target, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, w.Code)
		}
	}
}

func appendChainEntry(t *testing.T, fx *handlerFixture, seq int64) {
	t.Helper()
	entry := &models.ChainEntry{
		ID:           fmt.Sprintf("entry-%d", seq),
		Sequence:     seq,
		EventHash:    fmt.Sprintf("%064d", seq),
		PreviousHash: fmt.Sprintf("%064d", seq-1),
		EventType:    models.EventCreated,
		IncidentID:   models.SystemIncidentID,
		ReporterType: models.ReporterSystem,
		CreatedAt:    time.Now().UTC(),
	}
	if err := fx.store.ChainRepo.Append(context.Background(), entry); err != nil {
		t.Fatalf("append %d: %v", seq, err)
	}
}

func TestStreamChainSnapshotIsLatestPage(t *testing.T) {
	fx := newHandlerFixture(t)
	for i := int64(1); i <= 60; i++ {
		appendChainEntry(t, fx, i)
	}

	server := httptest.NewServer(fx.router)
	t.Cleanup(server.Close)

	client := openStream(t, server, "?chain=true&interval=1")
	client.expect(t, "connected", 2*time.Second)
	client.expect(t, "initial_incidents", 2*time.Second)

	snapshot := client.expect(t, "initial_chain", 2*time.Second)
	if !strings.Contains(snapshot.Data, `"sequence_number":60,`) {
		t.Errorf("chain snapshot = %s, want the newest entry", snapshot.Data)
	}
	if !strings.Contains(snapshot.Data, `"sequence_number":11,`) {
		t.Errorf("chain snapshot = %s, want entry 11 at the page start", snapshot.Data)
	}
	if strings.Contains(snapshot.Data, `"sequence_number":10,`) {
		t.Errorf("chain snapshot = %s, want at most 50 entries", snapshot.Data)
	}
}

func TestStreamChainWatermarkStartsAtTail(t *testing.T) {
	fx := newHandlerFixture(t)
	for i := int64(1); i <= 60; i++ {
		appendChainEntry(t, fx, i)
	}

	server := httptest.NewServer(fx.router)
	t.Cleanup(server.Close)

	client := openStream(t, server, "?chain=true&interval=1")
	client.expect(t, "connected", 2*time.Second)
	client.expect(t, "initial_incidents", 2*time.Second)
	client.expect(t, "initial_chain", 2*time.Second)

	// Append past the snapshot directly, bypassing the broadcaster. A
	// watermark behind the tail would resend snapshot history here instead.
	appendChainEntry(t, fx, 61)

	ev := client.expect(t, "chain", 5*time.Second)
	if !strings.Contains(ev.Data, `"sequence_number":61,`) {
		t.Errorf("chain event = %s, want sequence 61", ev.Data)
	}

	// The push path continues from the same watermark.
	if _, err := fx.service.Create(context.Background(), incidents.CreateInput{
		Title:       "live incident",
		Description: "d",
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	client.expect(t, "incident", 2*time.Second)
	pushed := client.expect(t, "chain", 2*time.Second)
	if !strings.Contains(pushed.Data, `"sequence_number":62,`) {
		t.Errorf("chain event = %s, want sequence 62", pushed.Data)
	}
}
