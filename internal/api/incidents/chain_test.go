package incidents

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"testing"

	"github.com/good-yellow-bee/incidentchain/internal/chain"
	"github.com/good-yellow-bee/incidentchain/internal/incidents"
	"github.com/good-yellow-bee/incidentchain/internal/models"
)

func TestChainEntries(t *testing.T) {
	fx := newHandlerFixture(t)
	fx.seedIncident(t, "one", models.SeverityLow)
	fx.seedIncident(t, "two", models.SeverityLow)

	w := fx.do(t, http.MethodGet, "/api/v1/incidents/chain", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Entries []*models.ChainEntry `json:"entries"`
		Count   int                  `json:"count"`
	}
	decodeData(t, w, &resp)
	if resp.Count != 2 || len(resp.Entries) != 2 {
		t.Errorf("count = %d entries = %d, want 2/2", resp.Count, len(resp.Entries))
	}
	if resp.Entries[0].Sequence != 1 || resp.Entries[1].Sequence != 2 {
		t.Errorf("sequences = %d, %d; want 1, 2", resp.Entries[0].Sequence, resp.Entries[1].Sequence)
	}
}

func TestChainEntriesSinceSequence(t *testing.T) {
	fx := newHandlerFixture(t)
	fx.seedIncident(t, "one", models.SeverityLow)
	fx.seedIncident(t, "two", models.SeverityLow)
	fx.seedIncident(t, "three", models.SeverityLow)

	w := fx.do(t, http.MethodGet, "/api/v1/incidents/chain?since_sequence=2", nil)

	var resp struct {
		Entries []*models.ChainEntry `json:"entries"`
	}
	decodeData(t, w, &resp)
	if len(resp.Entries) != 1 || resp.Entries[0].Sequence != 3 {
		t.Errorf("entries = %+v, want only sequence 3", resp.Entries)
	}
}

func TestChainEntriesBadParams(t *testing.T) {
	fx := newHandlerFixture(t)

	for _, target := range []string{
		"/api/v1/incidents/chain?since_sequence=-1",
		"/api/v1/incidents/chain?since_sequence=abc",
		"/api/v1/incidents/chain?limit=0",
		"/api/v1/incidents/chain?action=teleport",
	} {
		if w := fx.do(t, http.MethodGet, target, nil); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, w.Code)
		}
	}
}

func TestChainVerifyIntact(t *testing.T) {
	fx := newHandlerFixture(t)
	fx.seedIncident(t, "one", models.SeverityLow)
	fx.seedIncident(t, "two", models.SeverityLow)

	w := fx.do(t, http.MethodGet, "/api/v1/incidents/chain?action=verify", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var result chain.VerifyResult
	decodeData(t, w, &result)
	if !result.Valid || result.Entries != 2 {
		t.Errorf("result = %+v, want valid over 2 entries", result)
	}
}

func TestChainVerifyReportsTampering(t *testing.T) {
	fx := newHandlerFixture(t)
	fx.seedIncident(t, "one", models.SeverityLow)
	fx.seedIncident(t, "two", models.SeverityLow)

	// Tamper with the stored payload of entry 2.
	entry, err := fx.store.ChainRepo.GetBySequence(context.Background(), 2)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	entry.EventType = "forged"

	w := fx.do(t, http.MethodGet, "/api/v1/incidents/chain?action=verify", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; a broken chain is a result, not an error", w.Code)
	}

	var result chain.VerifyResult
	decodeData(t, w, &result)
	if result.Valid {
		t.Fatal("tampered chain reported valid")
	}
	if result.BrokenAt != 2 {
		t.Errorf("broken at = %d, want 2", result.BrokenAt)
	}
}

func TestChainStatsAction(t *testing.T) {
	fx := newHandlerFixture(t)
	inc := fx.seedIncident(t, "one", models.SeverityLow)
	status := models.StatusResolved
	if _, err := fx.service.Update(context.Background(), inc.ID, updateInputWithStatus(status)); err != nil {
		t.Fatalf("update: %v", err)
	}

	w := fx.do(t, http.MethodGet, "/api/v1/incidents/chain?action=stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var stats chain.Stats
	decodeData(t, w, &stats)
	if stats.TotalEntries != 2 {
		t.Errorf("total = %d, want 2", stats.TotalEntries)
	}
	if stats.ByEventType[models.EventCreated] != 1 || stats.ByEventType[models.EventResolved] != 1 {
		t.Errorf("by_event_type = %v", stats.ByEventType)
	}
}

func TestChainExportAction(t *testing.T) {
	fx := newHandlerFixture(t)
	fx.seedIncident(t, "one", models.SeverityLow)

	w := fx.do(t, http.MethodGet, "/api/v1/incidents/chain?action=export&format=csv", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("content type = %q, want text/csv", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("content disposition = %q, want attachment", cd)
	}
	if !strings.Contains(w.Body.String(), "sequence") {
		t.Error("CSV header missing")
	}
}

func TestChainExportBadRange(t *testing.T) {
	fx := newHandlerFixture(t)

	for _, target := range []string{
		"/api/v1/incidents/chain?action=export&format=xml",
		"/api/v1/incidents/chain?action=export&since=yesterday",
		"/api/v1/incidents/chain?action=export&since=2026-02-01T00:00:00Z&until=2026-01-01T00:00:00Z",
	} {
		if w := fx.do(t, http.MethodGet, target, nil); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, w.Code)
		}
	}
}

func TestChainMerkleAction(t *testing.T) {
	fx := newHandlerFixture(t)
	fx.seedIncident(t, "one", models.SeverityLow)
	fx.seedIncident(t, "two", models.SeverityLow)

	w := fx.do(t, http.MethodGet, "/api/v1/incidents/chain?action=merkle", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		MerkleRoot string `json:"merkle_root"`
		Window     int    `json:"window"`
	}
	decodeData(t, w, &resp)
	if len(resp.MerkleRoot) != 64 {
		t.Errorf("merkle root = %q, want 64 hex chars", resp.MerkleRoot)
	}
	if resp.Window != 2 {
		t.Errorf("window = %d, want 2", resp.Window)
	}
}

func TestChainBlockBySequence(t *testing.T) {
	fx := newHandlerFixture(t)
	fx.seedIncident(t, "one", models.SeverityLow)
	fx.seedIncident(t, "two", models.SeverityLow)

	w := fx.do(t, http.MethodGet, "/api/v1/incidents/chain/2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var block BlockResponse
	decodeData(t, w, &block)
	if block.Entry == nil || block.Entry.Sequence != 2 {
		t.Fatalf("block = %+v, want entry 2", block)
	}
	if !block.InWindow || len(block.Proof) == 0 {
		t.Errorf("proof = %+v in_window = %t, want inclusion proof", block.Proof, block.InWindow)
	}
	if !chain.VerifyProof(block.Entry.EventHash, block.Proof, block.MerkleRoot) {
		t.Error("proof does not verify against the root")
	}
}

func TestChainBlockByID(t *testing.T) {
	fx := newHandlerFixture(t)
	fx.seedIncident(t, "one", models.SeverityLow)

	entry, err := fx.store.ChainRepo.GetBySequence(context.Background(), 1)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}

	w := fx.do(t, http.MethodGet, "/api/v1/incidents/chain/"+entry.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var block BlockResponse
	decodeData(t, w, &block)
	if block.Entry.ID != entry.ID {
		t.Errorf("entry id = %q, want %q", block.Entry.ID, entry.ID)
	}
}

func TestChainBlockNotFound(t *testing.T) {
	fx := newHandlerFixture(t)

	w := fx.do(t, http.MethodGet, "/api/v1/incidents/chain/99", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if code := errorCode(t, w); code != errCodeNotFound {
		t.Errorf("code = %q, want %q", code, errCodeNotFound)
	}
}

func TestChainBlockDownload(t *testing.T) {
	fx := newHandlerFixture(t)
	fx.seedIncident(t, "one", models.SeverityLow)

	w := fx.do(t, http.MethodGet, "/api/v1/incidents/chain/1?format=download", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("content type = %q, want text/csv", ct)
	}
	if !strings.Contains(w.Body.String(), "event_hash") {
		t.Error("block CSV missing event_hash row")
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), "chain-block-"+strconv.Itoa(1)) {
		t.Errorf("content disposition = %q", w.Header().Get("Content-Disposition"))
	}
}

func updateInputWithStatus(status models.Status) incidents.UpdateInput {
	return incidents.UpdateInput{Status: &status}
}
