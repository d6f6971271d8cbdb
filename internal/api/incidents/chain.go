package incidents

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/incidentchain/internal/chain"
	"github.com/good-yellow-bee/incidentchain/internal/models"
	"github.com/good-yellow-bee/incidentchain/internal/storage"
)

// Chain handles GET /api/v1/incidents/chain. The action parameter selects the
// query: entries (default), verify, stats, export, merkle, activity.
func (h *Handler) Chain(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")
	switch action {
	case "", "entries":
		h.chainEntries(w, r)
	case "verify":
		h.chainVerify(w, r)
	case "stats":
		h.chainStats(w, r)
	case "export":
		h.chainExport(w, r)
	case "merkle":
		h.chainMerkle(w, r)
	case "activity":
		h.chainActivity(w, r)
	default:
		jsonError(w, http.StatusBadRequest, errCodeBadRequest,
			"action must be entries, verify, stats, export, merkle, or activity")
	}
}

func (h *Handler) chainEntries(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.queryCtx(r)
	defer cancel()

	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"), defaultChainLimit)
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, err.Error())
		return
	}

	var sinceSeq int64
	if s := q.Get("since_sequence"); s != "" {
		sinceSeq, err = strconv.ParseInt(s, 10, 64)
		if err != nil || sinceSeq < 0 {
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, "since_sequence must be a non-negative integer")
			return
		}
	}

	entries, err := h.storage.Chain().List(ctx, &storage.ChainFilter{
		IncidentID: q.Get("incident_id"),
		SinceSeq:   sinceSeq,
		Limit:      limit,
	})
	if err != nil {
		log.Printf("chain entries failed: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "failed to list chain entries")
		return
	}
	if entries == nil {
		entries = []*models.ChainEntry{}
	}

	jsonOK(w, map[string]any{"entries": entries, "count": len(entries)})
}

func (h *Handler) chainVerify(w http.ResponseWriter, r *http.Request) {
	// Verification walks the full chain; give it more room than a normal
	// query.
	ctx, cancel := context.WithTimeout(r.Context(), 4*h.config.QueryTimeout)
	defer cancel()

	result, err := h.engine.VerifyChain(ctx)
	if err != nil {
		log.Printf("chain verify failed: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "verification could not run")
		return
	}

	jsonOK(w, result)
}

func (h *Handler) chainStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.queryCtx(r)
	defer cancel()

	stats, err := h.engine.Stats(ctx)
	if err != nil {
		log.Printf("chain stats failed: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "failed to compute chain stats")
		return
	}

	jsonOK(w, stats)
}

func (h *Handler) chainExport(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.queryCtx(r)
	defer cancel()

	q := r.URL.Query()

	format, ok := chain.ParseExportFormat(q.Get("format"))
	if !ok {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "format must be json or csv")
		return
	}

	since, until, err := parseTimeRange(q.Get("since"), q.Get("until"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, err.Error())
		return
	}

	filename := fmt.Sprintf("chain-export-%s.%s", time.Now().UTC().Format("20060102-150405"), format)
	if format == chain.ExportCSV {
		w.Header().Set("Content-Type", "text/csv")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)

	if err := h.engine.Export(ctx, since, until, format, w); err != nil {
		// Headers are already out; all we can do is log.
		log.Printf("chain export failed: %v", err)
	}
}

func (h *Handler) chainMerkle(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.queryCtx(r)
	defer cancel()

	hashes, err := h.storage.Chain().RecentHashes(ctx, chain.DefaultMerkleWindow)
	if err != nil {
		log.Printf("chain merkle failed: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "failed to compute merkle root")
		return
	}

	jsonOK(w, map[string]any{
		"merkle_root": chain.MerkleRoot(hashes),
		"window":      len(hashes),
	})
}

func (h *Handler) chainActivity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.queryCtx(r)
	defer cancel()

	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"), defaultChainLimit)
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, err.Error())
		return
	}

	activity, err := h.storage.Agents().ListActivity(ctx, splitList(q.Get("agents")), limit)
	if err != nil {
		log.Printf("chain activity failed: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "failed to list activity")
		return
	}
	if activity == nil {
		activity = []*models.AgentActivity{}
	}

	jsonOK(w, map[string]any{"activity": activity, "count": len(activity)})
}

// BlockResponse is a chain entry with its Merkle inclusion proof over the
// recent window.
type BlockResponse struct {
	Entry      *models.ChainEntry `json:"entry"`
	MerkleRoot string             `json:"merkle_root"`
	Proof      []chain.ProofStep  `json:"merkle_proof"`
	InWindow   bool               `json:"in_window"`
}

// ChainBlock handles GET /api/v1/incidents/chain/{id}. The id may be an entry
// id or a sequence number. format=json (default) returns the block with its
// Merkle proof; format=download and format=csv return a CSV attachment.
func (h *Handler) ChainBlock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.queryCtx(r)
	defer cancel()

	id := chi.URLParam(r, "id")

	var entry *models.ChainEntry
	var err error
	if seq, convErr := strconv.ParseInt(id, 10, 64); convErr == nil {
		entry, err = h.storage.Chain().GetBySequence(ctx, seq)
	} else {
		entry, err = h.storage.Chain().GetByID(ctx, id)
	}
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			jsonError(w, http.StatusNotFound, errCodeNotFound, "chain block not found")
			return
		}
		log.Printf("chain block lookup failed: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "failed to load chain block")
		return
	}

	hashes, err := h.storage.Chain().RecentHashes(ctx, chain.DefaultMerkleWindow)
	if err != nil {
		log.Printf("chain block proof failed: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "failed to load chain block")
		return
	}
	proof := chain.MerkleProof(hashes, entry.EventHash)

	switch r.URL.Query().Get("format") {
	case "", "json":
		jsonOK(w, &BlockResponse{
			Entry:      entry,
			MerkleRoot: chain.MerkleRoot(hashes),
			Proof:      proof,
			InWindow:   proof != nil,
		})
	case "download", "csv":
		filename := fmt.Sprintf("chain-block-%d.csv", entry.Sequence)
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
		if err := chain.ExportBlock(w, entry, proof); err != nil {
			log.Printf("chain block export failed: %v", err)
		}
	default:
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "format must be json, download, or csv")
	}
}

// parseTimeRange parses optional RFC3339 bounds, defaulting to the epoch and
// now respectively.
func parseTimeRange(sinceStr, untilStr string) (time.Time, time.Time, error) {
	since := time.Unix(0, 0).UTC()
	until := time.Now().UTC()
	var err error
	if sinceStr != "" {
		since, err = time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			return since, until, fmt.Errorf("invalid since time format (use RFC3339)")
		}
	}
	if untilStr != "" {
		until, err = time.Parse(time.RFC3339, untilStr)
		if err != nil {
			return since, until, fmt.Errorf("invalid until time format (use RFC3339)")
		}
	}
	if until.Before(since) {
		return since, until, fmt.Errorf("until must not precede since")
	}
	return since, until, nil
}
