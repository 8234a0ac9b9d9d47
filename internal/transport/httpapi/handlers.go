package httpapi

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domainobituary "obituaries/internal/domain/obituary"
	"obituaries/internal/errs"
	"obituaries/internal/ports"
	"obituaries/internal/transport/wire"
	obituaryuc "obituaries/internal/usecase/obituary"
)

const idempotencyHeader = "Idempotency-Key"

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, wire.Health{
		Status:      "ok",
		Obituaries:  h.svc.IndexSize(),
		Subscribers: h.hub.Len(),
	})
}

func (h *handler) submitObituary(w http.ResponseWriter, r *http.Request) {
	var req wire.SubmitRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.svc.Submit(r.Context(), obituaryuc.SubmitInput{
		Submission:     req.ToSubmission(),
		IdempotencyKey: r.Header.Get(idempotencyHeader),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wire.SubmitResponse{ID: res.ID})
}

func (h *handler) getObituary(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.FromObituary(o))
}

func (h *handler) searchObituaries(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()

	if address := strings.TrimSpace(values.Get("address")); address != "" {
		chainID, err := intParam(values, "chainId")
		if err != nil {
			writeError(w, err)
			return
		}
		items, err := h.svc.GetByAddress(r.Context(), address, int64(chainID))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, wire.SearchResponse{
			Items:      wire.FromObituaries(items),
			TotalCount: len(items),
		})
		return
	}

	query, err := parseSearchQuery(values)
	if err != nil {
		writeError(w, err)
		return
	}
	page, err := h.svc.Search(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.FromPage(page))
}

func parseSearchQuery(values url.Values) (domainobituary.SearchQuery, error) {
	var (
		q   domainobituary.SearchQuery
		err error
	)
	q.Text = values.Get("q")

	if raw := values.Get("reason"); raw != "" {
		if q.Filters.Reason, err = domainobituary.ParseReason(raw); err != nil {
			return q, err
		}
	}
	if raw := values.Get("riskLevel"); raw != "" {
		if q.Filters.RiskLevel, err = domainobituary.ParseRiskLevel(raw); err != nil {
			return q, err
		}
	}
	if raw := values.Get("status"); raw != "" {
		if q.Filters.Status, err = domainobituary.ParseStatus(raw); err != nil {
			return q, err
		}
	}
	if q.Sort, err = domainobituary.ParseSortKey(values.Get("sort")); err != nil {
		return q, err
	}

	chainID, err := intParam(values, "chainId")
	if err != nil {
		return q, err
	}
	q.Filters.ChainID = int64(chainID)
	if q.Limit, err = intParam(values, "limit"); err != nil {
		return q, err
	}
	if q.Offset, err = intParam(values, "offset"); err != nil {
		return q, err
	}
	return q, nil
}

func intParam(values url.Values, name string) (int, error) {
	raw := strings.TrimSpace(values.Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errs.E(errs.CodeValidation, "%s must be an integer, got %q", name, raw)
	}
	return n, nil
}

func (h *handler) vote(w http.ResponseWriter, r *http.Request) {
	var req wire.VoteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.svc.Vote(r.Context(), obituaryuc.VoteInput{
		Vote: domainobituary.VoteInput{
			ObituaryID:      chi.URLParam(r, "id"),
			VerifierAddress: req.VerifierAddress,
			Action:          req.Action,
			Comment:         req.Comment,
			RiskLevel:       req.RiskLevel,
		},
		IdempotencyKey: r.Header.Get(idempotencyHeader),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.VoteResponse{
		Status:            string(res.Status),
		VerificationCount: res.VerificationCount,
	})
}

func (h *handler) listVerifications(w http.ResponseWriter, r *http.Request) {
	votes, err := h.svc.ListVerifications(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.FromVerifications(votes))
}

func (h *handler) appendAlternatives(w http.ResponseWriter, r *http.Request) {
	var req wire.AlternativesRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.svc.AppendAlternatives(r.Context(), chi.URLParam(r, "id"), req.Addresses)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.AppendResponse{Added: res.Added, Obituary: wire.FromObituary(res.Obituary)})
}

func (h *handler) appendAttachments(w http.ResponseWriter, r *http.Request) {
	var req wire.AttachmentsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.svc.AppendProofAttachments(r.Context(), chi.URLParam(r, "id"), req.Attachments)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.AppendResponse{Added: res.Added, Obituary: wire.FromObituary(res.Obituary)})
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.svc.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.FromSnapshot(snapshot))
}

func (h *handler) rebuildStats(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.svc.RebuildStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.FromSnapshot(snapshot))
}

func (h *handler) checkStats(w http.ResponseWriter, r *http.Request) {
	divergences, err := h.svc.CheckStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.FromDivergences(divergences))
}

func (h *handler) analyze(w http.ResponseWriter, r *http.Request) {
	var req wire.AnalyzeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.svc.AnalyzeContract(r.Context(), obituaryuc.AnalyzeInput{
		ContractAddress: req.ContractAddress,
		ChainID:         req.ChainID,
		SourceCode:      req.SourceCode,
		ABI:             req.ABI,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.AnalyzeResponse{Analysis: res.Analysis, Cached: res.Cached})
}

func (h *handler) describe(w http.ResponseWriter, r *http.Request) {
	var req wire.DescriptionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	text, err := h.svc.DraftDescription(r.Context(), ports.DescriptionRequest{
		ContractAddress: req.ContractAddress,
		Reason:          req.Reason,
		Evidence:        req.Evidence,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.DescriptionResponse{Description: text})
}
