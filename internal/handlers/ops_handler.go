package handlers

import (
	"net/http"
)

type reconcileRequest struct {
	AccountIDs []string `json:"account_ids" validate:"omitempty,dive,required"`
}

// CheckBalances compares cached balances with the ledger replay without
// writing anything. Repeat account_id to narrow the check; no ids means every
// account.
func (h *LedgerHandler) CheckBalances(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciler.Check(r.Context(), r.URL.Query()["account_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ReconcileBalances overwrites drifted cached balances with their replay.
func (h *LedgerHandler) ReconcileBalances(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if r.ContentLength != 0 && !h.decodeJSON(w, r, &req) {
		return
	}

	report, err := h.reconciler.Reconcile(r.Context(), req.AccountIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *LedgerHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.ledger.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
