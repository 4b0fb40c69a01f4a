package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"conti/internal/core"
	"conti/internal/log"
	"conti/internal/storage"
)

// --- transactions ---

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	f, err := transactionFilter(r)
	if err != nil {
		fail(w, r, log.OpList, err)
		return
	}
	txs, err := s.ledger.ListTransactions(r.Context(), UserID(r.Context()), f)
	if err != nil {
		fail(w, r, log.OpList, err)
		return
	}
	if txs == nil {
		txs = []core.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// transactionFilter reads from, to, categoryId, recurringId, type, uncategorized
// and limit from the query string.
func transactionFilter(r *http.Request) (storage.TransactionFilter, error) {
	q := r.URL.Query()
	var f storage.TransactionFilter
	var err error
	if f.From, err = queryDate(r, "from"); err != nil {
		return f, err
	}
	if f.To, err = queryDate(r, "to"); err != nil {
		return f, err
	}
	f.CategoryID = strings.TrimSpace(q.Get("categoryId"))
	f.RecurringID = strings.TrimSpace(q.Get("recurringId"))
	if t := core.TransactionType(q.Get("type")); t != "" {
		if !t.IsValid() {
			return f, core.ErrInvalidType
		}
		f.Type = t
	}
	if v := q.Get("uncategorized"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, core.NewValidationError("invalid uncategorized flag")
		}
		f.MissingCategoryID = b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, core.NewValidationError("invalid limit")
		}
		f.Limit = n
	}
	return f, nil
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := s.ledger.GetTransaction(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// handleCreateTransactions accepts one transaction object or an array of them
// and stores them in one batch.
func (s *Server) handleCreateTransactions(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := decodeJSON(w, r, &raw); err != nil {
		fail(w, r, log.OpCreate, err)
		return
	}

	var txs []core.Transaction
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := strictUnmarshal(trimmed, &txs); err != nil {
			fail(w, r, log.OpCreate, err)
			return
		}
	} else {
		var tx core.Transaction
		if err := strictUnmarshal(trimmed, &tx); err != nil {
			fail(w, r, log.OpCreate, err)
			return
		}
		txs = []core.Transaction{tx}
	}
	if len(txs) == 0 {
		fail(w, r, log.OpCreate, core.NewValidationError("no transactions"))
		return
	}

	created, err := s.ledger.CreateTransactions(r.Context(), UserID(r.Context()), txs...)
	if err != nil {
		fail(w, r, log.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func strictUnmarshal(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if core.IsValidation(err) {
			return err
		}
		return core.NewValidationError("invalid request body: " + err.Error())
	}
	return nil
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var tx core.Transaction
	if err := decodeJSON(w, r, &tx); err != nil {
		fail(w, r, log.OpUpdate, err)
		return
	}
	tx.ID = chi.URLParam(r, "id")
	updated, err := s.ledger.UpdateTransaction(r.Context(), UserID(r.Context()), tx)
	if err != nil {
		fail(w, r, log.OpUpdate, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.DeleteTransaction(r.Context(), UserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		fail(w, r, log.OpDelete, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- categories ---

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	forest, err := s.ledger.ListCategories(r.Context(), UserID(r.Context()))
	if err != nil {
		fail(w, r, log.OpList, err)
		return
	}
	if forest == nil {
		forest = []core.CategoryNode{}
	}
	writeJSON(w, http.StatusOK, forest)
}

type addCategoryRequest struct {
	ParentID string               `json:"parentId"`
	ID       string               `json:"id"`
	Name     string               `json:"name"`
	Type     core.TransactionType `json:"type"`
}

func (s *Server) handleAddCategory(w http.ResponseWriter, r *http.Request) {
	var req addCategoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, log.OpCreate, err)
		return
	}
	node := core.CategoryNode{ID: strings.TrimSpace(req.ID), Name: strings.TrimSpace(req.Name), Type: req.Type}
	added, err := s.ledger.AddCategory(r.Context(), UserID(r.Context()), strings.TrimSpace(req.ParentID), node)
	if err != nil {
		fail(w, r, log.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

type renameCategoryRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRenameCategory(w http.ResponseWriter, r *http.Request) {
	var req renameCategoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, log.OpRename, err)
		return
	}
	relabeled, err := s.ledger.RenameCategory(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"), strings.TrimSpace(req.Name))
	if err != nil {
		fail(w, r, log.OpRename, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"relabeled": relabeled})
}

func (s *Server) handleRemoveCategory(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.RemoveCategory(r.Context(), UserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		fail(w, r, log.OpDelete, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
