package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"conti/internal/core"
	"conti/internal/log"
	"conti/internal/services"
)

// saveEntity decodes v, forces the path id on PUT after checking the record
// exists, and saves it. POST answers 201, PUT 200.
func saveEntity[T any](w http.ResponseWriter, r *http.Request,
	setID func(*T, string),
	exists func(ctx context.Context, userID, id string) error,
	save func(ctx context.Context, userID string, v T) (T, error),
) {
	ctx, user := r.Context(), UserID(r.Context())

	var v T
	if err := decodeJSON(w, r, &v); err != nil {
		fail(w, r, log.OpUpdate, err)
		return
	}

	status := http.StatusCreated
	if id := chi.URLParam(r, "id"); id != "" {
		if err := exists(ctx, user, id); err != nil {
			fail(w, r, log.OpUpdate, err)
			return
		}
		setID(&v, id)
		status = http.StatusOK
	}

	saved, err := save(ctx, user, v)
	if err != nil {
		fail(w, r, log.OpUpdate, err)
		return
	}
	writeJSON(w, status, saved)
}

func deleteEntity(w http.ResponseWriter, r *http.Request, del func(ctx context.Context, userID, id string) error) {
	if err := del(r.Context(), UserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		fail(w, r, log.OpDelete, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func listOrEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// --- recurring ---

func (s *Server) handleListRecurring(w http.ResponseWriter, r *http.Request) {
	defs, err := s.ledger.ListRecurring(r.Context(), UserID(r.Context()))
	if err != nil {
		fail(w, r, log.OpList, err)
		return
	}
	writeJSON(w, http.StatusOK, listOrEmpty(defs))
}

func (s *Server) handleGetRecurring(w http.ResponseWriter, r *http.Request) {
	def, err := s.ledger.GetRecurring(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleSaveRecurring(w http.ResponseWriter, r *http.Request) {
	saveEntity(w, r,
		func(d *core.RecurringTransaction, id string) { d.ID = id },
		func(ctx context.Context, user, id string) error {
			_, err := s.ledger.GetRecurring(ctx, user, id)
			return err
		},
		s.ledger.SaveRecurring)
}

func (s *Server) handleDeleteRecurring(w http.ResponseWriter, r *http.Request) {
	deleteEntity(w, r, s.ledger.DeleteRecurring)
}

// --- budgets ---

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	budgets, err := s.ledger.ListBudgets(r.Context(), UserID(r.Context()))
	if err != nil {
		fail(w, r, log.OpList, err)
		return
	}
	writeJSON(w, http.StatusOK, listOrEmpty(budgets))
}

func (s *Server) handleSaveBudget(w http.ResponseWriter, r *http.Request) {
	saveEntity(w, r,
		func(b *core.Budget, id string) { b.ID = id },
		func(ctx context.Context, user, id string) error {
			_, err := s.ledger.GetBudget(ctx, user, id)
			return err
		},
		s.ledger.SaveBudget)
}

func (s *Server) handleDeleteBudget(w http.ResponseWriter, r *http.Request) {
	deleteEntity(w, r, s.ledger.DeleteBudget)
}

// handleBudgetDetails evaluates budgets at ?at= (today when absent).
func (s *Server) handleBudgetDetails(w http.ResponseWriter, r *http.Request) {
	at, err := queryDate(r, "at")
	if err != nil {
		fail(w, r, log.OpRead, err)
		return
	}
	details, err := s.ledger.BudgetDetails(r.Context(), UserID(r.Context()), at)
	if err != nil {
		fail(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, listOrEmpty(details))
}

// --- goals ---

func (s *Server) handleListGoals(w http.ResponseWriter, r *http.Request) {
	goals, err := s.ledger.Goals(r.Context(), UserID(r.Context()))
	if err != nil {
		fail(w, r, log.OpList, err)
		return
	}
	writeJSON(w, http.StatusOK, listOrEmpty[services.ProcessedGoal](goals))
}

func (s *Server) handleSaveGoal(w http.ResponseWriter, r *http.Request) {
	saveEntity(w, r,
		func(g *core.Goal, id string) { g.ID = id },
		func(ctx context.Context, user, id string) error {
			_, err := s.ledger.GetGoal(ctx, user, id)
			return err
		},
		s.ledger.SaveGoal)
}

func (s *Server) handleDeleteGoal(w http.ResponseWriter, r *http.Request) {
	deleteEntity(w, r, s.ledger.DeleteGoal)
}

type contributionRequest struct {
	Amount core.Money `json:"amount"`
}

func (s *Server) handleContributeToGoal(w http.ResponseWriter, r *http.Request) {
	var req contributionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, log.OpUpdate, err)
		return
	}
	g, err := s.ledger.ContributeToGoal(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		fail(w, r, log.OpUpdate, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// --- formulas ---

func (s *Server) handleListFormulas(w http.ResponseWriter, r *http.Request) {
	formulas, err := s.ledger.ListFormulas(r.Context(), UserID(r.Context()))
	if err != nil {
		fail(w, r, log.OpList, err)
		return
	}
	writeJSON(w, http.StatusOK, listOrEmpty(formulas))
}

func (s *Server) handleSaveFormula(w http.ResponseWriter, r *http.Request) {
	saveEntity(w, r,
		func(f *core.Formula, id string) { f.ID = id },
		func(ctx context.Context, user, id string) error {
			_, err := s.ledger.GetFormula(ctx, user, id)
			return err
		},
		s.ledger.SaveFormula)
}

func (s *Server) handleDeleteFormula(w http.ResponseWriter, r *http.Request) {
	deleteEntity(w, r, s.ledger.DeleteFormula)
}
