package handlers

import (
	"errors"
	"math/rand"
	"net/http"

	"github.com/Dosada05/bracket-engine/brackets"
	"github.com/Dosada05/bracket-engine/models"
	"github.com/Dosada05/bracket-engine/services"
)

type BracketHandler struct {
	bracketService services.BracketService
}

func NewBracketHandler(bs services.BracketService) *BracketHandler {
	return &BracketHandler{bracketService: bs}
}

type buildBracketInput struct {
	Capacity    int                    `json:"capacity"`
	EntrantKind models.EntrantKind     `json:"entrant_kind"`
	Policy      brackets.SeedingPolicy `json:"policy"`
	Mode        models.GenerationMode  `json:"mode"`

	// RandomSeed makes the random policy reproducible.
	RandomSeed *int64 `json:"random_seed,omitempty"`
}

type completeMatchInput struct {
	WinnerID int     `json:"winner_id"`
	Score    *string `json:"score,omitempty"`
}

// BuildHandler handles POST /tournaments/{tournamentID}/bracket
func (h *BracketHandler) BuildHandler(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input buildBracketInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	opts := services.BuildOptions{Policy: input.Policy, Mode: input.Mode}
	if input.RandomSeed != nil {
		opts.Rand = rand.New(rand.NewSource(*input.RandomSeed))
	}

	view, err := h.bracketService.BuildBracket(r.Context(), id, input.Capacity, input.EntrantKind, opts)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusCreated, jsonResponse{"bracket": view}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// GetHandler handles GET /tournaments/{tournamentID}/bracket
func (h *BracketHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	view, err := h.bracketService.GetBracket(r.Context(), id)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"bracket": view}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// CompleteMatchHandler handles POST /tournaments/{tournamentID}/matches/{matchID}/complete
func (h *BracketHandler) CompleteMatchHandler(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input completeMatchInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if input.WinnerID <= 0 {
		badRequestResponse(w, r, errors.New("winner_id must be a positive entrant id"))
		return
	}

	result, err := h.bracketService.CompleteMatch(r.Context(), tournamentID, matchID, input.WinnerID, input.Score)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"result": result}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// ReconcileHandler handles POST /tournaments/{tournamentID}/reconcile
func (h *BracketHandler) ReconcileHandler(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	report, err := h.bracketService.Reconcile(r.Context(), id)
	if err != nil {
		if report != nil && errors.Is(err, brackets.ErrAdvancementConflict) {
			if err := writeJSON(w, http.StatusConflict, jsonResponse{"error": err.Error(), "report": report}, nil); err != nil {
				serverErrorResponse(w, r, err)
			}
			return
		}
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"report": report}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
