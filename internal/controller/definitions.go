package controller

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"example.com/treefleet/internal/db"
	"example.com/treefleet/internal/definition"
)

const definitionsPrefix = "/api/definitions/"

type definitionRequest struct {
	Description string `json:"description"`
	SourceYAML  string `json:"source_yaml"`
}

// compile checks the YAML builds into a tree with the agents' node types
// and returns the tree name it declares.
func (c *Controller) compile(req definitionRequest) (string, error) {
	if req.SourceYAML == "" {
		return "", errors.New("source_yaml required")
	}
	doc, _, err := definition.Compile([]byte(req.SourceYAML), c.Registry)
	if err != nil {
		return "", err
	}
	return doc.Name, nil
}

func (c *Controller) ListDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := c.DB.ListDefinitions(r.Context())
	if err != nil {
		c.log.Error().Err(err).Msg("list definitions")
		respondError(w, http.StatusInternalServerError, "failed to list definitions")
		return
	}
	respondJSON(w, http.StatusOK, defs)
}

func (c *Controller) GetDefinition(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDFromPath(r.URL.Path, definitionsPrefix)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid definition id")
		return
	}
	def, err := c.DB.GetDefinition(r.Context(), id)
	if err != nil {
		c.definitionError(w, err, "fetch")
		return
	}
	respondJSON(w, http.StatusOK, def)
}

func (c *Controller) CreateDefinition(w http.ResponseWriter, r *http.Request) {
	var req definitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid definition payload")
		return
	}
	name, err := c.compile(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid definition: %v", err))
		return
	}
	def, err := c.DB.CreateDefinition(r.Context(), db.Definition{
		Name:        name,
		Description: req.Description,
		SourceYAML:  req.SourceYAML,
	})
	if err != nil {
		c.definitionError(w, err, "create")
		return
	}
	c.log.Info().Str("definition", name).Int64("id", def.ID).Msg("definition created")
	respondJSON(w, http.StatusCreated, def)
}

func (c *Controller) UpdateDefinition(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDFromPath(r.URL.Path, definitionsPrefix)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid definition id")
		return
	}
	var req definitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid definition payload")
		return
	}
	name, err := c.compile(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid definition: %v", err))
		return
	}
	def, err := c.DB.UpdateDefinition(r.Context(), db.Definition{
		ID:          id,
		Name:        name,
		Description: req.Description,
		SourceYAML:  req.SourceYAML,
	})
	if err != nil {
		c.definitionError(w, err, "update")
		return
	}
	respondJSON(w, http.StatusOK, def)
}

func (c *Controller) DeleteDefinition(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDFromPath(r.URL.Path, definitionsPrefix)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid definition id")
		return
	}
	if err := c.DB.DeleteDefinition(r.Context(), id); err != nil {
		c.definitionError(w, err, "delete")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Controller) definitionError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		respondError(w, http.StatusNotFound, "definition not found")
	case errors.Is(err, db.ErrDuplicate):
		respondError(w, http.StatusConflict, "a definition with that name already exists")
	default:
		c.log.Error().Err(err).Str("op", op).Msg("definition")
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to %s definition", op))
	}
}
