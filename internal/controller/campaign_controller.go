// internal/controller/campaign_controller.go
package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/unclebandit/outreach-scheduler/internal/errors"
	"github.com/unclebandit/outreach-scheduler/internal/handler"
	"github.com/unclebandit/outreach-scheduler/internal/model"
	"github.com/unclebandit/outreach-scheduler/internal/service"
)

type CampaignController struct {
	CampaignService *service.CampaignService
}

// Routes mounts the campaign endpoints.
func (c *CampaignController) Routes(r chi.Router) {
	r.Post("/campaigns", c.CreateCampaign)
	r.Get("/campaigns", c.ListCampaigns)
	r.Get("/campaigns/{id}", c.GetCampaignDetails)
	r.Put("/campaigns/{id}", c.UpdateCampaign)
	r.Delete("/campaigns/{id}", c.DeleteCampaign)
	r.Put("/campaigns/{id}/steps", c.UpdateSteps)
	r.Post("/campaigns/{id}/leads", c.AddLeads)
	r.Delete("/campaigns/{id}/leads/{leadID}", c.RemoveLead)
	r.Post("/campaigns/{id}/activate", c.Activate)
	r.Post("/campaigns/{id}/pause", c.Pause)
	r.Get("/campaigns/{id}/status", c.GetStatus)
	r.Get("/campaigns/{id}/assignments", c.ListAssignments)
	r.Get("/assignments/{id}/events", c.AssignmentHistory)
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id < 1 {
		return 0, appErrors.NewValidation(name, "must be a positive integer")
	}
	return id, nil
}

// scoped resolves the tenant and the {id} path parameter.
func scoped(w http.ResponseWriter, r *http.Request) (string, int64, bool) {
	tenantID, ok := handler.Tenant(w, r)
	if !ok {
		return "", 0, false
	}
	id, err := pathID(r, "id")
	if err != nil {
		handler.WriteError(w, err)
		return "", 0, false
	}
	return tenantID, id, true
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := handler.Tenant(w, r)
	if !ok {
		return
	}

	var body struct {
		Name        string       `json:"name"`
		Description string       `json:"description"`
		Steps       []model.Step `json:"steps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	campaign, err := c.CampaignService.CreateCampaign(r.Context(), tenantID, body.Name, body.Description, body.Steps)
	if err != nil {
		handler.WriteError(w, err)
		return
	}
	handler.WriteJSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := handler.Tenant(w, r)
	if !ok {
		return
	}

	// Parse query parameters
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), tenantID, page, pageSize, status)
	if err != nil {
		handler.WriteError(w, err)
		return
	}

	handler.WriteJSON(w, http.StatusOK, map[string]any{
		"data":       campaigns,
		"pagination": pagination,
	})
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := scoped(w, r)
	if !ok {
		return
	}

	details, err := c.CampaignService.GetCampaignDetails(r.Context(), tenantID, id)
	if err != nil {
		handler.WriteError(w, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, details)
}

func (c *CampaignController) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := scoped(w, r)
	if !ok {
		return
	}

	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	campaign, err := c.CampaignService.UpdateCampaign(r.Context(), tenantID, id, body.Name, body.Description)
	if err != nil {
		handler.WriteError(w, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) UpdateSteps(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := scoped(w, r)
	if !ok {
		return
	}

	var body struct {
		Steps []model.Step `json:"steps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	if err := c.CampaignService.UpdateSteps(r.Context(), tenantID, id, body.Steps); err != nil {
		handler.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *CampaignController) AddLeads(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := scoped(w, r)
	if !ok {
		return
	}

	var body struct {
		LeadIDs []int64 `json:"lead_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	added, err := c.CampaignService.AddLeads(r.Context(), tenantID, id, body.LeadIDs)
	if err != nil {
		handler.WriteError(w, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]any{
		"campaign_id": id,
		"added_count": added,
	})
}

func (c *CampaignController) RemoveLead(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := scoped(w, r)
	if !ok {
		return
	}
	leadID, err := pathID(r, "leadID")
	if err != nil {
		handler.WriteError(w, err)
		return
	}

	if err := c.CampaignService.RemoveLead(r.Context(), tenantID, id, leadID); err != nil {
		handler.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *CampaignController) Activate(w http.ResponseWriter, r *http.Request) {
	c.lifecycle(w, r, c.CampaignService.Activate)
}

func (c *CampaignController) Pause(w http.ResponseWriter, r *http.Request) {
	c.lifecycle(w, r, c.CampaignService.Pause)
}

func (c *CampaignController) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	c.lifecycle(w, r, c.CampaignService.Delete)
}

func (c *CampaignController) lifecycle(w http.ResponseWriter, r *http.Request, op func(context.Context, string, int64) error) {
	tenantID, id, ok := scoped(w, r)
	if !ok {
		return
	}
	if err := op(r.Context(), tenantID, id); err != nil {
		handler.WriteError(w, err)
		return
	}

	stats, err := c.CampaignService.GetStatus(r.Context(), tenantID, id)
	if err != nil {
		handler.WriteError(w, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, stats)
}

func (c *CampaignController) GetStatus(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := scoped(w, r)
	if !ok {
		return
	}

	stats, err := c.CampaignService.GetStatus(r.Context(), tenantID, id)
	if err != nil {
		handler.WriteError(w, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, stats)
}

func (c *CampaignController) ListAssignments(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := scoped(w, r)
	if !ok {
		return
	}

	assignments, err := c.CampaignService.ListAssignments(r.Context(), tenantID, id)
	if err != nil {
		handler.WriteError(w, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]any{"data": assignments})
}

func (c *CampaignController) AssignmentHistory(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := scoped(w, r)
	if !ok {
		return
	}

	events, err := c.CampaignService.AssignmentHistory(r.Context(), tenantID, id)
	if err != nil {
		handler.WriteError(w, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]any{"data": events})
}
