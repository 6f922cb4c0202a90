package dashboard

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"ctf-assistant/internal/core"
	"ctf-assistant/internal/integrations"
	"ctf-assistant/internal/models"
)

type apiError struct {
	Error string `json:"error"`
}

type integrationView struct {
	models.DonationIntegration
	MaskedKey string `json:"api_key_masked"`
}

func viewOf(record models.DonationIntegration) integrationView {
	return integrationView{DonationIntegration: record, MaskedKey: record.MaskedAPIKey()}
}

func (s *Server) apiListIntegrations(w http.ResponseWriter, r *http.Request) {
	filter := models.IntegrationFilter{
		GuildID:    r.URL.Query().Get("guild_id"),
		ActiveOnly: r.URL.Query().Get("active") == "true",
	}
	records, err := s.integrations.List(r.Context(), filter)
	if err != nil {
		s.apiFail(w, err)
		return
	}
	views := make([]integrationView, 0, len(records))
	for _, record := range records {
		views = append(views, viewOf(record))
	}
	writeJSON(w, s.logger, http.StatusOK, views)
}

func (s *Server) apiGetIntegration(w http.ResponseWriter, r *http.Request) {
	record, err := s.integrations.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.apiFail(w, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, viewOf(record))
}

func (s *Server) apiDeleteIntegration(w http.ResponseWriter, r *http.Request) {
	if err := s.integrations.Delete(r.Context(), s.actor(r), mux.Vars(r)["id"]); err != nil {
		s.apiFail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) apiStats(w http.ResponseWriter, r *http.Request) {
	summary, err := s.analytics.Summary(r.Context(), r.URL.Query().Get("guild_id"))
	if err != nil {
		s.apiFail(w, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, summary)
}

func (s *Server) apiFail(w http.ResponseWriter, err error) {
	switch {
	case core.IsNotFound(err):
		writeJSON(w, s.logger, http.StatusNotFound, apiError{Error: "not found"})
	case core.IsConflict(err):
		writeJSON(w, s.logger, http.StatusConflict, apiError{Error: "conflict"})
	case core.IsValidation(err):
		writeJSON(w, s.logger, http.StatusBadRequest, apiError{Error: err.Error()})
	default:
		s.logger.Error("dashboard api error", zap.Error(err))
		writeJSON(w, s.logger, http.StatusInternalServerError, apiError{Error: "internal error"})
	}
}

func (s *Server) actor(r *http.Request) integrations.Actor {
	sess, _ := sessionFrom(r.Context())
	return integrations.Actor{UserID: sess.UserID, Source: "dashboard"}
}
