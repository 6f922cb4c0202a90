package dashboard

import (
	"bytes"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ctf-assistant/internal/analytics"
	"ctf-assistant/internal/core"
	"ctf-assistant/internal/models"
)

var notices = map[string]string{
	"created": "Integration created.",
	"updated": "Integration updated.",
	"deleted": "Integration deleted.",
	"checked": "Check finished.",
}

var failures = map[string]string{
	"not_found":     "That integration no longer exists.",
	"delete_failed": "Delete failed. Nothing was removed, please try again.",
	"check_failed":  "Check failed. See the logs for details.",
	"check_off":     "Manual checks are off here. Another instance runs the poller.",
}

var templateFuncs = template.FuncMap{
	"ago": humanize.Time,
	"checked": func(record models.DonationIntegration) string {
		if record.LastChecked == nil {
			return "never"
		}
		return humanize.Time(*record.LastChecked)
	},
}

type integrationForm struct {
	GuildID   string
	ChannelID string
	APIKey    string
	PageURL   string
	IsActive  bool
}

type pageData struct {
	Title        string
	User         session
	Notice       string
	Error        string
	Integrations []models.DonationIntegration
	Integration  models.DonationIntegration
	Form         integrationForm
	FieldErrors  map[string]string
	Summary      analytics.Summary
	Editing      bool
	CanCheck     bool
}

func (s *Server) page(r *http.Request, title string) pageData {
	sess, _ := sessionFrom(r.Context())
	query := r.URL.Query()
	return pageData{
		Title:       title,
		User:        sess,
		Notice:      notices[query.Get("notice")],
		Error:       failures[query.Get("error")],
		FieldErrors: map[string]string{},
		CanCheck:    s.checker != nil,
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	data := s.page(r, "Donation integrations")
	records, err := s.integrations.List(r.Context(), models.IntegrationFilter{GuildID: r.URL.Query().Get("guild_id")})
	if err != nil {
		s.logger.Error("list integrations failed", zap.Error(err))
		s.renderError(w, http.StatusInternalServerError, "Could not load integrations.")
		return
	}
	data.Integrations = records
	data.Summary = s.analytics.SummaryOf(records)
	s.render(w, http.StatusOK, "list", data)
}

func (s *Server) handleNew(w http.ResponseWriter, r *http.Request) {
	data := s.page(r, "New integration")
	data.Form.IsActive = true
	s.render(w, http.StatusOK, "form", data)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	form := readForm(r)
	_, err := s.integrations.Create(r.Context(), s.actor(r), models.NewIntegration{
		GuildID:   form.GuildID,
		ChannelID: form.ChannelID,
		APIKey:    form.APIKey,
		PageURL:   form.PageURL,
		IsActive:  &form.IsActive,
	})
	if err != nil {
		data := s.page(r, "New integration")
		form.APIKey = ""
		data.Form = form
		s.formFailure(w, data, err)
		return
	}
	redirect(w, r, "/integrations", "notice", "created")
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	record, ok := s.load(w, r)
	if !ok {
		return
	}
	data := s.page(r, "Edit integration")
	data.Editing = true
	data.Integration = record
	data.Form = integrationForm{
		GuildID:   record.GuildID,
		ChannelID: record.ChannelID,
		PageURL:   record.PageURL,
		IsActive:  record.IsActive,
	}
	s.render(w, http.StatusOK, "form", data)
}

// handleUpdate leaves the API key unchanged when the field is blank.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	form := readForm(r)
	update := models.IntegrationUpdate{PageURL: &form.PageURL, IsActive: &form.IsActive}
	if form.APIKey != "" {
		update.APIKey = &form.APIKey
	}

	_, err := s.integrations.Update(r.Context(), s.actor(r), id, update)
	if core.IsNotFound(err) {
		redirect(w, r, "/integrations", "error", "not_found")
		return
	}
	if err != nil {
		record, loadErr := s.integrations.GetByID(r.Context(), id)
		if loadErr != nil {
			redirect(w, r, "/integrations", "error", "not_found")
			return
		}
		data := s.page(r, "Edit integration")
		data.Editing = true
		data.Integration = record
		form.GuildID, form.ChannelID, form.APIKey = record.GuildID, record.ChannelID, ""
		data.Form = form
		s.formFailure(w, data, err)
		return
	}
	redirect(w, r, "/integrations", "notice", "updated")
}

// handleDeleteConfirm is the confirmation step for browsers without
// JavaScript. The list page links here.
func (s *Server) handleDeleteConfirm(w http.ResponseWriter, r *http.Request) {
	record, ok := s.load(w, r)
	if !ok {
		return
	}
	data := s.page(r, "Delete integration")
	data.Integration = record
	s.render(w, http.StatusOK, "delete", data)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	err := s.integrations.Delete(r.Context(), s.actor(r), mux.Vars(r)["id"])
	switch {
	case err == nil:
		redirect(w, r, "/integrations", "notice", "deleted")
	case core.IsNotFound(err):
		redirect(w, r, "/integrations", "error", "not_found")
	default:
		s.logger.Error("dashboard delete failed", zap.String("id", mux.Vars(r)["id"]), zap.Error(err))
		redirect(w, r, "/integrations", "error", "delete_failed")
	}
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		redirect(w, r, "/integrations", "error", "check_off")
		return
	}
	_, err := s.checker.CheckNow(r.Context(), mux.Vars(r)["id"])
	switch {
	case err == nil:
		redirect(w, r, "/integrations", "notice", "checked")
	case core.IsNotFound(err):
		redirect(w, r, "/integrations", "error", "not_found")
	default:
		s.logger.Warn("manual check failed", zap.String("id", mux.Vars(r)["id"]), zap.Error(err))
		redirect(w, r, "/integrations", "error", "check_failed")
	}
}

func (s *Server) load(w http.ResponseWriter, r *http.Request) (models.DonationIntegration, bool) {
	record, err := s.integrations.GetByID(r.Context(), mux.Vars(r)["id"])
	if core.IsNotFound(err) {
		redirect(w, r, "/integrations", "error", "not_found")
		return models.DonationIntegration{}, false
	}
	if err != nil {
		s.logger.Error("load integration failed", zap.Error(err))
		s.renderError(w, http.StatusInternalServerError, "Could not load the integration.")
		return models.DonationIntegration{}, false
	}
	return record, true
}

func (s *Server) formFailure(w http.ResponseWriter, data pageData, err error) {
	var verr *core.ValidationError
	switch {
	case errors.As(err, &verr):
		data.FieldErrors[verr.Field] = verr.Reason
		s.render(w, http.StatusUnprocessableEntity, "form", data)
	case core.IsConflict(err):
		data.Error = "An active integration already exists for that channel."
		s.render(w, http.StatusConflict, "form", data)
	default:
		s.logger.Error("save integration failed", zap.Error(err))
		data.Error = "Saving failed. Please try again."
		s.render(w, http.StatusInternalServerError, "form", data)
	}
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data pageData) {
	var buf bytes.Buffer
	if err := s.pages.ExecuteTemplate(&buf, name, data); err != nil {
		s.logger.Error("render page failed", zap.String("page", name), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (s *Server) renderError(w http.ResponseWriter, status int, message string) {
	s.render(w, status, "error", pageData{Title: http.StatusText(status), Error: message})
}

func readForm(r *http.Request) integrationForm {
	_ = r.ParseForm()
	return integrationForm{
		GuildID:   strings.TrimSpace(r.PostFormValue("guild_id")),
		ChannelID: strings.TrimSpace(r.PostFormValue("channel_id")),
		APIKey:    strings.TrimSpace(r.PostFormValue("api_key")),
		PageURL:   strings.TrimSpace(r.PostFormValue("page_url")),
		IsActive:  r.PostFormValue("is_active") == "on",
	}
}

func redirect(w http.ResponseWriter, r *http.Request, path, key, code string) {
	http.Redirect(w, r, path+"?"+url.Values{key: {code}}.Encode(), http.StatusSeeOther)
}
