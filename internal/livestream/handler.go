package livestream

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"livesync/internal/tokenstore"
	"livesync/internal/youtube"
)

const maxBodyBytes = 1 << 20

// Handler exposes the stream commands over HTTP using go-chi.
type Handler struct {
	svc        *Service
	log        *slog.Logger
	validate   *validator.Validate
	translator ut.Translator
}

// NewHandler returns a Handler that uses the given Service and Logger.
func NewHandler(svc *Service, log *slog.Logger) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())

	// report errors with JSON field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	locale := en.New()
	trans, _ := ut.New(locale, locale).GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, trans)

	return &Handler{svc: svc, log: log, validate: v, translator: trans}
}

// Register mounts every route on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.Health)
	r.Route("/streams", func(r chi.Router) {
		r.Get("/", h.ListStreams)
		r.Get("/upcoming", h.ListUpcoming)
		r.Post("/link", h.LinkStream)
		r.Route("/{stream_key}", func(r chi.Router) {
			r.Get("/", h.GetStream)
			r.Post("/status", h.SetStatus)
			r.Post("/start", h.StartBroadcast)
			r.Post("/end", h.EndBroadcast)
		})
	})
	r.Post("/broadcasts", h.ScheduleBroadcast)
	r.Post("/broadcasts/series", h.ScheduleSeries)
	r.Post("/sync", h.ForceSync)
	r.Get("/tasks/{task_id}", h.GetTask)
}

type scheduleBody struct {
	Title          string    `json:"title" validate:"required,max=100"`
	Description    string    `json:"description" validate:"max=5000"`
	ScheduledStart time.Time `json:"scheduled_start" validate:"required"`
	AccessTier     string    `json:"access_tier" validate:"max=64"`
	Instructor     string    `json:"instructor" validate:"max=128"`
}

type linkBody struct {
	URL         string `json:"url" validate:"required"`
	Title       string `json:"title" validate:"max=100"`
	Description string `json:"description" validate:"max=5000"`
	AccessTier  string `json:"access_tier" validate:"max=64"`
	Instructor  string `json:"instructor" validate:"max=128"`
}

type statusBody struct {
	Status string `json:"status" validate:"required,oneof=scheduled live completed"`
}

type seriesBody struct {
	Title        string    `json:"title" validate:"required,max=90"`
	Description  string    `json:"description" validate:"max=5000"`
	FirstStart   time.Time `json:"first_start" validate:"required"`
	Count        int       `json:"count" validate:"required,min=1,max=52"`
	IntervalDays int       `json:"interval_days" validate:"omitempty,min=1,max=31"`
	AccessTier   string    `json:"access_tier" validate:"max=64"`
	Instructor   string    `json:"instructor" validate:"max=128"`
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListStreams handles GET /streams?status=.
func (h *Handler) ListStreams(w http.ResponseWriter, r *http.Request) {
	recs, err := h.svc.ListStreams(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(recs))
}

// ListUpcoming handles GET /streams/upcoming?from=&to= (RFC 3339).
func (h *Handler) ListUpcoming(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeParam(r, "from")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	recs, err := h.svc.ListUpcoming(r.Context(), from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(recs))
}

// GetStream handles GET /streams/{stream_key}.
func (h *Handler) GetStream(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.GetStream(r.Context(), chi.URLParam(r, "stream_key"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// LinkStream handles POST /streams/link.
// Body: { "url": "https://youtu.be/...", "title": "..." }.
func (h *Handler) LinkStream(w http.ResponseWriter, r *http.Request) {
	var body linkBody
	if !h.decode(w, r, &body) {
		return
	}

	rec, err := h.svc.LinkExternalStream(r.Context(), LinkRequest{
		URL:         body.URL,
		Title:       body.Title,
		Description: body.Description,
		AccessTier:  body.AccessTier,
		Instructor:  body.Instructor,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// SetStatus handles POST /streams/{stream_key}/status.
// Body: { "status": "completed" }.
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var body statusBody
	if !h.decode(w, r, &body) {
		return
	}

	rec, err := h.svc.SetStatus(r.Context(), chi.URLParam(r, "stream_key"), Status(body.Status))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// StartBroadcast handles POST /streams/{stream_key}/start.
func (h *Handler) StartBroadcast(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.StartBroadcast(r.Context(), chi.URLParam(r, "stream_key"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// EndBroadcast handles POST /streams/{stream_key}/end.
func (h *Handler) EndBroadcast(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.EndBroadcast(r.Context(), chi.URLParam(r, "stream_key"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ScheduleBroadcast handles POST /broadcasts.
// Body: { "title": "...", "description": "...", "scheduled_start": "2025-01-01T10:00:00Z" }.
func (h *Handler) ScheduleBroadcast(w http.ResponseWriter, r *http.Request) {
	var body scheduleBody
	if !h.decode(w, r, &body) {
		return
	}

	rec, err := h.svc.ScheduleBroadcast(r.Context(), ScheduleRequest{
		Title:          body.Title,
		Description:    body.Description,
		ScheduledStart: body.ScheduledStart,
		AccessTier:     body.AccessTier,
		Instructor:     body.Instructor,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// ScheduleSeries handles POST /broadcasts/series and answers 202 with the
// task id.
func (h *Handler) ScheduleSeries(w http.ResponseWriter, r *http.Request) {
	var body seriesBody
	if !h.decode(w, r, &body) {
		return
	}

	id, err := h.svc.ScheduleSeries(r.Context(), SeriesRequest{
		Title:       body.Title,
		Description: body.Description,
		FirstStart:  body.FirstStart,
		Count:       body.Count,
		Interval:    time.Duration(body.IntervalDays) * 24 * time.Hour,
		AccessTier:  body.AccessTier,
		Instructor:  body.Instructor,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id})
}

// ForceSync handles POST /sync. With ?async=true the pass runs in the
// background and the response is 202 with the task id.
func (h *Handler) ForceSync(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("async") == "true" {
		id, err := h.svc.ForceSyncAsync()
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id})
		return
	}

	report, err := h.svc.ForceSync(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetTask handles GET /tasks/{task_id}.
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	t, ok := h.svc.Tasks().Status(chi.URLParam(r, "task_id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// decode reads and validates a JSON body. It writes the 400 response itself
// and returns false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.log.Debug("invalid request body", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body: " + err.Error()})
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Translate(h.translator)
			}
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "fields": fields})
			return false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	body := map[string]any{"error": err.Error()}

	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrInvalidURL):
		status = http.StatusBadRequest
	case IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, ErrInvalidRecord), errors.Is(err, ErrKeyImmutable):
		status = http.StatusUnprocessableEntity
	case tokenstore.IsMissingCredentials(err), errors.Is(err, ErrRunnerClosed):
		status = http.StatusServiceUnavailable
	default:
		if apiErr, ok := youtube.AsExternalAPIError(err); ok {
			status = http.StatusBadGateway
			body["upstream_status"] = apiErr.StatusCode
			body["upstream_body"] = apiErr.RawBody
		}
	}

	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("error", err.Error()))
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, invalidRequest(name + " must be an RFC 3339 time")
	}
	return t, nil
}

func nonNil(recs []StreamRecord) []StreamRecord {
	if recs == nil {
		return []StreamRecord{}
	}
	return recs
}
