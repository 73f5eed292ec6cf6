package transporthttp

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/backend"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/domain"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/logging"
)

type Problem struct {
	Type     string              `json:"type,omitempty"`
	Title    string              `json:"title,omitempty"`
	Status   int                 `json:"status,omitempty"`
	Detail   string              `json:"detail,omitempty"`
	Instance string              `json:"instance,omitempty"`
	Errors   map[string][]string `json:"errors,omitempty"`
	Meta     map[string]any      `json:"meta,omitempty"`
}

func WriteProblem(w http.ResponseWriter, status int, title, detail string, errs map[string][]string) {
	writeProblem(w, Problem{Title: title, Status: status, Detail: detail, Errors: errs})
}

func writeProblem(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fieldProblem writes a 400 listing every field error.
func fieldProblem(w http.ResponseWriter, errs []domain.FieldError) {
	prob := map[string][]string{}
	for _, fe := range errs {
		prob[fe.Field] = append(prob[fe.Field], fe.Msg)
	}
	WriteProblem(w, http.StatusBadRequest, "validation failed", "one or more fields are invalid", prob)
}

// statusOf maps an error kind to the HTTP status shown to the dashboard.
func statusOf(err error) (int, string) {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest, "validation failed"
	case domain.KindNotFound:
		return http.StatusNotFound, "not found"
	case domain.KindInvalidTransition:
		return http.StatusUnprocessableEntity, "invalid transition"
	case domain.KindConflict:
		return http.StatusConflict, "conflict"
	case domain.KindFetch, domain.KindPatch, domain.KindPublish:
		if errors.Is(err, backend.ErrUnavailable) {
			return http.StatusServiceUnavailable, "backend unavailable"
		}
		return http.StatusBadGateway, "backend request failed"
	}
	return http.StatusInternalServerError, "internal error"
}

// writeError renders err as a problem document carrying its kind.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, title := statusOf(err)
	p := Problem{
		Title:    title,
		Status:   status,
		Detail:   err.Error(),
		Instance: r.URL.Path,
		Meta:     map[string]any{},
	}
	if kind := domain.KindOf(err); kind != "" {
		p.Type = "urn:calendar:problem:" + string(kind)
		p.Meta["kind"] = kind
	}
	var fe domain.FieldError
	if errors.As(err, &fe) {
		p.Errors = map[string][]string{fe.Field: {fe.Msg}}
	}
	if id := RequestIDFrom(r.Context()); id != "" {
		p.Meta["request_id"] = id
	}
	if status >= http.StatusInternalServerError {
		log := logging.FromContext(r.Context())
		log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeProblem(w, p)
}
