package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Leganyst/salon-crm/internal/apperr"
	"github.com/Leganyst/salon-crm/internal/calendar"
)

const maxBodyBytes = 1 << 20

// jsonResponse — единый конверт ответов API.
type jsonResponse struct {
	Status  string `json:"status"` // "success" или "error"
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body jsonResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeSuccess(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, jsonResponse{Status: "success", Message: message, Data: data})
}

func writeCreated(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusCreated, jsonResponse{Status: "success", Message: message, Data: data})
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, jsonResponse{Status: "error", Message: message})
}

// writeError отдаёт ошибку приложения с нужным HTTP-статусом; внутренние ошибки
// логируются целиком, а клиенту уходит только общее сообщение.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		a.log.WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path, "error": err}).Error("request failed")
	}
	writeJSONError(w, status, apperr.PublicMessage(err))
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is empty", err)
		}
		return apperr.Validation("invalid request body", err)
	}
	return nil
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid "+name, err)
	}
	return id, nil
}

func queryID(r *http.Request, name string) (*uuid.UUID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperr.Validation("invalid "+name, err)
	}
	return &id, nil
}

// queryTime понимает RFC3339 и просто дату YYYY-MM-DD (полночь в loc).
func queryTime(r *http.Request, name string, loc *time.Location) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, raw, loc)
	if err != nil {
		return nil, apperr.Validation("invalid "+name+": want RFC3339 or YYYY-MM-DD", err)
	}
	return &t, nil
}

// requiredPeriod читает обязательные from/to.
func requiredPeriod(r *http.Request, loc *time.Location) (time.Time, time.Time, error) {
	from, err := queryTime(r, "from", loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := queryTime(r, "to", loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if from == nil || to == nil {
		return time.Time{}, time.Time{}, apperr.Validation("from and to are required", nil)
	}
	return *from, *to, nil
}

func pageRequest(r *http.Request) calendar.PageRequest {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))
	return calendar.PageRequest{Page: page, PageSize: size}.Normalize()
}

func queryBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}

func writeFile(w http.ResponseWriter, contentType, filename string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	if filename != "" {
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// exportPage — страница максимального размера для выгрузок.
func exportPage(page int) calendar.PageRequest {
	return calendar.PageRequest{Page: page, PageSize: calendar.MaxPageSize}
}

// decodeOptionalJSON — как decodeJSON, но пустое тело допустимо.
func decodeOptionalJSON(r *http.Request, dst any) error {
	err := decodeJSON(r, dst)
	if err != nil && errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
