package atmledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const requestIDHeader = "X-Request-ID"

type balanceJSONResp struct {
	Balance decimal.Decimal `json:"balance"`
}

type errorJSONResp struct {
	Kind    string            `json:"kind"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func NewHTTPHandler(svc Service, log *zerolog.Logger) http.Handler {
	hndlr := &httpHandler{
		Svc: svc,
		Log: log,
	}
	mux := chi.NewMux()
	mux.Use(hndlr.requestID)
	mux.NotFound(HTTPNotFound)
	mux.Post("/transactions", hndlr.Post)
	mux.Route("/accounts/{accountNumber}", func(r chi.Router) {
		r.Get("/transactions", hndlr.List)
		r.Get("/balance", hndlr.Balance)
		r.Get("/statement", hndlr.Statement)
	})

	return mux
}

type httpHandler struct {
	Svc Service
	Log *zerolog.Logger
}

// requestID tags the request with an id, reusing the caller's when given,
// and attaches a logger carrying it to the request context.
func (h *httpHandler) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		l := h.Log.With().Str("request_id", id).Logger()
		next.ServeHTTP(w, r.WithContext(l.WithContext(r.Context())))
	})
}

func (h *httpHandler) Post(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())
	buf, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		logger.Err(err).Str("method", "post").Msg("error reading HTTP request")
		WriteHTTPError(w, ErrInternalServer)
		return
	}
	var req TransactionReq
	if err = json.Unmarshal(buf, &req); err != nil {
		logger.Err(err).Str("method", "post").Msg("error unmarshalling JSON")
		WriteHTTPError(w, ErrBadRequest{
			Message: "Malformed request body.",
			Fields:  map[string]string{"request body": "malformed JSON"},
		})
		return
	}
	resp, err := h.Svc.Post(r.Context(), req)
	if err != nil {
		h.logFailure(logger, "post", err)
		WriteHTTPError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (h *httpHandler) List(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "accountNumber")
	resps, err := h.Svc.ListByAccountNumber(r.Context(), number)
	if err != nil {
		h.logFailure(zerolog.Ctx(r.Context()), "list", err)
		WriteHTTPError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resps)
}

func (h *httpHandler) Balance(w http.ResponseWriter, r *http.Request) {
	req := BalanceReq{AccountNumber: chi.URLParam(r, "accountNumber")}
	bal, err := h.Svc.Balance(r.Context(), req)
	if err != nil {
		h.logFailure(zerolog.Ctx(r.Context()), "balance", err)
		WriteHTTPError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, balanceJSONResp{Balance: *bal})
}

func (h *httpHandler) Statement(w http.ResponseWriter, r *http.Request) {
	req := StatementReq{AccountNumber: chi.URLParam(r, "accountNumber")}
	// Buffered so that a failure midway still yields a JSON error response.
	buf := new(bytes.Buffer)
	if err := h.Svc.Statement(r.Context(), buf, req); err != nil {
		h.logFailure(zerolog.Ctx(r.Context()), "statement", err)
		WriteHTTPError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="statement-`+req.AccountNumber+`.pdf"`)
	if _, err := buf.WriteTo(w); err != nil {
		zerolog.Ctx(r.Context()).Err(err).Str("method", "statement").Msg("error writing statement")
	}
}

func (h *httpHandler) logFailure(logger *zerolog.Logger, method string, err error) {
	if isDomainError(err) {
		logger.Debug().Err(err).Str("method", method).Msg("request rejected")
		return
	}
	logger.Err(err).Str("method", method).Msg("request failed")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("response encoding failed")
	}
}

func WriteHTTPError(w http.ResponseWriter, err error) {
	var ne error
	defer func() {
		if ne != nil {
			log.Error().
				Err(ne).
				Msg("error response encoding failed")
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	errnf := &ErrNotFound{}
	errbr := &ErrBadRequest{}
	var (
		status int
		resp   errorJSONResp
	)
	switch {
	case errors.As(err, errnf):
		status = http.StatusNotFound
		resp = errorJSONResp{Kind: "NotFound", Message: errnf.Error()}
	case errors.As(err, errbr):
		status = http.StatusBadRequest
		resp = errorJSONResp{Kind: "BadRequest", Message: errbr.Error(), Fields: errbr.Fields}
	case errors.Is(err, ErrConflict):
		status = http.StatusConflict
		resp = errorJSONResp{Kind: "Conflict", Message: ErrConflict.Error()}
	case errors.Is(err, ErrServiceUnavailable):
		status = http.StatusServiceUnavailable
		resp = errorJSONResp{Kind: "Unavailable", Message: ErrServiceUnavailable.Error()}
	default:
		status = http.StatusInternalServerError
		resp = errorJSONResp{Kind: "Internal", Message: "server error"}
	}
	w.WriteHeader(status)
	ne = json.NewEncoder(w).Encode(resp)
}

func HTTPNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	resp := map[string]string{
		"path": r.URL.Path,
	}
	json.NewEncoder(w).Encode(resp)
}
