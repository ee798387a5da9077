package handlers

import (
	"errors"
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"papertrade/internal/bot"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Лимит тела запроса
const maxBodyBytes = 1 << 20

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Коды ошибок API, не относящиеся к риск-контролю
const (
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodePositionClosed    = "POSITION_CLOSED"
	CodeNoMarketData      = "NO_MARKET_DATA"
	CodeExecutionRejected = "EXECUTION_REJECTED"
	CodeInternal          = "INTERNAL_ERROR"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

// decodeBody читает JSON тело; пустое тело допустимо при allowEmpty
func decodeBody(r *http.Request, v interface{}, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

// writeDomainError переводит ошибки менеджера сессий в HTTP ответ
//
//	ErrSessionNotFound, ErrPositionNotFound     404
//	ErrInvalidTransition, SESSION_NOT_RUNNING   409
//	ErrPositionClosed, ErrNoMarketData          409
//	RISK_INVALID_ORDER, ErrInvalid*             400
//	прочие RISK_*, *SimulationError             422
func writeDomainError(w http.ResponseWriter, err error) {
	var riskErr *bot.RiskError
	var simErr *bot.SimulationError

	switch {
	case errors.Is(err, bot.ErrSessionNotFound), errors.Is(err, bot.ErrPositionNotFound):
		writeError(w, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, bot.ErrInvalidTransition):
		writeError(w, http.StatusConflict, CodeInvalidTransition, err.Error())
	case errors.Is(err, bot.ErrPositionClosed):
		writeError(w, http.StatusConflict, CodePositionClosed, err.Error())
	case errors.Is(err, bot.ErrNoMarketData):
		writeError(w, http.StatusConflict, CodeNoMarketData, err.Error())
	case errors.Is(err, bot.ErrInvalidSession),
		errors.Is(err, bot.ErrInvalidClosePrice),
		errors.Is(err, bot.ErrInvalidCloseReason):
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
	case errors.As(err, &riskErr):
		status := http.StatusUnprocessableEntity
		switch riskErr.Code {
		case bot.RiskSessionNotRunning:
			status = http.StatusConflict
		case bot.RiskInvalidOrder:
			status = http.StatusBadRequest
		}
		writeJSON(w, status, ErrorResponse{Error: riskErr.Message, Code: riskErr.Code})
	case errors.As(err, &simErr):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   err.Error(),
			Code:    CodeExecutionRejected,
			Details: simErr.Reason,
		})
	default:
		writeError(w, http.StatusInternalServerError, CodeInternal, err.Error())
	}
}
