package api

import (
	"errors"
	"net/http"

	"slotdesk/internal/domain"
)

type errorInfo struct {
	status  int
	message string
}

var errorTable = map[domain.Kind]errorInfo{
	domain.KindInvalidWindow:          {http.StatusBadRequest, "Invalid time window"},
	domain.KindInvalidInput:           {http.StatusBadRequest, "Invalid request"},
	domain.KindClosedDay:              {http.StatusUnprocessableEntity, "Business is closed on this day"},
	domain.KindOutsideHours:           {http.StatusUnprocessableEntity, "Outside business hours"},
	domain.KindInPast:                 {http.StatusUnprocessableEntity, "Cannot select past time"},
	domain.KindTooSoon:                {http.StatusUnprocessableEntity, "Not enough notice before the booking"},
	domain.KindSlotConflict:           {http.StatusConflict, "Slot is not available"},
	domain.KindDailyLimitReached:      {http.StatusConflict, "Daily booking limit reached"},
	domain.KindAlreadyFinalized:       {http.StatusConflict, "Booking is already finalized"},
	domain.KindInvalidTransition:      {http.StatusConflict, "Status change is not allowed"},
	domain.KindResourceInactive:       {http.StatusUnprocessableEntity, "Resource is not accepting bookings"},
	domain.KindNotFound:               {http.StatusNotFound, "Not found"},
	domain.KindConcurrentModification: {http.StatusConflict, "Booking was changed by another request, retry"},
	domain.KindStorageFailure:         {http.StatusInternalServerError, "Internal error"},
}

// Message returns the user-facing text for an error kind.
func Message(kind domain.Kind) string {
	if info, ok := errorTable[kind]; ok {
		return info.message
	}
	return errorTable[domain.KindStorageFailure].message
}

// StatusCode maps an error kind to its HTTP status.
func StatusCode(kind domain.Kind) int {
	if info, ok := errorTable[kind]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Error  string      `json:"error"`
	Kind   domain.Kind `json:"kind"`
	Detail string      `json:"detail,omitempty"`
}

// writeDomainError hides the cause of storage failures from the client.
func (s *HTTPServer) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	body := errorBody{Error: Message(kind), Kind: kind}

	var de *domain.Error
	if kind != domain.KindStorageFailure && errors.As(err, &de) && de.Err != nil {
		body.Detail = de.Err.Error()
	}
	if kind == domain.KindStorageFailure {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}

	writeJSON(w, StatusCode(kind), body)
}
