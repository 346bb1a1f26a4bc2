package log

import (
	"net/http"
	"net/http/httptest"
)

func httptestRequest() *http.Request {
	return httptest.NewRequest(http.MethodGet, "/cards?limit=1", nil)
}
