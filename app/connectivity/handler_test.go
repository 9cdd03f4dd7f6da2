package connectivity

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSwitchHandler(t *testing.T) {
	testCases := []struct {
		name               string
		body               string
		expectedStatusCode int
		expectOnline       bool
	}{
		{name: "Go offline", body: `{"online": false}`, expectedStatusCode: http.StatusOK, expectOnline: false},
		{name: "Go online", body: `{"online": true}`, expectedStatusCode: http.StatusOK, expectOnline: true},
		{name: "Missing field keeps state", body: `{}`, expectedStatusCode: http.StatusBadRequest, expectOnline: true},
		{name: "Malformed body keeps state", body: `{online`, expectedStatusCode: http.StatusBadRequest, expectOnline: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Arrange
			airplane := NewSwitch(true)
			oracle := All{airplane, NewSwitch(true)}
			handler := NewSwitchHandler(airplane)
			req := httptest.NewRequest(http.MethodPut, "/connectivity", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()

			// Act
			handler.HandleSet(rec, req)

			// Assert
			assert.Equal(t, tc.expectedStatusCode, rec.Code)
			assert.Equal(t, tc.expectOnline, oracle.IsAvailable())

			get := httptest.NewRecorder()
			handler.HandleGet(get, httptest.NewRequest(http.MethodGet, "/connectivity", nil))
			var resp ModeResponse
			assert.NoError(t, json.NewDecoder(get.Body).Decode(&resp))
			assert.Equal(t, tc.expectOnline, resp.Online)
		})
	}
}
