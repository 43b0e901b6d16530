package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/portprobe/internal/api/handlers/mocks"
)

func TestHealthHandler_Health(t *testing.T) {
	tests := []struct {
		name           string
		pingErr        error
		withDatabase   bool
		expectedStatus int
		expectedHealth string
		expectedCheck  string
	}{
		{"no database", nil, false, http.StatusOK, StatusHealthy, StatusNotConfigured},
		{"database ok", nil, true, http.StatusOK, StatusHealthy, "ok"},
		{"database down", errors.New("connection refused"), true, http.StatusServiceUnavailable, StatusUnhealthy, "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)

			var database DatabasePinger
			if tt.withDatabase {
				db := mocks.NewMockSummaryStore(ctrl)
				db.EXPECT().Ping(gomock.Any()).Return(tt.pingErr)
				database = db
			}

			h := NewHealthHandler(database, "1.2.3", createTestLogger())
			rr := httptest.NewRecorder()
			h.Health(rr, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

			assert.Equal(t, tt.expectedStatus, rr.Code)

			var body HealthResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tt.expectedHealth, body.Status)
			assert.Equal(t, "1.2.3", body.Version)
			assert.Equal(t, tt.expectedCheck, body.Checks["database"])
		})
	}
}
