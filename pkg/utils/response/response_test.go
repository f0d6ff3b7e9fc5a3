package response

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-kb/pkg/errors"
	"github.com/kart-io/sentinel-kb/pkg/infra/middleware/common"
)

func serve(t *testing.T, lang string, h gin.HandlerFunc) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(common.WithRequestID(req.Context(), "rid-1"))
	if lang != "" {
		req.Header.Set("Accept-Language", lang)
	}
	c.Request = req
	h(c)

	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestOK(t *testing.T) {
	w, body := serve(t, "", func(c *gin.Context) { OK(c, map[string]int{"n": 1}) })
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, body.Code)
	assert.Equal(t, "success", body.Message)
	assert.Equal(t, "rid-1", body.RequestID)
	assert.Equal(t, map[string]interface{}{"n": float64(1)}, body.Data)
}

func TestFail_UsesRegisteredStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   int
	}{
		{errors.ErrKBItemNotFound, http.StatusNotFound, errors.ErrKBItemNotFound.Code},
		{fmt.Errorf("wrapped: %w", errors.ErrKBIngestionInProgress), http.StatusConflict, errors.ErrKBIngestionInProgress.Code},
		{errors.ErrKBInvalidPresign, http.StatusForbidden, errors.ErrKBInvalidPresign.Code},
		{fmt.Errorf("plain"), http.StatusInternalServerError, errors.ErrInternal.Code},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			w, body := serve(t, "", func(c *gin.Context) { Fail(c, tt.err) })
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, body.Code)
			assert.Nil(t, body.Data)
		})
	}
}

func TestFail_Chinese(t *testing.T) {
	_, body := serve(t, "zh-CN,zh;q=0.9", func(c *gin.Context) { Fail(c, errors.ErrKBItemNotFound) })
	assert.Equal(t, errors.ErrKBItemNotFound.MessageZH, body.Message)
}

func TestPage(t *testing.T) {
	_, body := serve(t, "", func(c *gin.Context) { Page(c, []string{"a"}, 7, 0, 1) })
	data, ok := body.Data.(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 7, data["total"])
	assert.EqualValues(t, 1, data["limit"])
}
