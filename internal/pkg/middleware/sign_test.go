package middleware

import (
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"server-commission-app/internal/pkg/util"
)

func signedRouter(t *testing.T) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ValidateSign("secret"))
	r.POST("/echo", func(c *gin.Context) {
		body, err := ioutil.ReadAll(c.Request.Body)
		require.NoError(t, err)
		c.String(http.StatusOK, string(body))
	})
	r.GET("/echo", func(c *gin.Context) {
		c.String(http.StatusOK, c.Query("a"))
	})
	return r
}

func TestValidateSignAcceptsSignedBody(t *testing.T) {
	r := signedRouter(t)
	body := `{"depositorId":"D"}`
	now := time.Now().Unix()

	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(body))
	req.Header.Set("time", strconv.FormatInt(now, 10))
	req.Header.Set("sign", util.Sign(body, now, "secret"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, body, w.Body.String())
}

func TestValidateSignSignsQueryOnGet(t *testing.T) {
	r := signedRouter(t)
	now := time.Now().Unix()

	req := httptest.NewRequest(http.MethodGet, "/echo?a=1", nil)
	req.Header.Set("time", strconv.FormatInt(now, 10))
	req.Header.Set("sign", util.Sign("a=1", now, "secret"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Body.String())
}

func TestValidateSignRejects(t *testing.T) {
	r := signedRouter(t)
	now := time.Now().Unix()
	body := `{}`

	cases := []struct {
		name string
		ts   string
		sign string
		code string
	}{
		{"missing sign", strconv.FormatInt(now, 10), "", `"code":601`},
		{"bad time", "abc", "x", `"code":603`},
		{"expired", strconv.FormatInt(now-600, 10), util.Sign(body, now-600, "secret"), `"code":604`},
		{"wrong key", strconv.FormatInt(now, 10), util.Sign(body, now, "other"), `"code":602`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(body))
			req.Header.Set("time", tc.ts)
			if tc.sign != "" {
				req.Header.Set("sign", tc.sign)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tc.code)
		})
	}
}
