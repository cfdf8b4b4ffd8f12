package middleware

import (
	"bytes"
	"io"
	"io/ioutil"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"server-commission-app/internal/pkg/generr"
	"server-commission-app/internal/pkg/util"
)

const timeout = 60

type MultipleReader interface {
	Reader() io.ReadCloser
}

type myMultipleReader struct {
	data []byte
}

func newMultipleReader(reader io.Reader) (MultipleReader, error) {
	var data []byte
	var err error
	if reader != nil {
		data, err = ioutil.ReadAll(reader)
		if err != nil {
			return nil, err
		}
	} else {
		data = []byte{}
	}
	return &myMultipleReader{
		data: data,
	}, nil
}

func (m *myMultipleReader) Reader() io.ReadCloser {
	return ioutil.NopCloser(bytes.NewReader(m.data))
}

// ValidateSign checks sign = md5(body + time + key). The body is restored for
// the handlers.
func ValidateSign(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		signCode := c.GetHeader("sign")
		if signCode == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, generr.SignMiss)
			return
		}

		tUnix, err := strconv.ParseInt(c.GetHeader("time"), 10, 64)
		if err != nil {
			log.Errorf("err: %+v", errors.Wrap(err, "parse timestamp"))
			c.AbortWithStatusJSON(http.StatusBadRequest, generr.TimestampErr)
			return
		}
		if d := time.Now().Unix() - tUnix; d > timeout || d < -timeout {
			c.AbortWithStatusJSON(http.StatusBadRequest, generr.TimestampOut)
			return
		}

		multipleReader, err := newMultipleReader(c.Request.Body)
		if err != nil {
			log.Errorf("err: %+v", errors.Wrap(err, "new multipleReader"))
			c.AbortWithStatusJSON(http.StatusInternalServerError, generr.ServerError)
			return
		}
		body, _ := ioutil.ReadAll(multipleReader.Reader())
		c.Request.Body = multipleReader.Reader()

		// GET requests sign their raw query
		payload := string(body)
		if c.Request.Method == http.MethodGet {
			payload = c.Request.URL.RawQuery
		}
		if util.Sign(payload, tUnix, key) != signCode {
			log.Infof("sign not match, path: %s, signCode: %s", c.Request.URL.Path, signCode)
			c.AbortWithStatusJSON(http.StatusBadRequest, generr.SignNotMatch)
			return
		}
		c.Next()
	}
}
