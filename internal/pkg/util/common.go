package util

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Sign md5(body + timestamp + key), shared by inbound validation and outbound callbacks.
func Sign(body string, timestamp int64, key string) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s%d%s", body, timestamp, key)))
	return hex.EncodeToString(sum[:])
}

// PostSigned posts a json body with time/sign headers, retrying up to
// attempts times with a growing pause. It gives up once ctx is done.
func PostSigned(ctx context.Context, client *http.Client, url, body, key string, attempts int) (err error) {
	if client == nil {
		client = http.DefaultClient
	}
	if attempts <= 0 {
		attempts = 3
	}
	var rsp *http.Response
	for i := 1; i <= attempts; i++ {
		var (
			req     *http.Request
			nowTime = time.Now().Unix()
		)
		req, err = http.NewRequestWithContext(ctx, "POST", url, strings.NewReader(body))
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("new request url %s", url))
		}
		req.Header.Set("time", fmt.Sprintf("%d", nowTime))
		req.Header.Set("sign", Sign(body, nowTime, key))
		req.Header.Set("content-type", "application/json")

		rsp, err = client.Do(req)
		if err == nil && rsp.StatusCode == http.StatusOK {
			rsp.Body.Close()
			return nil
		}
		if i < attempts {
			if rsp != nil {
				rsp.Body.Close()
			}
			select {
			case <-ctx.Done():
				return errors.Wrapf(ctx.Err(), "post [%s]", url)
			case <-time.After(time.Duration(i) * 100 * time.Millisecond):
			}
		}
	}
	if err != nil {
		return errors.Wrapf(err, "post [%s]", url)
	}

	// 获取状态码非200原因
	rspBody, _ := ioutil.ReadAll(rsp.Body)
	rsp.Body.Close()

	type Result struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	var res Result
	_ = json.Unmarshal(rspBody, &res)
	return errors.Wrap(fmt.Errorf("post [%s] response code is [%d]", url, rsp.StatusCode), res.Msg)
}
