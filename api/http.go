package api

import (
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	jsoniter "github.com/json-iterator/go"
)

const (
	// DefaultTimeout bounds a single remote call.
	DefaultTimeout = 10 * time.Second

	maxConns = 10
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func makeClient(baseURL string, timeout time.Duration) *resty.Client {
	return resty.
		NewWithClient(&http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxConnsPerHost:     maxConns,
				MaxIdleConnsPerHost: maxConns,
			},
		}).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetBaseURL(baseURL)
}
