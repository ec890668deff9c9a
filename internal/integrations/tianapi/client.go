package tianapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/BearBump/KuaidiBox/internal/models"
	"github.com/pkg/errors"
)

const (
	DefaultBaseURL = "https://apis.tianapi.com/kuaidi/index"
	DefaultTimeout = 10 * time.Second

	codeOK = 200
)

type Client struct {
	baseURL string
	timeout time.Duration
	httpc   *http.Client
}

func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		timeout: DefaultTimeout,
		httpc:   &http.Client{},
	}
}

func (c *Client) WithTimeout(d time.Duration) *Client {
	if d > 0 {
		c.timeout = d
	}
	return c
}

type kuaidiResp struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Result struct {
		Status       int    `json:"status"`
		KuaidiName   string `json:"kuaidiname"`
		EnKuaidiName string `json:"enkuaidiname"`
		Telephone    string `json:"telephone"`
		UpdateTime   string `json:"updatetime"`
		List         []struct {
			Time    string `json:"time"`
			Content string `json:"content"`
			Address string `json:"address"`
		} `json:"list"`
	} `json:"result"`
}

// Fetch issues one GET for q and maps the payload to a snapshot.
// A cancelled ctx yields the context error, never a NetworkError.
func (c *Client) Fetch(ctx context.Context, q models.TrackingQuery) (models.TrackingSnapshot, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return models.TrackingSnapshot{}, errors.Wrap(err, "parse base url")
	}
	v := u.Query()
	v.Set("key", q.APIKey)
	v.Set("number", q.TrackingNumber)
	u.RawQuery = v.Encode()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return models.TrackingSnapshot{}, errors.Wrap(err, "new request")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return models.TrackingSnapshot{}, c.classify(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return models.TrackingSnapshot{}, &models.NetworkError{StatusCode: resp.StatusCode}
	}

	var r kuaidiResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		if ctx.Err() != nil || reqCtx.Err() != nil {
			return models.TrackingSnapshot{}, c.classify(ctx, reqCtx.Err())
		}
		return models.TrackingSnapshot{}, &models.NetworkError{Err: errors.Wrap(err, "decode")}
	}
	if r.Code != codeOK {
		msg := r.Msg
		if msg == "" {
			msg = "Unknown error"
		}
		return models.TrackingSnapshot{}, &models.VendorError{Code: r.Code, Message: msg}
	}

	snap := models.TrackingSnapshot{
		StatusCode:       r.Result.Status,
		CarrierName:      r.Result.KuaidiName,
		CarrierNameEn:    r.Result.EnKuaidiName,
		Phone:            r.Result.Telephone,
		LastVendorUpdate: r.Result.UpdateTime,
		Events:           make([]models.TrackingEvent, 0, len(r.Result.List)),
	}
	for _, e := range r.Result.List {
		snap.Events = append(snap.Events, models.TrackingEvent{
			Time:     e.Time,
			Location: e.Address,
			Content:  e.Content,
		})
	}
	return snap, nil
}

func (c *Client) classify(parent context.Context, err error) error {
	if parent.Err() != nil {
		return errors.Wrap(parent.Err(), "fetch abandoned")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &models.TimeoutError{After: c.timeout, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &models.TimeoutError{After: c.timeout, Err: err}
	}
	return &models.NetworkError{Err: errors.Wrap(err, "do request")}
}
