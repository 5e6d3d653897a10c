// Package track queries the 95306 freight tracking service. A session
// must solve one arithmetic CAPTCHA before the tracking endpoint accepts
// queries; the solved token stays valid for the life of the session.
package track

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"railbot/internal/kb"
)

// DefaultBase is the production gateway prefix.
const DefaultBase = "http://hyfw.95306.cn/gateway/hywx/TrainWebClient/"

// yzmToken is the fixed session token the web client sends alongside the
// CAPTCHA answer.
const yzmToken = "63FD155B6A364CB4BC1680C1F74B4B37"

// CarOrContainerRe matches a freight car number (7 digits) or a container
// number (4 letters + 7 digits).
var CarOrContainerRe = regexp.MustCompile(`^([A-Z]{4})?[0-9]{7}$`)

var mathsRe = regexp.MustCompile(`<input id="maths" .+? value="(.+?)" />`)

// ReasonError carries the reason string the tracking server reported for
// a rejected query, e.g. "没有满足条件的查询结果！" or "验证码错误".
type ReasonError struct {
	Reason string
}

func (e *ReasonError) Error() string { return e.Reason }

// ErrNoResult means the query succeeded but returned an empty record set.
var ErrNoResult = &ReasonError{Reason: "没有满足条件的查询结果！"}

// CaptchaSolver decodes a CAPTCHA image into its answer string.
type CaptchaSolver func(image []byte) (string, error)

// Gateway is one tracking session. Calls are expected to be serialized by
// the dispatcher, matching the one-query-at-a-time session semantics of
// the upstream service.
type Gateway struct {
	base      string
	client    *http.Client
	mathsid   string
	checkCode string
}

// New bootstraps a session: it loads the query page and scrapes the
// per-session maths id the CAPTCHA endpoints require.
func New(ctx context.Context, base string) (*Gateway, error) {
	if base == "" {
		base = DefaultBase
	}
	g := &Gateway{
		base:   strings.TrimRight(base, "/") + "/",
		client: &http.Client{Timeout: 10 * time.Second},
	}
	body, err := g.get(ctx, "hwzzPage.action", nil)
	if err != nil {
		return nil, fmt.Errorf("bootstrap session: %w", err)
	}
	m := mathsRe.FindSubmatch(body)
	if m == nil {
		return nil, fmt.Errorf("bootstrap session: maths id not found")
	}
	g.mathsid = string(m[1])
	return g, nil
}

func (g *Gateway) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := g.base + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %s", path, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// LoadCaptcha fetches the current CAPTCHA image for this session.
func (g *Gateway) LoadCaptcha(ctx context.Context) ([]byte, error) {
	return g.get(ctx, "security/jcaptcha.jpg", url.Values{
		"math":   {"0"},
		"update": {g.mathsid},
	})
}

// FillCaptcha records the recognized CAPTCHA answer for later queries.
func (g *Gateway) FillCaptcha(answer string) {
	g.checkCode = answer
}

// Authenticate solves the session CAPTCHA with the given solver and
// verifies the answer with a throwaway query.
func (g *Gateway) Authenticate(ctx context.Context, solve CaptchaSolver) error {
	image, err := g.LoadCaptcha(ctx)
	if err != nil {
		return fmt.Errorf("load captcha: %w", err)
	}
	answer, err := solve(image)
	if err != nil {
		return fmt.Errorf("solve captcha: %w", err)
	}
	g.FillCaptcha(answer)
	if _, err := g.TrackCar(ctx, "0000000"); err != nil {
		// The probe car does not exist; an empty result set still proves
		// the CAPTCHA was accepted.
		var re *ReasonError
		if errors.As(err, &re) && re.Reason == ErrNoResult.Reason {
			return nil
		}
		return err
	}
	return nil
}

// track submits one query. Every form key carries the "hwzz." namespace
// prefix expected by the endpoint.
func (g *Gateway) track(ctx context.Context, fields map[string]string) (kb.Trace, error) {
	form := url.Values{
		"mathsid":    {g.mathsid},
		"hwzz.yzm":   {yzmToken},
		"check_code": {g.checkCode},
	}
	for k, v := range fields {
		form.Set("hwzz."+k, v)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.base+"hwzz_uouii.action", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var envelope struct {
		Success bool             `json:"success"`
		Message string           `json:"message"`
		Msg     string           `json:"msg"`
		Object  []map[string]any `json:"object"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode tracking response: %w", err)
	}
	if !envelope.Success {
		reason := envelope.Message
		if reason == "" {
			reason = envelope.Msg
		}
		return nil, &ReasonError{Reason: reason}
	}
	if len(envelope.Object) == 0 {
		return nil, ErrNoResult
	}
	return toTrace(envelope.Object[0]), nil
}

// toTrace stringifies the record values; templating only works on strings.
func toTrace(record map[string]any) kb.Trace {
	trace := make(kb.Trace, len(record))
	for k, v := range record {
		switch x := v.(type) {
		case string:
			trace[k] = x
		case float64:
			trace[k] = formatNumber(x)
		case bool:
			trace[k] = fmt.Sprintf("%v", x)
		case nil:
			trace[k] = ""
		default:
			trace[k] = fmt.Sprintf("%v", x)
		}
	}
	return trace
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

// TrackCar queries a rail shipment by car number.
func (g *Gateway) TrackCar(ctx context.Context, carNo string) (kb.Trace, error) {
	return g.track(ctx, map[string]string{
		"type":  "1",
		"carNo": carNo,
		"hph":   "",
	})
}

// TrackContainer queries a rail shipment by container number. The four
// letter owner code and the digit serial are separate form fields.
func (g *Gateway) TrackContainer(ctx context.Context, containerNo string) (kb.Trace, error) {
	if len(containerNo) < 4 {
		return nil, &ReasonError{Reason: "没有满足条件的查询结果！"}
	}
	return g.track(ctx, map[string]string{
		"type": "5",
		"xz":   containerNo[:4],
		"xh":   containerNo[4:],
	})
}
