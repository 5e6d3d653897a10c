// Package train12306 queries the 12306 onboard-wifi timetable API for
// live passenger train information.
package train12306

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBase is the production API prefix.
const DefaultBase = "https://wifi.12306.cn/wifiapps/ticket/api/"

// The API only answers mobile user agents.
const userAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 15_4 like Mac OS X) " +
	"AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148 " +
	"MicroMessenger/8.0.20(0x18001428) NetType/4G Language/zh_CN"

// APIError is a non-zero status reported by the API envelope.
type APIError struct {
	Message string
}

func (e *APIError) Error() string { return e.Message }

// Info summarizes one train's full run.
type Info struct {
	TrainCode    string // denormalized composite code, e.g. "G5025/8"
	TrainNo      string
	StartStation string
	EndStation   string
	Distance     string // km
	Hours        int64
	Minutes      int64
}

// Client queries the timetable API.
type Client struct {
	Base       string
	httpClient *http.Client
	now        func() time.Time
}

// New builds a client against the production endpoint.
func New() *Client {
	return &Client{
		Base:       DefaultBase,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

type stopTime struct {
	StationTrainCode string      `json:"stationTrainCode"`
	TrainNo          string      `json:"trainNo"`
	StationName      string      `json:"stationName"`
	Distance         json.Number `json:"distance"`
	TimeSpan         json.Number `json:"timeSpan"`
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.Base+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %s", path, resp.Status)
	}

	var envelope struct {
		Status int             `json:"status"`
		Error  string          `json:"error"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%s: decode: %w", path, err)
	}
	if envelope.Status != 0 {
		return &APIError{Message: envelope.Error}
	}
	if len(envelope.Data) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}

// stopTimesByTrainCode fetches today's stop list for a train code.
func (c *Client) stopTimesByTrainCode(ctx context.Context, trainCode string) ([]stopTime, error) {
	var stations []stopTime
	err := c.get(ctx, "stoptime/queryByTrainCode", url.Values{
		"getBigScreen": {"NO"},
		"trainDate":    {c.now().Format("20060102")},
		"trainCode":    {trainCode},
	}, &stations)
	return stations, err
}

// InfoByTrainCode summarizes a train's run, or returns nil when the code
// is not running today.
func (c *Client) InfoByTrainCode(ctx context.Context, trainCode string) (*Info, error) {
	stations, err := c.stopTimesByTrainCode(ctx, trainCode)
	if err != nil {
		return nil, err
	}
	if len(stations) == 0 {
		return nil, nil
	}
	start, end := stations[0], stations[len(stations)-1]

	codes := make([]string, len(stations))
	for i, s := range stations {
		codes[i] = s.StationTrainCode
	}
	span, _ := end.TimeSpan.Int64()
	minutes := span / 1000 / 60
	return &Info{
		TrainCode:    DenormalizeTrainCodes(codes),
		TrainNo:      start.TrainNo,
		StartStation: start.StationName,
		EndStation:   end.StationName,
		Distance:     end.Distance.String(),
		Hours:        minutes / 60,
		Minutes:      minutes % 60,
	}, nil
}

// DenormalizeTrainCodes folds the per-station train codes back into the
// composite form, e.g. [G5025 G5025 G5028] -> "G5025/8".
func DenormalizeTrainCodes(codes []string) string {
	var numbers []string
	var prefix, last string
	for i, code := range codes {
		if i == 0 {
			prefix = code
			last = code
			numbers = append(numbers, code)
		} else if code != last {
			prefix = commonPrefix(prefix, code)
			last = code
			numbers = append(numbers, code)
		}
	}
	suffixes := make([]string, len(numbers))
	for i, n := range numbers {
		suffixes[i] = n[len(prefix):]
	}
	return prefix + strings.Join(suffixes, "/")
}

func commonPrefix(a, b string) string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[:i]
		}
	}
	return a[:n]
}
