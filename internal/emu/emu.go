// Package emu resolves the seat QR codes printed in CR Shanghai and
// CR Beijing electric multiple units. Every successful lookup teaches
// the knowledge base which unit the code belongs to.
package emu

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"railbot/internal/format"
	"railbot/internal/kb"
)

// ErrNotFound means the service does not know the QR code.
var ErrNotFound = errors.New("unknown qr code")

// ShanghaiRe matches a CR Shanghai seat QR code.
var ShanghaiRe = regexp.MustCompile(`^PQ\d{7}$`)

// BeijingRe matches a CR Beijing seat QR code.
var BeijingRe = regexp.MustCompile(`^\d{8}$`)

var trainNoPrefixRe = regexp.MustCompile(`^[A-Z][0-9]+`)

// trainPhrase names the train a unit is serving, preferring the full
// route description when the train code is known.
func trainPhrase(k *kb.KB, code, fallback string) string {
	if route, ok := k.LookupRoute(code); ok {
		return fmt.Sprintf("由%s站开往%s站的 %s 次", route.Start, route.End, route.Code)
	}
	if fallback != "" {
		return fmt.Sprintf(" %s 次", fallback)
	}
	return ""
}

func stringify(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch x := v.(type) {
		case string:
			out[k] = x
		case float64:
			if x == float64(int64(x)) {
				out[k] = fmt.Sprintf("%d", int64(x))
			} else {
				out[k] = fmt.Sprintf("%g", x)
			}
		case nil:
			out[k] = ""
		default:
			out[k] = fmt.Sprintf("%v", x)
		}
	}
	return out
}

// Shanghai queries the CR Shanghai QR resolver.
type Shanghai struct {
	Base       string
	KB         *kb.KB
	httpClient *http.Client
}

// DefaultShanghaiBase is the production resolver endpoint.
const DefaultShanghaiBase = "https://g.xiuxiu365.cn/railway_api/web/index/train"

// NewShanghai builds a resolver backed by the given knowledge base.
func NewShanghai(k *kb.KB) *Shanghai {
	return &Shanghai{
		Base:       DefaultShanghaiBase,
		KB:         k,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

const shanghaiTemplate = `
	您查询的 {sku} 号二维码位于{modelTypeName}{modelType} {cdh} 动车
	组 {coachNo} {coachTypeName[号{}]}车 {seatRowNo} 排 {seatName} 席位。
	{train[该车组正在担当{}列车。]}
`

// Query resolves one PQ code into a seat description. The unit's coach
// diagram code is learned as a known model unless already recorded.
func (s *Shanghai) Query(ctx context.Context, code string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.Base+"?"+url.Values{"pqCode": {code}}.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	var envelope struct {
		Code int            `json:"code"`
		Data map[string]any `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", err
	}
	if envelope.Code != 200 {
		return "", ErrNotFound
	}
	info := stringify(envelope.Data)

	unit := strings.ReplaceAll(info["cdh"], "-", "")
	if unit != "" {
		s.KB.LearnModelIfAbsent(unit, code)
	}

	if trainName := info["trainName"]; trainName != "" {
		info["train"] = trainPhrase(s.KB, trainNoPrefixRe.FindString(trainName), trainName)
	}
	return format.Format(format.StripLines(shanghaiTemplate), []string{code}, info), nil
}

// Beijing queries the CR Beijing QR resolver.
type Beijing struct {
	Base       string
	KB         *kb.KB
	httpClient *http.Client
}

// DefaultBeijingBase is the production resolver endpoint.
const DefaultBeijingBase = "https://aymaoto.jtlf.cn/webapi/otoshopping/ewh_getqrcodetrainnoinfo"

const beijingSignKey = "ltRsjkiM8IRbC80Ni1jzU5jiO6pJvbKd"

// NewBeijing builds a resolver backed by the given knowledge base.
func NewBeijing(k *kb.KB) *Beijing {
	return &Beijing{
		Base:       DefaultBeijingBase,
		KB:         k,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

const beijingTemplate = `
	您查询的 {QrCode} 号二维码位于 {TrainId} 号动车
	组 {CarriageNo} 车 {Seatorder} 排 {SeatNo} 席位。
	{TrainnoDate[截至 {} 为止，]}
	{train[该车正在担当{}列车]}。
`

// Query resolves one eight-digit code into a seat description. Codes
// ending in 000 mark the head of a unit and override earlier learning.
func (b *Beijing) Query(ctx context.Context, code string) (string, error) {
	signature := fmt.Sprintf("qrcode=%s&key=%s", code, beijingSignKey)
	form := url.Values{
		"qrCode": {code},
		"sign":   {fmt.Sprintf("%x", md5.Sum([]byte(signature)))},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.Base, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	var envelope struct {
		State int `json:"State"`
		Data  struct {
			TrainInfo map[string]any `json:"TrainInfo"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", err
	}
	if envelope.State == 400 {
		return "", ErrNotFound
	}
	info := stringify(envelope.Data.TrainInfo)

	unit := strings.ReplaceAll(info["TrainId"], "-", "")
	if _, known := b.KB.KnownModel(unit); !known || strings.HasSuffix(code, "000") {
		b.KB.LearnModel(unit, code)
	}

	trainNo := info["TrainnoId"]
	info["train"] = trainPhrase(b.KB, trainNo, trainNo)
	return format.Format(format.StripLines(beijingTemplate), nil, info), nil
}
