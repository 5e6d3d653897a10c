package flight

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"railbot/internal/format"
)

// DefaultWinskyBase is the aircraft registry lookup endpoint.
const DefaultWinskyBase = "http://winskywebapp.vipsinaapp.com/winsky/index.php/home/PlaneInfo/getById?parameter="

// winskyRowRe matches one label/value cell pair of the registry table.
var winskyRowRe = regexp.MustCompile(`<td><b>([^<]+)</b></td>\s+<td>([^<]*)</td>`)

// Aircraft is one registry record, keyed by the page's Chinese labels.
type Aircraft map[string]string

// Winsky scrapes the winsky aircraft registry.
type Winsky struct {
	Base       string
	httpClient *http.Client
}

// NewWinsky builds a registry client.
func NewWinsky() *Winsky {
	return &Winsky{
		Base:       DefaultWinskyBase,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Lookup fetches all registry records matching a registration number.
// The page lays records out as consecutive ten-row attribute tables.
func (w *Winsky) Lookup(ctx context.Context, registration string) ([]Aircraft, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		w.Base+registration, nil)
	if err != nil {
		return nil, err
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	page := strings.ReplaceAll(string(body), ",", "，")
	matches := winskyRowRe.FindAllStringSubmatch(page, -1)
	var records []Aircraft
	for i := 0; i+10 <= len(matches); i += 10 {
		record := make(Aircraft, 10)
		for _, m := range matches[i : i+10] {
			record[m[1]] = m[2]
		}
		records = append(records, record)
	}
	return records, nil
}

const winskyTemplate = `
	{注册号} 的机型为 {机型}，{串号[串号为 {}，]}
	{发动机型号[采用 {} 发动机。该飞机]}
	{隶属[隶属于{}，]}{首次交付[于{}首次交付，]}
	{引进日期[于{}引入]}{运营机构[{}运营，]}
	{状态[目前状态为{}。]}{备注[{}。]}
`

// Describe renders the record whose registration matches exactly, or
// found=false when no record does.
func Describe(registration string, records []Aircraft) (string, bool) {
	for _, aircraft := range records {
		if aircraft["注册号"] != registration {
			continue
		}
		for _, key := range []string{"首次交付", "引进日期"} {
			aircraft[key] = chineseDate(aircraft[key])
		}
		// The status often repeats inside the remarks field.
		if aircraft["状态"] != "" && strings.Contains(aircraft["备注"], aircraft["状态"]) {
			delete(aircraft, "状态")
		}
		rendered := format.Format(strings.TrimSpace(winskyTemplate), nil, aircraft)
		return format.StripLines(rendered), true
	}
	return "", false
}

// chineseDate rewrites "2015-06-12" as "2015年06月12日".
func chineseDate(s string) string {
	if !strings.Contains(s, "-") {
		return s
	}
	units := []string{"年", "月", "日"}
	var b strings.Builder
	for i, part := range strings.Split(s, "-") {
		if i >= len(units) {
			break
		}
		b.WriteString(part)
		b.WriteString(units[i])
	}
	return b.String()
}
