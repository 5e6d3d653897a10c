package flight

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newFlightServer(t *testing.T, flights []map[string]any, owner string) *Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/FlightInfoStatus", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "user" || pass != "key" {
			http.Error(w, "auth", http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("howMany") != "1" {
			t.Errorf("howMany = %q", r.URL.Query().Get("howMany"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"FlightInfoStatusResult": map[string]any{"flights": flights},
		})
	})
	mux.HandleFunc("/TailOwner", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"TailOwnerResult": map[string]any{"owner": owner},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := New("user", "key", map[string]string{"PEK": "北京首都"})
	c.Base = srv.URL + "/"
	c.httpClient = srv.Client()
	c.loc = time.UTC
	return c
}

func TestStatus(t *testing.T) {
	c := newFlightServer(t, []map[string]any{{
		"airline_name":       "中国国际",
		"airline_iata":       "CA",
		"flightnumber":       "1234",
		"tailnumber":         "B-1234",
		"full_aircrafttype":  "B738",
		"filed_ete":          7200,
		"filed_airspeed_kts": 460,
		"filed_altitude":     350,
		"origin": map[string]any{
			"airport_name":    "Beijing Capital Int'l",
			"alternate_ident": "PEK",
			"code":            "ZBAA",
			"terminal":        "3",
		},
		"destination": map[string]any{
			"airport_name":    "Hongqiao",
			"alternate_ident": "SHA",
			"code":            "ZSSS",
		},
		"filed_departure_time": map[string]any{"epoch": 1514800800, "tz": "CST"},
		"filed_arrival_time":   map[string]any{"epoch": 1514808000, "tz": "CST"},
	}}, "Air China")

	got, found, err := c.Status(context.Background(), "CA1234")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !found {
		t.Fatal("expected a flight")
	}
	want := "中国国际航空公司 CA 1234 航班，" +
		"由北京首都（PEK，ZBAA）T3 航站楼出发，飞往 Hongqiao（SHA，ZSSS）。" +
		"航班由 Air China 所属 B738 型飞机 B-1234 执飞" +
		"；预定于 2018-01-01 10:00:00 CST 起飞，2018-01-01 12:00:00 CST 降落" +
		"，飞行时间 02:00，航速 460 节，高度 350 英尺。"
	if got != want {
		t.Errorf("Status =\n%q\nwant\n%q", got, want)
	}
}

func TestStatusUnknownIdent(t *testing.T) {
	c := newFlightServer(t, nil, "")
	_, found, err := c.Status(context.Background(), "XX999X")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if found {
		t.Error("no flights should mean not found")
	}
}

func TestStatusIgnoresUnknownOwner(t *testing.T) {
	c := newFlightServer(t, []map[string]any{{
		"flightnumber": "88",
		"airline_iata": "ZH",
	}}, "Unknown Owner")
	got, found, err := c.Status(context.Background(), "ZH88")
	if err != nil || !found {
		t.Fatalf("Status: %v, %v", err, found)
	}
	if want := "ZH 88 航班，由出发，飞往。航班由飞机执飞。"; got != want {
		t.Errorf("Status = %q, want %q", got, want)
	}
}

func TestIdentRe(t *testing.T) {
	valid := []string{"CA1234", "B6198A", "CSN3456"}
	invalid := []string{"1234", "B1234", "G1234X?"}
	for _, s := range valid {
		if !IdentRe.MatchString(s) {
			t.Errorf("%q should match", s)
		}
	}
	for _, s := range invalid {
		if IdentRe.MatchString(s) {
			t.Errorf("%q should not match", s)
		}
	}
}

const winskyRecord = `
<table>
<tr><td><b>注册号</b></td>
<td>%s</td></tr>
<tr><td><b>机型</b></td>
<td>A320-214</td></tr>
<tr><td><b>串号</b></td>
<td>4568</td></tr>
<tr><td><b>发动机型号</b></td>
<td>CFM56-5B4</td></tr>
<tr><td><b>隶属</b></td>
<td>中国东方航空</td></tr>
<tr><td><b>首次交付</b></td>
<td>2011-05-20</td></tr>
<tr><td><b>引进日期</b></td>
<td>2011-05</td></tr>
<tr><td><b>运营机构</b></td>
<td>东航</td></tr>
<tr><td><b>状态</b></td>
<td>%s</td></tr>
<tr><td><b>备注</b></td>
<td>%s</td></tr>
</table>
`

func TestWinskyLookupAndDescribe(t *testing.T) {
	page := "<html>" +
		record("B-6666", "在役", "无") +
		record("B-1234", "在役", "无") +
		"</html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("parameter") != "B-1234" {
			t.Errorf("parameter = %q", r.URL.Query().Get("parameter"))
		}
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	w := NewWinsky()
	w.Base = srv.URL + "/?parameter="
	w.httpClient = srv.Client()

	records, err := w.Lookup(context.Background(), "B-1234")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records", len(records))
	}

	got, found := Describe("B-1234", records)
	if !found {
		t.Fatal("expected a match")
	}
	want := "B-1234 的机型为 A320-214，串号为 4568，采用 CFM56-5B4 发动机。" +
		"该飞机隶属于中国东方航空，于2011年05月20日首次交付，于2011年05月引入东航运营，" +
		"目前状态为在役。无。"
	if got != want {
		t.Errorf("Describe =\n%q\nwant\n%q", got, want)
	}
}

func TestDescribeDropsStatusRepeatedInRemarks(t *testing.T) {
	records := []Aircraft{{
		"注册号": "B-1234",
		"机型":  "A320-214",
		"状态":  "在役",
		"备注":  "目前在役",
	}}
	got, found := Describe("B-1234", records)
	if !found {
		t.Fatal("expected a match")
	}
	want := "B-1234 的机型为 A320-214，目前在役。"
	if got != want {
		t.Errorf("Describe = %q, want %q", got, want)
	}
}

func TestDescribeNoMatchingRegistration(t *testing.T) {
	records := []Aircraft{{"注册号": "B-9999"}}
	if _, found := Describe("B-1234", records); found {
		t.Error("registration mismatch must not describe")
	}
}

func record(reg, status, remarks string) string {
	return fmt.Sprintf(winskyRecord, reg, status, remarks)
}
