package emu

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"railbot/internal/kb"
)

func routesKB() *kb.KB {
	k := kb.New()
	k.Routes["G1234"] = kb.Route{Code: "G1234/G1235", Start: "北京南", End: "上海虹桥"}
	return k
}

func TestShanghaiQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pqCode") != "PQ1234567" {
			t.Errorf("pqCode = %q", r.URL.Query().Get("pqCode"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 200,
			"data": map[string]any{
				"sku":           "PQ1234567",
				"modelTypeName": "CRH380",
				"modelType":     "A",
				"cdh":           "380A-0207",
				"coachNo":       "3",
				"coachTypeName": "二等座",
				"seatRowNo":     "12",
				"seatName":      "F",
				"trainName":     "G1234",
			},
		})
	}))
	defer srv.Close()

	k := routesKB()
	s := NewShanghai(k)
	s.Base = srv.URL
	s.httpClient = srv.Client()

	got, err := s.Query(context.Background(), "PQ1234567")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	want := "您查询的 PQ1234567 号二维码位于CRH380A 380A-0207 动车组 3 号二等座车 12 排 F 席位。" +
		"该车组正在担当由北京南站开往上海虹桥站的 G1234/G1235 次列车。"
	if got != want {
		t.Errorf("Query =\n%q\nwant\n%q", got, want)
	}

	// The unit's diagram code is learned with hyphens stripped.
	if serial, ok := k.KnownModel("380A0207"); !ok || serial != "PQ1234567" {
		t.Errorf("learned model = %q, %v", serial, ok)
	}
}

func TestShanghaiQueryDoesNotOverwriteKnownUnit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 200,
			"data": map[string]any{"cdh": "380A-0207"},
		})
	}))
	defer srv.Close()

	k := kb.New()
	k.LearnModel("380A0207", "PQ0000001")
	s := NewShanghai(k)
	s.Base = srv.URL
	s.httpClient = srv.Client()

	if _, err := s.Query(context.Background(), "PQ1234567"); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if serial, _ := k.KnownModel("380A0207"); serial != "PQ0000001" {
		t.Errorf("existing mapping was overwritten: %q", serial)
	}
}

func TestShanghaiQueryNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 404})
	}))
	defer srv.Close()

	s := NewShanghai(kb.New())
	s.Base = srv.URL
	s.httpClient = srv.Client()

	_, err := s.Query(context.Background(), "PQ7654321")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestBeijingQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		code := r.PostForm.Get("qrCode")
		wantSign := fmt.Sprintf("%x",
			md5.Sum([]byte("qrcode="+code+"&key=ltRsjkiM8IRbC80Ni1jzU5jiO6pJvbKd")))
		if r.PostForm.Get("sign") != wantSign {
			t.Errorf("sign = %q, want %q", r.PostForm.Get("sign"), wantSign)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"State": 200,
			"data": map[string]any{
				"TrainInfo": map[string]any{
					"QrCode":      code,
					"TrainId":     "CR400BF-5033",
					"CarriageNo":  "5",
					"Seatorder":   "08",
					"SeatNo":      "A",
					"TrainnoDate": "2018-06-01 09:30",
					"TrainnoId":   "G1234",
				},
			},
		})
	}))
	defer srv.Close()

	k := routesKB()
	b := NewBeijing(k)
	b.Base = srv.URL
	b.httpClient = srv.Client()

	got, err := b.Query(context.Background(), "12345000")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	want := "您查询的 12345000 号二维码位于 CR400BF-5033 号动车组 5 车 08 排 A 席位。" +
		"截至 2018-06-01 09:30 为止，该车正在担当由北京南站开往上海虹桥站的 G1234/G1235 次列车。"
	if got != want {
		t.Errorf("Query =\n%q\nwant\n%q", got, want)
	}
	if serial, ok := k.KnownModel("CR400BF5033"); !ok || serial != "12345000" {
		t.Errorf("learned model = %q, %v", serial, ok)
	}
}

func TestBeijingHeadCodeOverridesLearning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"State": 200,
			"data": map[string]any{
				"TrainInfo": map[string]any{"TrainId": "CR400BF-5033"},
			},
		})
	}))
	defer srv.Close()

	k := kb.New()
	k.LearnModel("CR400BF5033", "11111111")
	b := NewBeijing(k)
	b.Base = srv.URL
	b.httpClient = srv.Client()

	// A non-head code must not displace the recorded one.
	if _, err := b.Query(context.Background(), "22222222"); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if serial, _ := k.KnownModel("CR400BF5033"); serial != "11111111" {
		t.Errorf("non-head code overwrote mapping: %q", serial)
	}

	// A head code (ending in 000) always wins.
	if _, err := b.Query(context.Background(), "33333000"); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if serial, _ := k.KnownModel("CR400BF5033"); serial != "33333000" {
		t.Errorf("head code should overwrite, got %q", serial)
	}
}

func TestBeijingQueryNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"State": 400})
	}))
	defer srv.Close()

	b := NewBeijing(kb.New())
	b.Base = srv.URL
	b.httpClient = srv.Client()

	_, err := b.Query(context.Background(), "99999999")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestQRPatterns(t *testing.T) {
	if !ShanghaiRe.MatchString("PQ1234567") || ShanghaiRe.MatchString("PQ123456") {
		t.Error("shanghai pattern")
	}
	if !BeijingRe.MatchString("12345678") || BeijingRe.MatchString("1234567") {
		t.Error("beijing pattern")
	}
}
