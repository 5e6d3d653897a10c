package format

import "testing"

func TestFormat(t *testing.T) {
	tests := []struct {
		name  string
		tmpl  string
		pos   []string
		named map[string]string
		want  string
	}{
		{
			name:  "plain field",
			tmpl:  "车次 {train}",
			named: map[string]string{"train": "G1234"},
			want:  "车次 G1234",
		},
		{
			name:  "conditional present",
			tmpl:  "{owner[由 {} 所属]}",
			named: map[string]string{"owner": "东航"},
			want:  "由 东航 所属",
		},
		{
			name:  "conditional absent",
			tmpl:  "航班{owner[由 {} 所属]}执飞",
			named: map[string]string{},
			want:  "航班执飞",
		},
		{
			name: "positional with clause",
			tmpl: "{2} 次{1}班列{10[，经由{}]}",
			pos: []string{
				"", "中欧", "X8044", "", "", "", "", "", "", "", "阿拉山口",
			},
			want: "X8044 次中欧班列，经由阿拉山口",
		},
		{
			name:  "positional out of range",
			tmpl:  "{9[经由{}]}ok",
			pos:   []string{"a"},
			want:  "ok",
		},
		{
			name:  "clause without placeholder",
			tmpl:  "{done[完毕。]}",
			named: map[string]string{"done": "1"},
			want:  "完毕。",
		},
		{
			name:  "unknown named field renders empty",
			tmpl:  "a{missing}b",
			named: map[string]string{},
			want:  "ab",
		},
		{
			name: "nested field inside clause",
			tmpl: "{shpName[由{}托运{conName}的]}货物",
			named: map[string]string{
				"shpName": "某公司",
				"conName": "，发往收货方",
			},
			want: "由某公司托运，发往收货方的货物",
		},
		{
			name:  "nested clause guard fails independently",
			tmpl:  "{a[{}{b[和{}]}]}",
			named: map[string]string{"a": "甲"},
			want:  "甲",
		},
		{
			name:  "two fields one missing",
			tmpl:  "{a[A={}，]}{b[B={}。]}",
			named: map[string]string{"b": "2"},
			want:  "B=2。",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Format(tt.tmpl, tt.pos, tt.named); got != tt.want {
				t.Errorf("Format(%q) = %q, want %q", tt.tmpl, got, tt.want)
			}
		})
	}
}

func TestStripLines(t *testing.T) {
	in := `
		截至 {eventDate} 时为止，
		您查询的车辆
	`
	want := "截至 {eventDate} 时为止，您查询的车辆"
	if got := StripLines(in); got != want {
		t.Errorf("StripLines = %q, want %q", got, want)
	}
}
