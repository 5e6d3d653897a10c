package track

import (
	"strings"
	"unicode"

	"railbot/internal/format"
	"railbot/internal/kb"
)

// fieldAliases copies legacy response fields into the names the reply
// template uses when the canonical field is empty. Order matters: the
// consignor name prefers tyrName over conName.
var fieldAliases = [][2]string{
	{"fz", "cdyStation"},
	{"dz", "destStation"},
	{"pm", "cdyName"},
	{"xh", "carNo"},
	{"tyrName", "shpName"},
	{"conName", "shpName"},
	{"wbID", "wbNbr"},
}

const explainTemplate = `
	截至 {eventDate} 时为止，您查询的{shpName[由{}托运{conName}的]}
	{carNo[ {} 号]}{carType[ {} 型]}{carKind}
	{cdyStation[已从{cdyAdm}{}站发出，]}
	{destStation[前往{destAdm}{}站，]}%s{cdyName[。该车]}
	{train[现被编入{}]}{trainOrder[机后第 {} 位]}{train[，]}
	目前已{arrDep}{eventProvince[位于{}{eventCity}的]}
	{eventAdm}{eventStation}站
	{dzlc[，距离终点站{destStation}站还有 {} km]}。
`

// Explain renders a tracking record as a reply message. The record is
// modified in place: null-ish values are blanked, legacy fields are
// folded into their template names, and derived fields are added.
func Explain(info kb.Trace) string {
	for k, v := range info {
		v = strings.TrimRightFunc(v, unicode.IsSpace)
		if v == "0" || v == "-1" || v == "发货人" {
			v = ""
		}
		info[k] = v
	}
	for _, alias := range fieldAliases {
		if info[alias[1]] == "" {
			info[alias[1]] = info[alias[0]]
		}
	}

	if info["conName"] == info["shpName"] {
		info["conName"] = ""
	} else if info["conName"] != "" {
		info["conName"] = "，发往" + info["conName"]
	}

	if info["xh"] != "" {
		info["carKind"] = "集装箱"
		if info["cdyName"] != "" {
			info["carLE"] = "L"
		} else {
			info["carLE"] = "E"
		}
	} else if strings.HasPrefix(info["carType"], info["carKind"]) {
		info["carKind"] = "车辆"
	}

	var status string
	switch {
	case info["cdyName"] == "":
		status = ""
	case info["carLE"] == "L":
		status = "负责运送{wbNbr[单号为 {} 的]}{cdyName}"
		if endsWithDigit(info["cdyName"]) {
			info["cdyName"] += "型集装箱"
		}
	default:
		status = "当前状态为{cdyName}{wbNbr[，运单号为 {}]}"
		if strings.HasSuffix(info["cdyName"], "空") {
			info["cdyName"] += "车"
		}
	}

	if info["trainId"] != "" {
		info["train"] = " " + info["trainId"] + " 次列车"
	}

	info["arrDep"] = arrDep(info["xt"], info["arrDepId"])

	tmpl := strings.Replace(explainTemplate, "%s", status, 1)
	return format.Format(format.StripLines(tmpl), nil, map[string]string(info))
}

// arrDep derives the arrived/departed verb from the station flag and the
// event code, defaulting to "arrived".
func arrDep(xt, arrDepID string) string {
	switch xt {
	case "在站":
		return "到达"
	case "在途":
		return "离开"
	case "":
		switch arrDepID {
		case "A":
			return "到达"
		case "D":
			return "离开"
		}
	}
	return "到达"
}

func endsWithDigit(s string) bool {
	if s == "" {
		return false
	}
	c := s[len(s)-1]
	return c >= '0' && c <= '9'
}
