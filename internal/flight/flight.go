// Package flight looks up flight status via the FlightAware FlightXML
// API and civil aircraft registrations via the winsky registry.
package flight

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"railbot/internal/format"
)

// DefaultBase is the FlightXML3 endpoint prefix.
const DefaultBase = "http://flightxml.flightaware.com/json/FlightXML3/"

// IdentRe matches a plausible flight ident: alphanumeric with at least
// one letter beyond the first position.
var IdentRe = regexp.MustCompile(`^[A-Z\d]+[A-Z][A-Z\d]+$`)

// Client queries FlightXML with HTTP basic auth. Airports maps IATA
// codes to display names used to enrich the origin/destination fields.
type Client struct {
	Base     string
	Username string
	APIKey   string
	Airports map[string]string

	httpClient *http.Client
	loc        *time.Location
}

// New builds a client with the given credentials.
func New(username, apiKey string, airports map[string]string) *Client {
	return &Client{
		Base:       DefaultBase,
		Username:   username,
		APIKey:     apiKey,
		Airports:   airports,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		loc:        time.Local,
	}
}

type apiTime struct {
	Epoch int64  `json:"epoch"`
	Tz    string `json:"tz"`
}

type apiAirport struct {
	AirportName    string `json:"airport_name"`
	AlternateIdent string `json:"alternate_ident"`
	Code           string `json:"code"`
	Terminal       string `json:"terminal"`
}

type flightStatus struct {
	AirlineName      string      `json:"airline_name"`
	AirlineIata      string      `json:"airline_iata"`
	FlightNumber     string      `json:"flightnumber"`
	Tailnumber       string      `json:"tailnumber"`
	FullAircraftType string      `json:"full_aircrafttype"`
	Route            string      `json:"route"`
	FiledEte         int64       `json:"filed_ete"`
	FiledAirspeedKts json.Number `json:"filed_airspeed_kts"`
	FiledAltitude    json.Number `json:"filed_altitude"`
	Origin           *apiAirport `json:"origin"`
	Destination      *apiAirport `json:"destination"`
	FiledDeparture   *apiTime    `json:"filed_departure_time"`
	ActualDeparture  *apiTime    `json:"actual_departure_time"`
	FiledArrival     *apiTime    `json:"filed_arrival_time"`
	ActualArrival    *apiTime    `json:"actual_arrival_time"`
}

func (c *Client) call(ctx context.Context, method string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.Base+method+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.Username, c.APIKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %s", method, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", method, err)
	}
	return nil
}

const statusTemplate = `
	{airline_name[{}航空公司 ]}
	{flightnumber[{airline_iata} {} ]}航班，
	由{origin}出发，飞往{destination}。
	航班由{tail_owner[ {} 所属]}
	{full_aircrafttype[ {} 型]}飞机{tailnumber[ {} ]}执飞
	{filed_departure_time[；预定于 {} 起飞]}
	{filed_arrival_time[，{} 降落]}
	{filed_ete[，飞行时间 {}]}
	{filed_airspeed_kts[，航速 {} 节]}
	{filed_altitude[，高度 {} 英尺]}
	{actual_departure_time[；实际于 {} 起飞]}
	{actual_arrival_time[，{} 降落]}。
	{route[航路 {}。]}
`

// Status returns a rendered status message for a flight ident, or
// found=false when the ident is unknown to the API.
func (c *Client) Status(ctx context.Context, ident string) (string, bool, error) {
	var envelope struct {
		Result struct {
			Flights []flightStatus `json:"flights"`
		} `json:"FlightInfoStatusResult"`
	}
	err := c.call(ctx, "FlightInfoStatus", url.Values{
		"ident":   {ident},
		"howMany": {"1"},
	}, &envelope)
	if err != nil {
		return "", false, err
	}
	if len(envelope.Result.Flights) == 0 {
		return "", false, nil
	}
	info := envelope.Result.Flights[0]

	fields := map[string]string{
		"airline_name":       info.AirlineName,
		"airline_iata":       info.AirlineIata,
		"flightnumber":       info.FlightNumber,
		"tailnumber":         info.Tailnumber,
		"full_aircrafttype":  info.FullAircraftType,
		"route":              info.Route,
		"filed_airspeed_kts": nonZero(info.FiledAirspeedKts),
		"filed_altitude":     nonZero(info.FiledAltitude),
		"tail_owner":         c.tailOwner(ctx, ident),
		"origin":             c.describeAirport(info.Origin),
		"destination":        c.describeAirport(info.Destination),
	}
	if info.FiledEte > 0 {
		minutes := info.FiledEte / 60
		fields["filed_ete"] = fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
	}
	c.putTime(fields, "filed_departure_time", info.FiledDeparture)
	c.putTime(fields, "actual_departure_time", info.ActualDeparture)
	c.putTime(fields, "filed_arrival_time", info.FiledArrival)
	c.putTime(fields, "actual_arrival_time", info.ActualArrival)

	return format.Format(format.StripLines(statusTemplate), nil, fields), true, nil
}

// tailOwner resolves the registered owner of the airframe; lookup
// failures just leave the field out of the reply.
func (c *Client) tailOwner(ctx context.Context, ident string) string {
	var envelope struct {
		Result struct {
			Owner string `json:"owner"`
		} `json:"TailOwnerResult"`
	}
	err := c.call(ctx, "TailOwner", url.Values{"ident": {ident}}, &envelope)
	if err != nil {
		return ""
	}
	owner := html.UnescapeString(envelope.Result.Owner)
	if owner == "" || owner == "Unknown Owner" {
		return ""
	}
	return strings.ReplaceAll(owner, `""`, "")
}

// describeAirport renders an airport as name（IATA，ICAO）with the
// optional terminal, preferring the local display name table.
func (c *Client) describeAirport(a *apiAirport) string {
	if a == nil {
		return ""
	}
	name, ok := c.Airports[a.AlternateIdent]
	if !ok {
		name = " " + a.AirportName
	}
	return format.Format("{name}（{alternate_ident}，{code}）{terminal[T{} 航站楼]}", nil,
		map[string]string{
			"name":            name,
			"alternate_ident": a.AlternateIdent,
			"code":            a.Code,
			"terminal":        a.Terminal,
		})
}

func (c *Client) putTime(fields map[string]string, key string, t *apiTime) {
	if t == nil || t.Epoch == 0 {
		return
	}
	local := time.Unix(t.Epoch, 0).In(c.loc)
	fields[key] = local.Format("2006-01-02 15:04:05") + " " + t.Tz
}

func nonZero(n json.Number) string {
	s := n.String()
	if s == "" || s == "0" {
		return ""
	}
	return s
}
