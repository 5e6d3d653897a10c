package dispatch

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"railbot/internal/category"
	"railbot/internal/emu"
	"railbot/internal/flight"
	"railbot/internal/format"
	"railbot/internal/kb"
	"railbot/internal/track"
	"railbot/internal/train12306"
)

// banDuration is how long an abusive member stays muted.
const banDuration = 5 * time.Minute

var (
	leadingJunkRe   = regexp.MustCompile(`^[^\p{L}\p{N}_]+`)
	trailingSpaceRe = regexp.MustCompile(`\s+$`)
)

// greetingFilter answers preset keywords. A message with no keyword and
// no identifiers gets one last chance as a whole-message wiki lookup
// before the fallback greeting is used.
func (e *Engine) greetingFilter(ctx context.Context, c *msgContext) Outcome {
	responses, matched := e.Config.Greetings.Match(c.ev.RawMessage)
	if !matched {
		if c.ids.Len() > 0 {
			return Pass
		}
		if out := e.abuseFilter(ctx, c); out != Pass {
			return out
		}
		if e.wikiFilter(ctx, c, c.message) == Handled {
			return Handled
		}
		var ok bool
		responses, ok = e.Config.Greetings.Fallback()
		if !ok {
			return Pass
		}
	}
	if len(responses) == 0 {
		return Handled
	}

	idx := 0
	switch {
	case e.Config.IsBlacklisted(userOf(c.ev)) && len(responses) >= 3:
		idx = 2
	case c.title != "" && len(responses) >= 2:
		idx = 1
	}
	variants := strings.Split(responses[idx], "|")
	reply := variants[e.intn(len(variants))]
	if reply != "" {
		c.note("greeting")
		e.send(ctx, c, strings.ReplaceAll(reply, "{}", c.title))
	}
	return Handled
}

// abuseFilter drops stop words silently and punishes bad words. It also
// strips the bot's names and surrounding junk from the message text so
// the whole-message wiki lookup sees only the query itself.
func (e *Engine) abuseFilter(ctx context.Context, c *msgContext) Outcome {
	if e.Config.StopWordsRe().MatchString(c.message) {
		c.note("stopword")
		return Abort
	}
	c.message = e.Config.SelfRe().ReplaceAllString(c.message, "")
	c.message = leadingJunkRe.ReplaceAllString(c.message, "")
	c.message = trailingSpaceRe.ReplaceAllString(c.message, "")

	user := userOf(c.ev)
	if e.Config.IsAdmin(user) {
		return Pass
	}

	abusive := c.ids.Len() > e.Config.MaxQueries ||
		e.Config.BadWordsRe().MatchString(c.message)
	if !abusive {
		for _, key := range c.ids.Keys() {
			if e.Config.BadWordsRe().MatchString(key) {
				abusive = true
				break
			}
		}
	}
	switch {
	case abusive:
		c.note("abuse")
		e.send(ctx, c, "哼，不许捣乱！")
		if err := e.Gateway.Ban(ctx, int64(c.ev.GroupID), user, banDuration); err != nil {
			e.logf("ban %d: %v", user, err)
		}
		return Abort
	case e.Config.IsBlacklisted(user):
		c.note("blacklist")
		e.send(ctx, c, "哼，坏蛋，不理你了！")
		return Abort
	case e.State.GroupDisabled(int64(c.ev.GroupID)):
		c.note("muted")
		e.send(ctx, c, "下班了，明天见~")
		return Abort
	}
	return Pass
}

// ackTemplates are the "roger" variants when the sender has no title.
var ackTemplates = []string{"好的，%s", "%s，收到", "嗯，%s", "%s，明白", "%s，知道了"}

// speedFilter throttles the heavyweight queries: tracking numbers, PQ
// codes, or several identifiers at once. Tracking queries additionally
// get an acknowledgement so senders know the slow lookup started.
func (e *Engine) speedFilter(ctx context.Context, c *msgContext) Outcome {
	keys := c.ids.Keys()
	roger := false
	for _, key := range keys {
		if track.CarOrContainerRe.MatchString(key) {
			roger = true
			break
		}
	}
	throttle := roger || len(keys) > 1 ||
		(len(keys) == 1 && strings.HasPrefix(keys[0], "PQ"))
	if !throttle {
		return Pass
	}
	if !e.Config.IsAdmin(userOf(c.ev)) && !e.State.Limiter.Allow() {
		c.note("throttled")
		e.send(ctx, c, "哼，不理你了！")
		return Abort
	}
	if !roger {
		return Pass
	}
	if c.title != "" {
		e.send(ctx, c, "好的，"+c.title)
	} else {
		tmpl := ackTemplates[e.intn(len(ackTemplates))]
		e.send(ctx, c, fmt.Sprintf(tmpl, strings.Join(c.ids.Surfaces(), " ")))
	}
	return Pass
}

// identifierChain runs the per-identifier filters in order, stopping at
// the first one that handles or aborts.
func (e *Engine) identifierChain(ctx context.Context, c *msgContext, key string) Outcome {
	filters := []func(context.Context, *msgContext, string) Outcome{
		e.winskyFilter,
		e.modelFilter,
		e.trainFilter,
		e.trackingFilter,
		e.shanghaiFilter,
		e.beijingFilter,
		e.flightFilter,
	}
	for _, filter := range filters {
		if out := filter(ctx, c, key); out != Pass {
			return out
		}
	}
	return Pass
}

// winskyFilter answers Chinese civil aircraft registrations from the
// registration database, then tries for the latest flight as well.
func (e *Engine) winskyFilter(ctx context.Context, c *msgContext, key string) Outcome {
	surface := c.ids.Surface(key)
	if e.Registry == nil || !strings.HasPrefix(surface, "B-") {
		return Pass
	}
	records, err := e.Registry.Lookup(ctx, surface)
	if err != nil {
		e.logf("winsky %s: %v", surface, err)
		return Pass
	}
	text, found := flight.Describe(surface, records)
	if !found {
		return Pass
	}
	c.note("aircraft")
	e.send(ctx, c, text)
	e.flightFilter(ctx, c, surface)
	return Handled
}

// modelFilter answers rolling-stock class codes from the trainnets
// directory, then lets the train filter add what it knows.
func (e *Engine) modelFilter(ctx context.Context, c *msgContext, key string) Outcome {
	entry, ok := e.KB.Trainnets[key]
	if !ok {
		return Pass
	}
	reply := entry.Intro
	switch {
	case entry.URL == ":":
		// Explanation only, no reference link.
	case strings.Contains(entry.URL, ":"):
		reply += fmt.Sprintf("详见 %s。", entry.URL)
	default:
		reply += fmt.Sprintf("详见 https://trainnets.com/archives/%s。", entry.URL)
	}
	if serial, ok := e.KB.KnownModel(key); ok {
		reply += fmt.Sprintf("如果你想追踪它的话，可以用 %s 这个车号。", serial)
	}
	c.note("model")
	e.send(ctx, c, format.StripLines(reply))
	e.trainFilter(ctx, c, key)
	return Handled
}

const expressTemplate = `
	{2} 次{1}班列，由{5}站始发，终到{6}站{10[，经由{}]}。
	列车{12[速度标尺为{}，]}{4[装车站为{}，]}
	{7[卸车站为{}；]}编组为{9}。{13[{}。]}
`

const traceTemplate = `
	我在{eventAdm}的{eventStation}站见过呢，
	机后第 {trainOrder} 位拉着编号 {carNo} 的 {carType}。
`

// trainFilter describes a train number: live timetable facts when the
// train is running, the static route table, CR-Express records, or at
// least its category when something else is known about it.
func (e *Engine) trainFilter(ctx context.Context, c *msgContext, key string) Outcome {
	surface := c.ids.Surface(key)
	var info *train12306.Info
	if e.Trains != nil {
		var err error
		info, err = e.Trains.InfoByTrainCode(ctx, surface)
		if err != nil {
			e.logf("train info %s: %v", surface, err)
			info = nil
		}
	}
	model := e.KB.GetModel(surface)
	freight := category.NormalizeFreightTrainNumber(surface)
	target := freight
	if target == "" {
		target = surface
	}
	template, _ := e.Classifier.Describe(target)
	described := strings.TrimSpace(template)
	_, traced := e.KB.KnownTrace(freight)
	if freight == "" {
		traced = false
	}

	var reply string
	switch {
	case info != nil:
		reply = fmt.Sprintf("%s，从%s站始发，终到%s站。列车全程运行 %s km，运行时间 %d 小时 %d 分钟。",
			fmt.Sprintf(described, info.TrainCode),
			info.StartStation, info.EndStation, info.Distance, info.Hours, info.Minutes)
	default:
		if route, ok := e.KB.LookupRoute(surface); ok {
			reply = fmt.Sprintf(described, route.Code) +
				fmt.Sprintf("，从%s站始发，终到%s站。", route.Start, route.End)
		} else if record, ok := e.KB.Express[freight]; ok && freight != "" {
			reply = format.Format(format.StripLines(expressTemplate), record, nil)
		} else if traced || model != "" {
			reply = fmt.Sprintf("嗯，%s？", fmt.Sprintf(described, surface))
		} else {
			return Pass
		}
	}
	reply += model
	if trace, ok := e.KB.KnownTrace(freight); ok && freight != "" {
		reply += format.Format(format.StripLines(traceTemplate), nil, trace)
	}
	c.note("train")
	e.send(ctx, c, reply)
	return Handled
}

// trackingFilter queries the freight tracking gateway for car and
// container numbers. The CAPTCHA is solved at most once per message.
func (e *Engine) trackingFilter(ctx context.Context, c *msgContext, key string) Outcome {
	number := key
	if serial, ok := e.KB.KnownModel(number); ok {
		c.note("tracking")
		e.send(ctx, c, fmt.Sprintf("%s 的车号应该是 %s，我帮你查一下。", number, serial))
		number = serial
	}
	if e.Tracker == nil || e.Solver == nil || !track.CarOrContainerRe.MatchString(number) {
		return Pass
	}
	if !c.captchaSolved {
		if err := e.solveCaptcha(ctx); err != nil {
			e.logf("captcha: %v", err)
			c.note("tracking")
			e.send(ctx, c, fmt.Sprintf("%s 没查出来，再试一次吧（", number))
			return Handled
		}
		c.captchaSolved = true
	}
	reply, err := e.trackingHandler(ctx, number)
	if err != nil {
		e.logf("track %s: %v", number, err)
		reply = trackingFailure(number, err)
	}
	c.note("tracking")
	e.send(ctx, c, reply)
	return Handled
}

func (e *Engine) solveCaptcha(ctx context.Context) error {
	image, err := e.Tracker.LoadCaptcha(ctx)
	if err != nil {
		return err
	}
	answer, err := e.Solver(image)
	if err != nil {
		return err
	}
	e.Tracker.FillCaptcha(answer)
	return nil
}

// trackingHandler runs one tracking query and teaches the knowledge
// base what came back: the serial now known for the car's class, and
// the sighting as the train's latest trace.
func (e *Engine) trackingHandler(ctx context.Context, number string) (string, error) {
	var (
		info kb.Trace
		err  error
	)
	if isAllDigits(number) {
		info, err = e.Tracker.TrackCar(ctx, number)
	} else {
		info, err = e.Tracker.TrackContainer(ctx, number)
	}
	if err != nil {
		return "", err
	}

	info["carNo"] = number
	if _, ok := info["trainId"]; !ok {
		info["trainId"] = ""
	}
	e.KB.LearnModel(strings.TrimSpace(info["carType"]), number)

	trainID := strings.TrimSpace(info["trainId"])
	freight := category.NormalizeFreightTrainNumber(info["trainId"])
	traceKey := freight
	if traceKey == "" {
		traceKey = trainID
	}
	snapshot := make(kb.Trace, len(info))
	for k, v := range info {
		snapshot[k] = v
	}
	e.KB.LearnTrace(traceKey, snapshot)

	if freight != "" {
		described, _ := e.Classifier.Describe(freight)
		info["train"] = fmt.Sprintf(described, trainID)
		delete(info, "trainId")
	}
	return track.Explain(info), nil
}

func trackingFailure(number string, err error) string {
	var reason *track.ReasonError
	if !errors.As(err, &reason) {
		return fmt.Sprintf("%s 没查出来，再试一次吧（", number)
	}
	switch reason.Reason {
	case "没有满足条件的查询结果！":
		return fmt.Sprintf("找不到 %s 呢。", number)
	case "货车追踪失败，请稍后再试！":
		return fmt.Sprintf("噫，%s？不告诉你哦~", number)
	case "验证码错误":
		return fmt.Sprintf("咦，%s 怎么没查出来，等会儿再试试？", number)
	}
	return strings.ReplaceAll(reason.Reason, "{}", number)
}

// shanghaiFilter resolves Shanghai bureau EMU unit QR codes.
func (e *Engine) shanghaiFilter(ctx context.Context, c *msgContext, key string) Outcome {
	code := key
	if serial, ok := e.KB.KnownModel(code); ok {
		code = serial
	}
	if e.Shanghai == nil || !emu.ShanghaiRe.MatchString(code) {
		return Pass
	}
	c.note("emu")
	e.send(ctx, c, e.qrReply(ctx, e.Shanghai, code))
	return Handled
}

// beijingFilter resolves Beijing bureau EMU unit QR codes.
func (e *Engine) beijingFilter(ctx context.Context, c *msgContext, key string) Outcome {
	code := key
	if serial, ok := e.KB.KnownModel(code); ok {
		code = serial
	}
	if e.Beijing == nil || !emu.BeijingRe.MatchString(code) {
		return Pass
	}
	c.note("emu")
	e.send(ctx, c, e.qrReply(ctx, e.Beijing, code))
	return Handled
}

func (e *Engine) qrReply(ctx context.Context, resolver QRResolver, code string) string {
	reply, err := resolver.Query(ctx, code)
	switch {
	case errors.Is(err, emu.ErrNotFound):
		return "找不到这个二维码诶。"
	case err != nil:
		e.logf("qr %s: %v", code, err)
		return fmt.Sprintf("咦，%s 怎么没查出来，等会儿再试试？", code)
	}
	return reply
}

// flightFilter describes the latest flight for a flight ident.
func (e *Engine) flightFilter(ctx context.Context, c *msgContext, ident string) Outcome {
	if e.Flight == nil || !flight.IdentRe.MatchString(ident) {
		return Pass
	}
	text, found, err := e.Flight.Status(ctx, ident)
	if err != nil {
		e.logf("flight %s: %v", ident, err)
		return Pass
	}
	if !found {
		return Pass
	}
	c.note("flight")
	e.send(ctx, c, text)
	return Handled
}

// wikiFilter answers a term with the first article found across the
// configured wiki sites.
func (e *Engine) wikiFilter(ctx context.Context, c *msgContext, term string) Outcome {
	if e.Wiki == nil || term == "" {
		return Pass
	}
	text, found := e.Wiki.Search(ctx, term)
	if !found {
		return Pass
	}
	c.note("wiki")
	e.send(ctx, c, text)
	return Handled
}

// wildcardTrainFilter is the fuzzy fallback for train-number-shaped
// identifiers the exact tables knew nothing about.
func (e *Engine) wildcardTrainFilter(ctx context.Context, c *msgContext, key string) Outcome {
	surface := c.ids.Surface(key)
	freight := category.NormalizeFreightTrainNumber(surface)
	target := freight
	if target == "" {
		target = surface
	}
	template, found := e.Classifier.Describe(target)
	switch {
	case found:
		described := strings.TrimSpace(template)
		c.note("wildcard")
		e.send(ctx, c, fmt.Sprintf("嗯，%s？我记不清了呢（", fmt.Sprintf(described, surface)))
	case isAllDigits(surface) && len(surface) == 6:
		c.note("wildcard")
		e.send(ctx, c, "客车不能追踪呢。如果您要查询按货车办理的六位编号特种车辆，请在前面补零。")
	default:
		return Pass
	}
	return Handled
}

// wildcardModelFilter suggests similar rolling-stock class codes: close
// edit-distance matches first, then substring matches.
func (e *Engine) wildcardModelFilter(ctx context.Context, c *msgContext, key string) Outcome {
	keys := e.KB.ModelKeys()
	var matches []string
	if !isAllDigits(key) {
		matches = closeMatches(key, keys, 3, 0.6)
		keys = without(keys, matches)
	}
	var contained []string
	for _, model := range keys {
		if len(model) > 1 && (strings.Contains(model, key) || strings.Contains(key, model)) {
			contained = append(contained, model)
		}
	}
	sort.Strings(contained)
	matches = append(matches, contained...)
	if len(matches) == 0 {
		return Pass
	}
	if len(matches) > 6 {
		matches = matches[:6]
	}
	c.note("wildcard")
	e.send(ctx, c, fmt.Sprintf("%s… 你是指 %s 之类的吗？",
		c.ids.Surface(key), strings.Join(matches, "、")))
	return Handled
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func without(keys, exclude []string) []string {
	if len(exclude) == 0 {
		return keys
	}
	drop := make(map[string]bool, len(exclude))
	for _, k := range exclude {
		drop[k] = true
	}
	out := keys[:0]
	for _, k := range keys {
		if !drop[k] {
			out = append(out, k)
		}
	}
	return out
}
