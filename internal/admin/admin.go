// Package admin implements the administrator command escapes: shell and
// interpreter passthrough, the per-group mute toggle, and the private
// group-loopback relay.
package admin

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"railbot/internal/chat"
	"railbot/internal/config"
	"railbot/internal/gateway"
	"railbot/internal/state"
)

var startTime = time.Now()

// Commands binds the escapes to the bot's configuration and state.
type Commands struct {
	Config  *config.Config
	State   *state.Runtime
	Gateway gateway.Gateway
}

// ParseShell interprets the $, >>> and // escapes. It returns the reply
// text and whether the message was consumed.
func (c *Commands) ParseShell(ctx context.Context, ev *chat.Event, message string) (string, bool) {
	switch {
	case strings.HasPrefix(message, "$"):
		command := strings.TrimSpace(message[1:])
		return runShell(ctx, "sh", "-c", command), true

	case strings.HasPrefix(message, ">>>"):
		// No in-process evaluator; hand the snippet to the system
		// interpreter instead.
		snippet := strings.TrimSpace(message[3:])
		return "--> " + runShell(ctx, "python3", "-c", snippet), true

	case strings.HasPrefix(message, "//"):
		if !ev.IsGroup() {
			return systemInfo(), true
		}
		if c.State.ToggleGroup(int64(ev.GroupID)) {
			return "下班喽~", true
		}
		return "我回来啦（", true
	}
	return "", false
}

func runShell(ctx context.Context, name string, args ...string) string {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil && text == "" {
		return err.Error()
	}
	return text
}

func systemInfo() string {
	hostname, _ := os.Hostname()
	uptime := time.Since(startTime)
	days := int(uptime.Hours()) / 24
	hms := fmt.Sprintf("%02d:%02d:%02d",
		int(uptime.Hours())%24, int(uptime.Minutes())%60, int(uptime.Seconds())%60)
	return fmt.Sprintf("%s (up %d days, %s)\n%s %s\n%s",
		hostname, days, hms, runtime.GOOS, runtime.GOARCH, runtime.Version())
}

// Loopback relays a private "@group message" command into the matching
// group. It reports whether the message was consumed; unconsumed
// private messages fall through to normal handling.
func (c *Commands) Loopback(ctx context.Context, ev *chat.Event) (consumed bool) {
	if !strings.HasPrefix(ev.RawMessage, "@") {
		return false
	}
	groupKey, text, found := strings.Cut(ev.RawMessage[1:], " ")
	text = strings.TrimSpace(text)

	var matches []gateway.Group
	if found && groupKey != "" && text != "" {
		groups, err := c.Gateway.GroupList(ctx)
		if err == nil {
			for _, group := range groups {
				if strings.Contains(group.Name, groupKey) {
					matches = append(matches, group)
				}
			}
		}
	}

	var reply string
	switch {
	case c.Config.IsBlacklisted(int64(ev.Sender.UserID)):
		reply = "哼，坏蛋，不理你了！"
	case len(matches) == 0:
		reply = "语法：@群名 要发送的消息\n" +
			"可以将群名的任何一部分作为群名缩写。\n" +
			"缩写长度不限，只要不与机器人已加入的其他群的名称相混淆即可。"
	case len(matches) > 1:
		var lines []string
		for _, group := range matches {
			lines = append(lines, fmt.Sprintf("%s（%d）", group.Name, group.ID))
		}
		reply = fmt.Sprintf("「%s」指的是哪个群呢？\n%s", groupKey, strings.Join(lines, "\n"))
	default:
		_ = c.Gateway.SendGroup(ctx, matches[0].ID, text)
		return true
	}
	_ = c.Gateway.Send(ctx, ev, reply)
	return true
}
