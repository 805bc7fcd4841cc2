package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	bsshare "github.com/Loping151/BotShepherd-sub000/share"
)

func builtins() []*Command {
	return []*Command{
		{
			Name:    "ping",
			Aliases: []string{"测试"},
			Help:    "检查代理是否在线",
			Level:   LevelMember,
			Run: func(ctx context.Context, c *Context) (string, error) {
				return "pong", nil
			},
		},
		{
			Name:    "帮助",
			Aliases: []string{"help"},
			Help:    "列出可用指令",
			Level:   LevelMember,
			Run:     runHelp,
		},
		{
			Name:    "状态",
			Aliases: []string{"status"},
			Help:    "查看本账号今日收发统计",
			Level:   LevelSuperuser,
			Run:     runStatus,
		},
	}
}

func runHelp(ctx context.Context, c *Context) (string, error) {
	lines := []string{fmt.Sprintf("可用指令 (%s):", c.Level)}
	for _, cmd := range c.Commands() {
		lines = append(lines, usage(c.Prefix, cmd))
	}
	return strings.Join(lines, "\n"), nil
}

func runStatus(ctx context.Context, c *Context) (string, error) {
	selfID := c.Event.SelfID
	count := c.Policy.SendCount(selfID)
	lines := []string{
		fmt.Sprintf("账号 %s 今日发送: 群聊 %d 条, 私聊 %d 条", selfID, count.GroupTotal, count.Private),
	}
	if c.Event.IsGroup() {
		lines = append(lines, fmt.Sprintf("本群今日发送 %d 条", count.Group(c.Event.GroupID)))
	}
	if c.Counter != nil {
		midnight := time.Now().UTC().Truncate(24 * time.Hour)
		recv, err := c.Counter.CountMessages(ctx, selfID, bsshare.DirectionRecv, midnight)
		if err != nil {
			return "", err
		}
		sent, err := c.Counter.CountMessages(ctx, selfID, bsshare.DirectionSend, midnight)
		if err != nil {
			return "", err
		}
		lines = append(lines, fmt.Sprintf("已记录消息: 接收 %d 条, 发送 %d 条", recv, sent))
	}
	return strings.Join(lines, "\n"), nil
}
