package bsshare

import (
	"fmt"

	"github.com/Loping151/BotShepherd-sub000/pkg/onebot"
)

// Daily group message budget the footer reports against
const (
	groupSendQuota     = 4000
	groupSendWarnAfter = 3000
)

// decoratableTypes are the segment types a footer may be appended to
var decoratableTypes = map[string]bool{
	onebot.SegmentText:  true,
	onebot.SegmentAt:    true,
	onebot.SegmentImage: true,
	onebot.SegmentReply: true,
}

// usageFooter returns the footer for the next message an account sends, or
// "" if that message is not a milestone. Group messages are reported every
// 100 sends while the account is under 3000 for the day, then every 25 sends
// or every 10 in the same group, and past the quota every 5 in the same
// group. Private messages are reported every 10.
func usageFooter(count SendCount, groupID onebot.ID) string {
	if !groupID.IsSet() {
		next := count.Private + 1
		if next%10 == 0 {
			return fmt.Sprintf("\n📈 今日私聊已发送%d", next)
		}
		return ""
	}
	total := count.GroupTotal
	inGroup := count.Group(groupID)
	milestone := false
	switch {
	case total < groupSendWarnAfter:
		milestone = (total+1)%100 == 0
	case total < groupSendQuota:
		milestone = (total+1)%25 == 0 || (inGroup+1)%10 == 0
	default:
		milestone = (inGroup+1)%5 == 0
	}
	if !milestone {
		return ""
	}
	return fmt.Sprintf("\n📈 今日已发送%d/%d，本群 %d，超出将被限制发言", total+1, groupSendQuota, inGroup+1)
}

// decorate appends the usage footer to msg when it is a milestone and msg
// only has decoratable segments. It returns the extended message and
// whether it changed.
func decorate(count SendCount, groupID onebot.ID, msg onebot.Message) (onebot.Message, bool) {
	footer := usageFooter(count, groupID)
	if footer == "" {
		return msg, false
	}
	for t := range msg.Types() {
		if !decoratableTypes[t] {
			return msg, false
		}
	}
	return append(msg, onebot.TextSegment(footer)), true
}
