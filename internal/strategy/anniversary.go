package strategy

import (
	"fmt"
	"time"

	"github.com/shrenik7/occasion-notifier/internal/domain"
)

const KindAnniversary = "ANNIVERSARY"

// Anniversary sends an annual greeting on the subscriber's anniversary
// month/day at a fixed local hour.
type Anniversary struct {
	sendHour int
}

func NewAnniversary(sendHour int) *Anniversary {
	return &Anniversary{sendHour: sendHour}
}

func (a *Anniversary) Kind() string { return KindAnniversary }

func (a *Anniversary) MatchesToday(sub *domain.Subscriber, now time.Time) bool {
	if sub.AnniversaryMonth == nil || sub.AnniversaryDay == nil {
		return false
	}
	local, err := localToday(sub, now)
	if err != nil {
		return false
	}
	return triggerMatches(*sub.AnniversaryMonth, *sub.AnniversaryDay, local)
}

func (a *Anniversary) SendInstant(sub *domain.Subscriber, now time.Time) (time.Time, error) {
	return sendInstantAt(sub, now, a.sendHour)
}

func (a *Anniversary) Render(sub *domain.Subscriber, now time.Time) string {
	return fmt.Sprintf("Happy anniversary, %s! Congratulations on another year together.", sub.Name)
}

func (a *Anniversary) Validate(sub *domain.Subscriber) []string {
	var missing []string
	if sub.AnniversaryMonth == nil {
		missing = append(missing, "anniversary_month")
	}
	if sub.AnniversaryDay == nil {
		missing = append(missing, "anniversary_day")
	}
	if sub.Timezone == "" {
		missing = append(missing, "timezone")
	}
	return missing
}
