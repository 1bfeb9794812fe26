package strategy

import (
	"fmt"
	"time"

	"github.com/shrenik7/occasion-notifier/internal/domain"
)

const KindBirthday = "BIRTHDAY"

// Birthday sends an annual greeting on the subscriber's birth month/day at a
// fixed local hour.
type Birthday struct {
	sendHour int
}

// NewBirthday creates the birthday strategy with the given local send hour
// (0–23).
func NewBirthday(sendHour int) *Birthday {
	return &Birthday{sendHour: sendHour}
}

func (b *Birthday) Kind() string { return KindBirthday }

func (b *Birthday) MatchesToday(sub *domain.Subscriber, now time.Time) bool {
	if sub.BirthMonth == nil || sub.BirthDay == nil {
		return false
	}
	local, err := localToday(sub, now)
	if err != nil {
		return false
	}
	return triggerMatches(*sub.BirthMonth, *sub.BirthDay, local)
}

func (b *Birthday) SendInstant(sub *domain.Subscriber, now time.Time) (time.Time, error) {
	return sendInstantAt(sub, now, b.sendHour)
}

func (b *Birthday) Render(sub *domain.Subscriber, now time.Time) string {
	if sub.BirthYear != nil {
		local, err := localToday(sub, now)
		if err == nil {
			age := local.Year() - *sub.BirthYear
			if age > 0 {
				return fmt.Sprintf("Happy %s birthday, %s! Wishing you a wonderful year ahead.", ordinal(age), sub.Name)
			}
		}
	}
	return fmt.Sprintf("Happy birthday, %s! Wishing you a wonderful year ahead.", sub.Name)
}

func (b *Birthday) Validate(sub *domain.Subscriber) []string {
	var missing []string
	if sub.BirthMonth == nil {
		missing = append(missing, "birth_month")
	}
	if sub.BirthDay == nil {
		missing = append(missing, "birth_day")
	}
	if sub.Timezone == "" {
		missing = append(missing, "timezone")
	}
	return missing
}

func ordinal(n int) string {
	suffix := "th"
	switch {
	case n%100 >= 11 && n%100 <= 13:
		// 11th, 12th, 13th
	case n%10 == 1:
		suffix = "st"
	case n%10 == 2:
		suffix = "nd"
	case n%10 == 3:
		suffix = "rd"
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
