package domain

import (
	"time"
)

// Subscriber is a notification recipient. Trigger fields are month/day
// granularity; the year is stored for rendering but never used for matching.
// The record is owned by the CRUD surface — the engine reads it and only
// reacts to updates via rescheduling.
type Subscriber struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Email            string     `json:"email"`
	Timezone         string     `json:"timezone"`
	BirthMonth       *int       `json:"birth_month,omitempty"`
	BirthDay         *int       `json:"birth_day,omitempty"`
	BirthYear        *int       `json:"birth_year,omitempty"`
	AnniversaryMonth *int       `json:"anniversary_month,omitempty"`
	AnniversaryDay   *int       `json:"anniversary_day,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
}

// Active reports whether the subscriber participates in scheduling.
func (s *Subscriber) Active() bool {
	return s.DeletedAt == nil
}

type CreateSubscriberRequest struct {
	Name             string `json:"name"`
	Email            string `json:"email"`
	Timezone         string `json:"timezone"`
	BirthMonth       *int   `json:"birth_month,omitempty"`
	BirthDay         *int   `json:"birth_day,omitempty"`
	BirthYear        *int   `json:"birth_year,omitempty"`
	AnniversaryMonth *int   `json:"anniversary_month,omitempty"`
	AnniversaryDay   *int   `json:"anniversary_day,omitempty"`
}

type UpdateSubscriberRequest struct {
	Name             *string `json:"name,omitempty"`
	Email            *string `json:"email,omitempty"`
	Timezone         *string `json:"timezone,omitempty"`
	BirthMonth       *int    `json:"birth_month,omitempty"`
	BirthDay         *int    `json:"birth_day,omitempty"`
	BirthYear        *int    `json:"birth_year,omitempty"`
	AnniversaryMonth *int    `json:"anniversary_month,omitempty"`
	AnniversaryDay   *int    `json:"anniversary_day,omitempty"`
}
