package domain

import "time"

type SearchHit struct {
	MessageID MessageID `json:"id"`
	SenderID  UserID    `json:"senderId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
	Score     float64   `json:"score"`
}
