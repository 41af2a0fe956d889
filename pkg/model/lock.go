package model

import "time"

// BookingLock is the stored form of an advisory lock on an (instructor, date)
// key. Token identifies the holder; ExpiresAt bounds how long a crashed
// holder can keep it.
type BookingLock struct {
	ID        string    `bson:"_id" json:"id"`
	Token     string    `bson:"token" json:"token"`
	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}
