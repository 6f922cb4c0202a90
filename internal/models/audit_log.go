package models

import "time"

const AuditLogCollection = "audit_logs"

type AuditLog struct {
	GuildID   string    `bson:"guild_id" json:"guild_id"`
	UserID    string    `bson:"user_id" json:"user_id"`
	Level     string    `bson:"level" json:"level"`
	Event     string    `bson:"event" json:"event"`
	Details   string    `bson:"details" json:"details"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}
