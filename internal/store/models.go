package store

import "time"

type User struct {
	ID           int64     `db:"id" json:"id"`
	FirstName    string    `db:"firstname" json:"firstname"`
	LastName     string    `db:"lastname" json:"lastname"`
	Email        string    `db:"email" json:"email"`
	Username     string    `db:"username" json:"username"`
	Password     string    `db:"password" json:"-"` // hash, never sent to clients
	Salt         string    `db:"salt" json:"-"`
	RegisterDate time.Time `db:"registerdate" json:"registerdate"`
}

// Conversation pairs an inquirer with a host. There is at most one per (inquirer, host).
type Conversation struct {
	ID         int64     `db:"id" json:"id"`
	InquirerID int64     `db:"iid" json:"iid"`
	HostID     int64     `db:"hid" json:"hid"`
	CreatedAt  time.Time `db:"created" json:"created"`
}

type Message struct {
	ID             int64     `db:"id" json:"id"`
	ConversationID int64     `db:"cid" json:"cid"`
	SenderID       int64     `db:"fromid" json:"fromid"`
	Text           string    `db:"text" json:"text"`
	Visible        bool      `db:"visible" json:"visible"`
	CreatedAt      time.Time `db:"created" json:"created"`
}
