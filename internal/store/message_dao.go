package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// PageSize is the number of messages returned per conversation page
const PageSize = 20

const (
	conversationColumns = "id, iid, hid, created"
	messageColumns      = "id, cid, fromid, text, visible, created"
)

var messageSchema = []string{
	`CREATE TABLE IF NOT EXISTS Conversations (
		id INTEGER NOT NULL PRIMARY KEY,
		iid INTEGER NOT NULL,
		hid INTEGER NOT NULL,
		created DATETIME NOT NULL DEFAULT (DATETIME('now')),
		FOREIGN KEY (iid) REFERENCES Users (id) ON DELETE CASCADE,
		FOREIGN KEY (hid) REFERENCES Users (id) ON DELETE CASCADE,
		CONSTRAINT unq_conv UNIQUE (iid, hid)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_hid ON Conversations (hid)`,
	`CREATE TABLE IF NOT EXISTS Messages (
		id INTEGER NOT NULL PRIMARY KEY,
		cid INTEGER NOT NULL,
		fromid INTEGER NOT NULL,
		text TEXT NOT NULL,
		visible BOOLEAN NOT NULL DEFAULT 1,
		created DATETIME NOT NULL DEFAULT (DATETIME('now')),
		FOREIGN KEY (cid) REFERENCES Conversations (id) ON DELETE CASCADE,
		FOREIGN KEY (fromid) REFERENCES Users (id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_cid_created ON Messages (cid, created, id)`,
}

// MessageDAO owns the Conversations and Messages tables.
// The Users table must exist before Init is called.
type MessageDAO struct {
	logger *zap.SugaredLogger
	db     Handle
}

func NewMessageDAO(logger *zap.SugaredLogger, db Handle) *MessageDAO {
	return &MessageDAO{
		logger: logger,
		db:     db,
	}
}

// Init creates the Conversations and Messages tables if they do not exist
func (d *MessageDAO) Init(ctx context.Context) error {
	for _, stmt := range messageSchema {
		if _, err := d.db.Run(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize message tables: %w", err)
		}
	}

	d.logger.Info("Conversations and Messages tables initialized")
	return nil
}

// CreateConversation returns the conversation between inquirer iid and host hid,
// creating it first if the pair has none. A participant that does not exist
// yields ErrForeignKeyViolation.
func (d *MessageDAO) CreateConversation(ctx context.Context, iid, hid int64) (*Conversation, error) {
	d.logger.Debugf("Creating conversation (inquirer: %d, host: %d)", iid, hid)

	var conv Conversation
	err := atomically(ctx, d.db, func(ctx context.Context) error {
		_, err := d.db.Run(ctx,
			"INSERT INTO Conversations (iid, hid, created) VALUES (?, ?, ?) ON CONFLICT (iid, hid) DO NOTHING",
			iid, hid, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to insert conversation: %w", err)
		}

		found, err := d.db.Get(ctx, &conv,
			"SELECT "+conversationColumns+" FROM Conversations WHERE iid = ? AND hid = ?", iid, hid)
		if err != nil {
			return fmt.Errorf("failed to fetch conversation: %w", err)
		}
		if !found {
			return fmt.Errorf("conversation (inquirer: %d, host: %d) missing after insert", iid, hid)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.logger.Debugf("Conversation (inquirer: %d, host: %d) has id %d", iid, hid, conv.ID)
	return &conv, nil
}

// GetConversationByID returns the conversation with the given id, or nil if there is none
func (d *MessageDAO) GetConversationByID(ctx context.Context, cid int64) (*Conversation, error) {
	var conv Conversation
	found, err := d.db.Get(ctx, &conv, "SELECT "+conversationColumns+" FROM Conversations WHERE id = ?", cid)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &conv, nil
}

// DeleteConversation removes the conversation with all of its messages and
// returns it as it was before deletion, or nil if there is none.
func (d *MessageDAO) DeleteConversation(ctx context.Context, cid int64) (*Conversation, error) {
	d.logger.Debugf("Deleting conversation (id: %d)", cid)

	var deleted *Conversation
	err := atomically(ctx, d.db, func(ctx context.Context) error {
		conv, err := d.GetConversationByID(ctx, cid)
		if err != nil || conv == nil {
			return err
		}

		if _, err := d.db.Run(ctx, "DELETE FROM Conversations WHERE id = ?", cid); err != nil {
			return fmt.Errorf("failed to delete conversation: %w", err)
		}
		deleted = conv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// GetConversation returns page (zero based) of the conversation's messages,
// oldest first. Pages past the end and negative pages are empty.
func (d *MessageDAO) GetConversation(ctx context.Context, cid int64, page int) ([]Message, error) {
	d.logger.Debugf("Retrieving messages for conversation (id: %d, page: %d)", cid, page)

	messages := []Message{}
	// pages whose offset does not fit an int lie past any conversation
	if page < 0 || page > math.MaxInt/PageSize {
		return messages, nil
	}

	err := d.db.GetAll(ctx, &messages,
		"SELECT "+messageColumns+" FROM Messages WHERE cid = ? ORDER BY created ASC, id ASC LIMIT ? OFFSET ?",
		cid, PageSize, page*PageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	d.logger.Debugf("Retrieved %d messages", len(messages))
	return messages, nil
}

// GetUserConversations returns every conversation the user takes part in, as inquirer or host
func (d *MessageDAO) GetUserConversations(ctx context.Context, uid int64) ([]Conversation, error) {
	convs := []Conversation{}
	err := d.db.GetAll(ctx, &convs,
		"SELECT "+conversationColumns+" FROM Conversations WHERE iid = ? OR hid = ? ORDER BY id ASC", uid, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to query user conversations: %w", err)
	}
	return convs, nil
}

// GetHostConversations returns the conversations in which the user is the host
func (d *MessageDAO) GetHostConversations(ctx context.Context, hid int64) ([]Conversation, error) {
	convs := []Conversation{}
	err := d.db.GetAll(ctx, &convs,
		"SELECT "+conversationColumns+" FROM Conversations WHERE hid = ? ORDER BY id ASC", hid)
	if err != nil {
		return nil, fmt.Errorf("failed to query host conversations: %w", err)
	}
	return convs, nil
}

// CreateMessage stores a visible message stamped with the current time.
// It does not check that the sender takes part in the conversation.
func (d *MessageDAO) CreateMessage(ctx context.Context, cid, senderID int64, text string) (*Message, error) {
	d.logger.Debugf("Creating message from user (id: %d) in conversation (id: %d)", senderID, cid)

	msg := Message{
		ConversationID: cid,
		SenderID:       senderID,
		Text:           text,
		Visible:        true,
		CreatedAt:      time.Now().UTC(),
	}

	res, err := d.db.Run(ctx,
		"INSERT INTO Messages (cid, fromid, text, visible, created) VALUES (?, ?, ?, ?, ?)",
		msg.ConversationID, msg.SenderID, msg.Text, msg.Visible, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	msg.ID = res.LastInsertID
	return &msg, nil
}

// GetMessage returns the message with the given id, or nil if there is none
func (d *MessageDAO) GetMessage(ctx context.Context, mid int64) (*Message, error) {
	var msg Message
	found, err := d.db.Get(ctx, &msg, "SELECT "+messageColumns+" FROM Messages WHERE id = ?", mid)
	if err != nil {
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &msg, nil
}

// EditMessage replaces the text of a message and returns the updated message,
// or nil if there is none. The creation time is left untouched.
func (d *MessageDAO) EditMessage(ctx context.Context, mid int64, newText string) (*Message, error) {
	d.logger.Debugf("Editing message (id: %d)", mid)
	return d.updateMessage(ctx, mid, "UPDATE Messages SET text = ? WHERE id = ?", newText, mid)
}

// SetMessageVisibility marks a message visible or hidden without removing it.
// It returns the updated message, or nil if there is none.
func (d *MessageDAO) SetMessageVisibility(ctx context.Context, mid int64, visible bool) (*Message, error) {
	d.logger.Debugf("Setting visibility of message (id: %d) to %t", mid, visible)
	return d.updateMessage(ctx, mid, "UPDATE Messages SET visible = ? WHERE id = ?", visible, mid)
}

func (d *MessageDAO) updateMessage(ctx context.Context, mid int64, stmt string, args ...any) (*Message, error) {
	var updated *Message
	err := atomically(ctx, d.db, func(ctx context.Context) error {
		msg, err := d.GetMessage(ctx, mid)
		if err != nil || msg == nil {
			return err
		}

		if _, err := d.db.Run(ctx, stmt, args...); err != nil {
			return fmt.Errorf("failed to update message: %w", err)
		}

		updated, err = d.GetMessage(ctx, mid)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteMessage removes a message. Deleting a message that does not exist is not an error.
func (d *MessageDAO) DeleteMessage(ctx context.Context, mid int64) error {
	d.logger.Debugf("Deleting message (id: %d)", mid)

	if _, err := d.db.Run(ctx, "DELETE FROM Messages WHERE id = ?", mid); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}
