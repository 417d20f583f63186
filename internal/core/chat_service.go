package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"housebnb.com/backend/internal/auth"
	"housebnb.com/backend/internal/store"
)

const MaxMessageLength = 1000

var (
	ErrNotParticipant     = errors.New("sender is not a participant of the conversation")
	ErrInvalidText        = errors.New("message text must be between 1 and 1000 characters")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMissingField       = errors.New("missing required field")
)

// ChatService composes the user and message DAOs into the operations the HTTP layer needs
type ChatService struct {
	logger    *zap.SugaredLogger
	db        store.Handle
	users     *store.UserDAO
	msgs      *store.MessageDAO
	jwtSecret string
}

func NewChatService(logger *zap.SugaredLogger, db store.Handle, users *store.UserDAO, msgs *store.MessageDAO, jwtSecret string) *ChatService {
	return &ChatService{
		logger:    logger,
		db:        db,
		users:     users,
		msgs:      msgs,
		jwtSecret: jwtSecret,
	}
}

type SignupInput struct {
	FirstName string
	LastName  string
	Username  string
	Email     string
	Password  string
}

func (in SignupInput) validate() error {
	for name, v := range map[string]string{
		"firstname": in.FirstName,
		"lastname":  in.LastName,
		"username":  in.Username,
		"email":     in.Email,
		"password":  in.Password,
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, name)
		}
	}
	return nil
}

// SignUp salts and hashes the password and stores the new user
func (s *ChatService) SignUp(ctx context.Context, in SignupInput) (*store.User, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	salt := auth.NewSalt()
	return s.users.CreateUser(ctx, store.User{
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Username:  strings.TrimSpace(in.Username),
		Email:     strings.TrimSpace(in.Email),
		Password:  auth.HashPassword(salt, in.Password),
		Salt:      salt,
	})
}

// Login checks the credentials and returns a signed token for the user
func (s *ChatService) Login(ctx context.Context, username, password string) (string, *store.User, error) {
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return "", nil, err
	}
	if user == nil {
		return "", nil, ErrInvalidCredentials
	}

	ok, err := s.users.Verify(ctx, username, auth.HashPassword(user.Salt, password))
	if err != nil {
		return "", nil, err
	}
	if !ok {
		return "", nil, ErrInvalidCredentials
	}

	token, err := auth.GenerateJWT(s.jwtSecret, user.ID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate token: %w", err)
	}
	return token, user, nil
}

func (s *ChatService) GetUser(ctx context.Context, id int64) (*store.User, error) {
	return s.users.GetUser(ctx, id)
}

type UpdateUserInput struct {
	FirstName *string
	LastName  *string
	Username  *string
	Email     *string
	Password  *string
}

// UpdateUser applies the given fields to the stored user. A new password is
// hashed with the user's existing salt. Returns nil if the user does not exist.
func (s *ChatService) UpdateUser(ctx context.Context, id int64, in UpdateUserInput) (*store.User, error) {
	var updated *store.User
	err := store.WithTransaction(ctx, s.db, func(ctx context.Context) error {
		user, err := s.users.GetUser(ctx, id)
		if err != nil || user == nil {
			return err
		}

		for _, f := range []struct {
			src *string
			dst *string
		}{
			{in.FirstName, &user.FirstName},
			{in.LastName, &user.LastName},
			{in.Username, &user.Username},
			{in.Email, &user.Email},
		} {
			if f.src == nil {
				continue
			}
			if strings.TrimSpace(*f.src) == "" {
				return ErrMissingField
			}
			*f.dst = strings.TrimSpace(*f.src)
		}
		if in.Password != nil {
			if *in.Password == "" {
				return ErrMissingField
			}
			user.Password = auth.HashPassword(user.Salt, *in.Password)
		}

		updated, err = s.users.UpdateUser(ctx, *user)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteUser removes the user together with their conversations and messages
func (s *ChatService) DeleteUser(ctx context.Context, id int64) (*store.User, error) {
	return s.users.DeleteUser(ctx, id)
}

// StartConversation gets or creates the conversation between inquirer and host
// and, when firstMessage is given, stores it from the inquirer in the same transaction.
func (s *ChatService) StartConversation(ctx context.Context, iid, hid int64, firstMessage *string) (*store.Conversation, []store.Message, error) {
	if firstMessage != nil {
		if err := validateText(*firstMessage); err != nil {
			return nil, nil, err
		}
	}

	var (
		conv     *store.Conversation
		messages []store.Message
	)
	err := store.WithTransaction(ctx, s.db, func(ctx context.Context) error {
		var err error
		conv, err = s.msgs.CreateConversation(ctx, iid, hid)
		if err != nil {
			return err
		}

		if firstMessage != nil {
			msg, err := s.msgs.CreateMessage(ctx, conv.ID, iid, *firstMessage)
			if err != nil {
				return fmt.Errorf("failed to store first message: %w", err)
			}
			messages = append(messages, *msg)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Debugf("Conversation %d started between inquirer %d and host %d", conv.ID, iid, hid)
	return conv, messages, nil
}

func (s *ChatService) GetConversationByID(ctx context.Context, cid int64) (*store.Conversation, error) {
	return s.msgs.GetConversationByID(ctx, cid)
}

// GetConversation returns a page of messages of the conversation, oldest first
func (s *ChatService) GetConversation(ctx context.Context, cid int64, page int) ([]store.Message, error) {
	return s.msgs.GetConversation(ctx, cid, page)
}

func (s *ChatService) GetUserConversations(ctx context.Context, uid int64) ([]store.Conversation, error) {
	return s.msgs.GetUserConversations(ctx, uid)
}

func (s *ChatService) DeleteConversation(ctx context.Context, cid int64) (*store.Conversation, error) {
	return s.msgs.DeleteConversation(ctx, cid)
}

// PostMessage stores a message from senderID in the conversation. It returns nil
// if the conversation does not exist and ErrNotParticipant if the sender is
// neither its inquirer nor its host.
func (s *ChatService) PostMessage(ctx context.Context, cid, senderID int64, text string) (*store.Message, error) {
	if err := validateText(text); err != nil {
		return nil, err
	}

	var msg *store.Message
	err := store.WithTransaction(ctx, s.db, func(ctx context.Context) error {
		conv, err := s.msgs.GetConversationByID(ctx, cid)
		if err != nil || conv == nil {
			return err
		}
		if !isParticipant(conv, senderID) {
			return ErrNotParticipant
		}

		msg, err = s.msgs.CreateMessage(ctx, cid, senderID, text)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *ChatService) GetMessage(ctx context.Context, mid int64) (*store.Message, error) {
	return s.msgs.GetMessage(ctx, mid)
}

// EditMessage replaces the text of a message. Returns nil if the message does not exist.
func (s *ChatService) EditMessage(ctx context.Context, mid int64, newText string) (*store.Message, error) {
	if err := validateText(newText); err != nil {
		return nil, err
	}
	return s.msgs.EditMessage(ctx, mid, newText)
}

// HideMessage soft deletes a message: it stays stored but is marked invisible
func (s *ChatService) HideMessage(ctx context.Context, mid int64) (*store.Message, error) {
	return s.msgs.SetMessageVisibility(ctx, mid, false)
}

func (s *ChatService) ShowMessage(ctx context.Context, mid int64) (*store.Message, error) {
	return s.msgs.SetMessageVisibility(ctx, mid, true)
}

// DeleteMessage removes a message for good
func (s *ChatService) DeleteMessage(ctx context.Context, mid int64) error {
	return s.msgs.DeleteMessage(ctx, mid)
}

func isParticipant(conv *store.Conversation, uid int64) bool {
	return conv.InquirerID == uid || conv.HostID == uid
}

func validateText(text string) error {
	n := utf8.RuneCountInString(text)
	if n < 1 || n > MaxMessageLength {
		return ErrInvalidText
	}
	return nil
}
