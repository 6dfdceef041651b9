package telegram

import "context"

func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var u User
	if err := c.Call(ctx, "getMe", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) GetChat(ctx context.Context, chatID int64) (*ChatFullInfo, error) {
	var chat ChatFullInfo
	if err := c.Call(ctx, "getChat", map[string]any{"chat_id": chatID}, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (c *Client) SendMessage(ctx context.Context, p SendMessageParams) (*Message, error) {
	var m Message
	if err := c.Call(ctx, "sendMessage", p, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) EditMessageText(ctx context.Context, p EditMessageTextParams) (*Message, error) {
	var m Message
	if err := c.Call(ctx, "editMessageText", p, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) ForwardMessage(ctx context.Context, p ForwardMessageParams) (*Message, error) {
	var m Message
	if err := c.Call(ctx, "forwardMessage", p, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) CopyMessage(ctx context.Context, p CopyMessageParams) (*MessageID, error) {
	var id MessageID
	if err := c.Call(ctx, "copyMessage", p, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	return c.Call(ctx, "deleteMessage", map[string]any{"chat_id": chatID, "message_id": messageID}, nil)
}

// PinChatMessage pins messageID; silent suppresses the member notification.
func (c *Client) PinChatMessage(ctx context.Context, chatID, messageID int64, silent bool) error {
	return c.Call(ctx, "pinChatMessage", map[string]any{
		"chat_id":              chatID,
		"message_id":           messageID,
		"disable_notification": silent,
	}, nil)
}

func (c *Client) UnpinChatMessage(ctx context.Context, chatID, messageID int64) error {
	return c.Call(ctx, "unpinChatMessage", map[string]any{"chat_id": chatID, "message_id": messageID}, nil)
}

func (c *Client) UnpinAllChatMessages(ctx context.Context, chatID int64) error {
	return c.Call(ctx, "unpinAllChatMessages", map[string]any{"chat_id": chatID}, nil)
}

func (c *Client) CreateForumTopic(ctx context.Context, chatID int64, name string) (*ForumTopic, error) {
	var t ForumTopic
	if err := c.Call(ctx, "createForumTopic", map[string]any{"chat_id": chatID, "name": name}, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) EditForumTopic(ctx context.Context, chatID, threadID int64, name string) error {
	return c.Call(ctx, "editForumTopic", map[string]any{
		"chat_id":           chatID,
		"message_thread_id": threadID,
		"name":              name,
	}, nil)
}

func (c *Client) SetMessageReaction(ctx context.Context, chatID, messageID int64, reaction []ReactionType) error {
	if reaction == nil {
		reaction = []ReactionType{}
	}
	return c.Call(ctx, "setMessageReaction", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"reaction":   reaction,
	}, nil)
}

func (c *Client) SetWebhook(ctx context.Context, p SetWebhookParams) error {
	return c.Call(ctx, "setWebhook", p, nil)
}

func (c *Client) DeleteWebhook(ctx context.Context) error {
	return c.Call(ctx, "deleteWebhook", map[string]any{}, nil)
}

// HealthPing checks the token against getMe.
func (c *Client) HealthPing(ctx context.Context) error {
	_, err := c.GetMe(ctx)
	return err
}
