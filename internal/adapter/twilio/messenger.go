package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	twiliogo "github.com/twilio/twilio-go"
	conversations "github.com/twilio/twilio-go/rest/conversations/v1"
	"go.uber.org/zap"

	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/domain"
)

// messageAuthor is the author attributed to our outbound conversation
// messages.
const messageAuthor = "assistant"

// MessengerConfig carries the Conversations service addressing.
type MessengerConfig struct {
	AccountSID     string
	AuthToken      string
	ServiceSID     string
	WhatsAppNumber string
	// TemplateSID is the approved WhatsApp content template used outside
	// the messaging window. When empty (sandbox), the fallback body is
	// sent as a plain message instead.
	TemplateSID string
}

// Messenger drives WhatsApp chat through the Twilio Conversations API.
type Messenger struct {
	client *twiliogo.RestClient
	cfg    MessengerConfig
	log    *zap.Logger
}

// NewMessenger creates the Conversations adapter.
func NewMessenger(cfg MessengerConfig, log *zap.Logger) *Messenger {
	client := twiliogo.NewRestClientWithParams(twiliogo.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Messenger{client: client, cfg: cfg, log: log}
}

// CreateConversation opens a fresh conversation and returns its handle.
func (m *Messenger) CreateConversation(_ context.Context, friendlyName string) (string, error) {
	params := &conversations.CreateServiceConversationParams{}
	params.SetFriendlyName(friendlyName)

	resp, err := m.client.ConversationsV1.CreateServiceConversation(m.cfg.ServiceSID, params)
	if err != nil {
		return "", classify("create conversation", err)
	}
	if resp.Sid == nil {
		return "", fmt.Errorf("twilio: create conversation: response missing sid")
	}
	m.log.Info("conversation created",
		zap.String("conversation", *resp.Sid), zap.String("name", friendlyName))
	return *resp.Sid, nil
}

// AddParticipant binds the phone to the conversation over WhatsApp, proxied
// through our number.
func (m *Messenger) AddParticipant(_ context.Context, conversationHandle, phone string) error {
	params := &conversations.CreateServiceConversationParticipantParams{}
	params.SetMessagingBindingAddress("whatsapp:" + phone)
	params.SetMessagingBindingProxyAddress("whatsapp:" + m.cfg.WhatsAppNumber)

	_, err := m.client.ConversationsV1.CreateServiceConversationParticipant(
		m.cfg.ServiceSID, conversationHandle, params)
	if err != nil {
		return classify("add participant", err)
	}
	return nil
}

// SendMessage posts a free-form message into the conversation and returns
// the message handle. Only valid while the messaging window is open.
func (m *Messenger) SendMessage(_ context.Context, conversationHandle, body string) (string, error) {
	params := &conversations.CreateServiceConversationMessageParams{}
	params.SetBody(body)
	params.SetAuthor(messageAuthor)

	resp, err := m.client.ConversationsV1.CreateServiceConversationMessage(
		m.cfg.ServiceSID, conversationHandle, params)
	if err != nil {
		return "", classify("send message", err)
	}
	if resp.Sid == nil {
		return "", fmt.Errorf("twilio: send message: response missing sid")
	}
	return *resp.Sid, nil
}

// ParseChatWebhook converts an onMessageAdded conversation webhook form into
// an inbound chat message. Validation happens downstream.
func ParseChatWebhook(form url.Values) domain.ChatMessage {
	return domain.ChatMessage{
		ConversationHandle: form.Get("ConversationSid"),
		MessageHandle:      form.Get("MessageSid"),
		AuthorAddress:      form.Get("Author"),
		Body:               form.Get("Body"),
	}
}

// SendTemplate posts an approved template message, required once the
// messaging window has closed. fallbackBody is the rendered text used when
// no template is configured.
func (m *Messenger) SendTemplate(ctx context.Context, conversationHandle, fallbackBody string, variables map[string]string) (string, error) {
	if m.cfg.TemplateSID == "" {
		return m.SendMessage(ctx, conversationHandle, fallbackBody)
	}

	vars, err := json.Marshal(variables)
	if err != nil {
		return "", fmt.Errorf("twilio: send template: encode variables: %w", err)
	}

	params := &conversations.CreateServiceConversationMessageParams{}
	params.SetAuthor(messageAuthor)
	params.SetContentSid(m.cfg.TemplateSID)
	params.SetContentVariables(string(vars))

	resp, err := m.client.ConversationsV1.CreateServiceConversationMessage(
		m.cfg.ServiceSID, conversationHandle, params)
	if err != nil {
		return "", classify("send template", err)
	}
	if resp.Sid == nil {
		return "", fmt.Errorf("twilio: send template: response missing sid")
	}
	return *resp.Sid, nil
}
