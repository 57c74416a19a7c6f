package channel

import (
	"context"
	"errors"
	"strings"

	"querybot/internal/domain"

	"github.com/slack-go/slack"
)

const (
	credentialsCallbackID = "credentials_modal"

	baseURLBlock       = "base_url_block"
	baseURLAction      = "base_url_input"
	clientIDBlock      = "client_id_block"
	clientIDAction     = "client_id_input"
	clientSecretBlock  = "client_secret_block"
	clientSecretAction = "client_secret_input"

	CredentialsSavedMessage    = "Your Auth0 credentials have been saved."
	CredentialsRequiredMessage = "Please fill in all required fields."
	credentialsErrorMessage    = "An error occurred while saving your credentials. Please try again."
	modalErrorMessage          = "An error occurred while opening the credentials modal. Please try again later."
)

// HelpText answers /help.
const HelpText = `*Auth0 Slack Bot Help*

Simply send a message to the bot with your query in plain English. The bot works out what you are asking for and fetches the matching data from your Auth0 tenant.

---

*Supported Queries*

1. *Get User Details by ID*
   - *Description:* Retrieve user details using a user ID.
   - *Usage Example:*
     - ` + "`\"Get user details for user ID <user_id>\"`" + `
     - ` + "`\"Get information on user auth0|abc123.\"`" + `

2. *Get Daily Stats*
   - *Description:* Retrieve daily statistics within a date range.
   - *Usage Examples:*
     - ` + "`\"Get daily stats from Jan 1 to Jan 7.\"`" + `
     - ` + "`\"Show stats for last week.\"`" + `
   - *Note:* Relative dates like "yesterday" or "last month" work too.

3. *Get Tenant Settings*
   - *Description:* Retrieve your tenant's settings.
   - *Usage Example:*
     - ` + "`\"Show tenant settings.\"`" + `

4. *Get Active Users Count*
   - *Description:* Get the number of active users in the last 30 days.
   - *Usage Example:*
     - ` + "`\"How many active users do we have?\"`" + `

5. *Search User by Email*
   - *Description:* Find user details using an email address.
   - *Usage Example:*
     - ` + "`\"Search for user by email jane.doe@company.com.\"`" + `

6. *Get Universal Login Page Template*
   - *Description:* Retrieves the ULP template if it exists and formats it as multiline HTML.
   - *Usage Example:*
     - ` + "`\"Fetch ULP template\"`" + `

---

*Note:* Replace ` + "`<user_id>`" + ` with an actual user ID. Run ` + "`/authorize`" + ` first to connect your tenant.`

// handleSlashCommand returns the immediate response for cmd, or nil.
func (s *Slack) handleSlashCommand(ctx context.Context, cmd slack.SlashCommand) any {
	s.logger.Info("slack slash command", "command", cmd.Command, "user", cmd.UserID, "channel", cmd.ChannelID)

	switch cmd.Command {
	case "/help":
		return map[string]any{"response_type": "ephemeral", "text": HelpText}
	case "/authorize":
		if _, err := s.api.OpenViewContext(ctx, cmd.TriggerID, credentialsModal()); err != nil {
			s.logger.Error("failed to open credentials modal", "user", cmd.UserID, "err", err)
			_ = s.sendMessage(ctx, cmd.UserID, modalErrorMessage)
		}
		return nil
	default:
		return map[string]any{"response_type": "ephemeral", "text": "Unknown command " + cmd.Command + ". Try /help."}
	}
}

func credentialsModal() slack.ModalViewRequest {
	input := func(blockID, actionID, label string) *slack.InputBlock {
		return slack.NewInputBlock(blockID,
			slack.NewTextBlockObject(slack.PlainTextType, label, false, false),
			nil,
			slack.NewPlainTextInputBlockElement(nil, actionID),
		)
	}
	return slack.ModalViewRequest{
		Type:       slack.VTModal,
		CallbackID: credentialsCallbackID,
		Title:      slack.NewTextBlockObject(slack.PlainTextType, "Auth0 Credentials", false, false),
		Submit:     slack.NewTextBlockObject(slack.PlainTextType, "Submit", false, false),
		Blocks: slack.Blocks{BlockSet: []slack.Block{
			input(baseURLBlock, baseURLAction, "Auth0 Base URL"),
			input(clientIDBlock, clientIDAction, "Client ID"),
			input(clientSecretBlock, clientSecretAction, "Client Secret"),
		}},
	}
}

func (s *Slack) handleInteraction(ctx context.Context, cb slack.InteractionCallback) {
	if cb.Type != slack.InteractionTypeViewSubmission || cb.View.CallbackID != credentialsCallbackID {
		s.logger.Debug("ignoring interaction", "type", cb.Type, "callback", cb.View.CallbackID)
		return
	}
	userID := cb.User.ID
	value := func(block, action string) string {
		if cb.View.State == nil {
			return ""
		}
		return strings.TrimSpace(cb.View.State.Values[block][action].Value)
	}
	baseURL := value(baseURLBlock, baseURLAction)
	clientID := value(clientIDBlock, clientIDAction)
	clientSecret := value(clientSecretBlock, clientSecretAction)

	reply := CredentialsSavedMessage
	switch {
	case baseURL == "" || clientID == "" || clientSecret == "":
		reply = CredentialsRequiredMessage
	case s.credentials == nil:
		reply = credentialsErrorMessage
	default:
		if err := s.credentials.UpsertCredentials(ctx, userID, baseURL, clientID, clientSecret); err != nil {
			s.logger.Error("failed to save credentials", "user", userID, "err", err)
			reply = credentialsErrorMessage
			if errors.Is(err, domain.ErrInvalidInput) {
				reply = CredentialsRequiredMessage
			}
		} else {
			s.logger.Info("auth0 credentials saved", "user", userID)
		}
	}
	if err := s.sendMessage(ctx, userID, reply); err != nil {
		s.logger.Warn("failed to confirm credentials", "user", userID, "err", err)
	}
}
