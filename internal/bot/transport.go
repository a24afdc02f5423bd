// internal/bot/transport.go
package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"quotagate/internal/common/config"
	"quotagate/internal/common/errors"
	"quotagate/internal/common/logger"
)

const vkAPIVersion = "5.131"

// Event is one inbound user message, flattened from the transport's wire
// format. AttachmentURL carries the largest photo attachment, if any.
type Event struct {
	UserID        int64
	Text          string
	AttachmentURL string
}

// Transport abstracts the messaging platform: the handler only ever sends
// text (optionally with a keyboard) back to a user.
type Transport interface {
	Send(ctx context.Context, userID int64, text string, keyboard *Keyboard) error
}

// VKClient is the VK group-bot transport: messages.send for output, bot
// long-poll for input.
type VKClient struct {
	token      string
	groupID    int
	apiBaseURL string
	httpClient *http.Client
	logger     logger.Logger
}

func NewVKClient(cfg config.TransportConfig, log logger.Logger) *VKClient {
	return &VKClient{
		token:      cfg.Token,
		groupID:    cfg.GroupID,
		apiBaseURL: cfg.APIBaseURL,
		httpClient: &http.Client{Timeout: 40 * time.Second},
		logger:     log,
	}
}

type apiError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

func (c *VKClient) call(ctx context.Context, method string, params url.Values, out interface{}) error {
	params.Set("access_token", c.token)
	params.Set("v", vkAPIVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBaseURL+"/method/"+method, nil)
	if err != nil {
		return err
	}
	req.URL.RawQuery = params.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NewProviderTimeoutError("transport", err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Error    *apiError       `json:"error"`
		Response json.RawMessage `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return errors.NewProviderError("transport", err.Error())
	}
	if envelope.Error != nil {
		return errors.NewProviderError("transport",
			fmt.Sprintf("%s returned code %d: %s", method, envelope.Error.Code, envelope.Error.Message))
	}
	if out != nil {
		return json.Unmarshal(envelope.Response, out)
	}
	return nil
}

// Send delivers a message to the user, attaching the keyboard when given.
func (c *VKClient) Send(ctx context.Context, userID int64, text string, keyboard *Keyboard) error {
	params := url.Values{}
	params.Set("user_id", strconv.FormatInt(userID, 10))
	params.Set("random_id", strconv.FormatInt(rand.Int63(), 10))
	params.Set("message", text)
	if keyboard != nil {
		kb, err := json.Marshal(keyboard)
		if err != nil {
			return err
		}
		params.Set("keyboard", string(kb))
	}
	return c.call(ctx, "messages.send", params, nil)
}

// UserProfile is the platform-side identity captured on first contact.
type UserProfile struct {
	FullName    string
	ProfileLink string
}

// Profile fetches the user's display name for the ledger record.
func (c *VKClient) Profile(ctx context.Context, userID int64) (*UserProfile, error) {
	params := url.Values{}
	params.Set("user_ids", strconv.FormatInt(userID, 10))

	var users []struct {
		ID        int64  `json:"id"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if err := c.call(ctx, "users.get", params, &users); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, errors.NewProviderError("transport", "users.get returned no users")
	}

	return &UserProfile{
		FullName:    users[0].FirstName + " " + users[0].LastName,
		ProfileLink: "https://vk.com/id" + strconv.FormatInt(users[0].ID, 10),
	}, nil
}

type longPollServer struct {
	Key    string `json:"key"`
	Server string `json:"server"`
	TS     string `json:"ts"`
}

func (c *VKClient) longPollSession(ctx context.Context) (*longPollServer, error) {
	params := url.Values{}
	params.Set("group_id", strconv.Itoa(c.groupID))

	var lp longPollServer
	if err := c.call(ctx, "groups.getLongPollServer", params, &lp); err != nil {
		return nil, err
	}
	return &lp, nil
}

type longPollUpdate struct {
	Type   string `json:"type"`
	Object struct {
		Message struct {
			FromID      int64  `json:"from_id"`
			Text        string `json:"text"`
			Attachments []struct {
				Type  string `json:"type"`
				Photo struct {
					Sizes []struct {
						URL    string `json:"url"`
						Width  int    `json:"width"`
						Height int    `json:"height"`
					} `json:"sizes"`
				} `json:"photo"`
			} `json:"attachments"`
		} `json:"message"`
	} `json:"object"`
}

// Poll runs the long-poll loop until the context is canceled, delivering each
// inbound message to handle. Session failures re-establish the server; handle
// errors are logged, never fatal.
func (c *VKClient) Poll(ctx context.Context, handle func(ctx context.Context, ev Event)) error {
	session, err := c.longPollSession(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		updates, newTS, failed, err := c.fetchUpdates(ctx, session)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("long poll request failed, retrying", map[string]interface{}{
				"error": err.Error(),
			})
			c.backoff(ctx)
			continue
		}

		switch failed {
		case 0:
			session.TS = newTS
		case 1:
			session.TS = newTS
			continue
		default:
			// Key or server expired. Keep the old session until the refresh
			// succeeds; the server may still accept it on the next attempt.
			refreshed, refreshErr := c.longPollSession(ctx)
			if refreshErr != nil {
				c.logger.Warn("long poll session refresh failed", map[string]interface{}{
					"error": refreshErr.Error(),
				})
				c.backoff(ctx)
				continue
			}
			session = refreshed
			continue
		}

		for _, u := range updates {
			if u.Type != "message_new" {
				continue
			}
			handle(ctx, eventFromUpdate(u))
		}
	}
}

func (c *VKClient) backoff(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(3 * time.Second):
	}
}

func (c *VKClient) fetchUpdates(ctx context.Context, session *longPollServer) ([]longPollUpdate, string, int, error) {
	pollURL := fmt.Sprintf("%s?act=a_check&key=%s&ts=%s&wait=25", session.Server, session.Key, session.TS)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
	if err != nil {
		return nil, "", 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", 0, err
	}
	defer resp.Body.Close()

	var body struct {
		TS      string           `json:"ts"`
		Failed  int              `json:"failed"`
		Updates []longPollUpdate `json:"updates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, "", 0, err
	}
	return body.Updates, body.TS, body.Failed, nil
}

func eventFromUpdate(u longPollUpdate) Event {
	ev := Event{
		UserID: u.Object.Message.FromID,
		Text:   u.Object.Message.Text,
	}

	// Pick the largest photo attachment.
	best := 0
	for _, att := range u.Object.Message.Attachments {
		if att.Type != "photo" {
			continue
		}
		for _, size := range att.Photo.Sizes {
			if area := size.Width * size.Height; area > best {
				best = area
				ev.AttachmentURL = size.URL
			}
		}
	}
	return ev
}
