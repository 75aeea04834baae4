package panel

import (
	"encoding/json"
	"time"
)

// User is a panel user account
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Status    string    `json:"status"`
	DataLimit int64     `json:"data_limit"`
	Expire    *ExpireAt `json:"expire"`
}

// Admin is a panel admin account
type Admin struct {
	ID         int64  `json:"id"`
	Username   string `json:"username"`
	TelegramID int64  `json:"telegram_id,omitempty"`
}

// WebhookEvent is one item of the webhook payload sent by the panel
type WebhookEvent struct {
	Action   string `json:"action"`
	Username string `json:"username"`
	SendAt   int64  `json:"send_at"`
	User     *User  `json:"user"`
	By       *Admin `json:"by"`
}

// UsersResponse is the paginated response from the users endpoint
type UsersResponse struct {
	Users []User `json:"users"`
	Total int    `json:"total"`
}

// AdminsResponse is the paginated response from the admins endpoint
type AdminsResponse struct {
	Admins []Admin `json:"admins"`
	Total  int     `json:"total"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// ExpireAt is an expiry timestamp that the panel serializes either as an
// RFC3339 string or a unix integer, null meaning unlimited.
type ExpireAt struct {
	time.Time
}

func (e *ExpireAt) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}

	var unix int64
	if err := json.Unmarshal(data, &unix); err == nil {
		e.Time = time.Unix(unix, 0).UTC()
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	t, err := time.Parse(time.RFC3339, str)
	if err != nil {
		// Panel builds before 2.x omit the zone suffix
		t, err = time.Parse("2006-01-02T15:04:05", str)
		if err != nil {
			return err
		}
	}

	e.Time = t.UTC()
	return nil
}

func (e *ExpireAt) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Time.Format(time.RFC3339))
}
