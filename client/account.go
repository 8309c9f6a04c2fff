package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dan-strohschein/campfire-go/mapper"
	"github.com/dan-strohschein/campfire-go/protocol"
)

// Sex is the legacy account gender code.
type Sex int

const (
	SexMale Sex = iota
	SexFemale
	SexUnknown
)

// Account is a user account as the Root server describes it.
type Account struct {
	ID          int64
	Name        string
	ImageID     *int64
	Level       int64
	Karma30     mapper.Fixed
	Sex         Sex
	Sponsor     mapper.Fixed
	LastOnline  *time.Time
	BannedUntil *time.Time
	Online      bool
}

// rawAccount field names used by the Root server.
const (
	rawAccountID         = "J_ID"
	rawAccountName       = "J_NAME"
	rawAccountImageID    = "J_IMAGE_ID"
	rawAccountLevel      = "J_LVL"
	rawAccountKarma30    = "karma30"
	rawAccountSex        = "sex"
	rawAccountSponsor    = "sponsor"
	rawAccountLastOnline = "J_LAST_ONLINE_DATE"
	rawAccountBanDate    = "banDate"
	rawAccountOnline     = "isOnline"
)

// accountFromRaw maps a decoded legacy account. Numbers must have been decoded
// as json.Number so ids and timestamps keep full precision.
func accountFromRaw(raw map[string]interface{}) (*Account, error) {
	m := mapper.NewResponseMapper()
	acc := &Account{}
	var err error

	if acc.ID, err = m.ToInt(raw[rawAccountID]); err != nil {
		return nil, fmt.Errorf("%s: %w", rawAccountID, err)
	}
	acc.Name = m.ToString(raw[rawAccountName])
	if acc.ImageID, err = m.ToOptionalID(raw[rawAccountImageID]); err != nil {
		return nil, fmt.Errorf("%s: %w", rawAccountImageID, err)
	}
	if v, ok := raw[rawAccountLevel]; ok {
		if acc.Level, err = m.ToInt(v); err != nil {
			return nil, fmt.Errorf("%s: %w", rawAccountLevel, err)
		}
	}
	if v, ok := raw[rawAccountKarma30]; ok {
		if acc.Karma30, err = m.ToFixed(v); err != nil {
			return nil, fmt.Errorf("%s: %w", rawAccountKarma30, err)
		}
	}
	if v, ok := raw[rawAccountSponsor]; ok {
		if acc.Sponsor, err = m.ToFixed(v); err != nil {
			return nil, fmt.Errorf("%s: %w", rawAccountSponsor, err)
		}
	}
	acc.Sex = SexUnknown
	if v, ok := raw[rawAccountSex]; ok {
		if acc.Sex, err = mapper.Enum(m, v, SexUnknown, SexMale, SexFemale); err != nil {
			return nil, fmt.Errorf("%s: %w", rawAccountSex, err)
		}
	}
	if acc.LastOnline, err = m.ToOptionalDateTime(raw[rawAccountLastOnline]); err != nil {
		return nil, fmt.Errorf("%s: %w", rawAccountLastOnline, err)
	}
	if acc.BannedUntil, err = m.ToOptionalDateTime(raw[rawAccountBanDate]); err != nil {
		return nil, fmt.Errorf("%s: %w", rawAccountBanDate, err)
	}
	if acc.Online, err = m.ToBool(raw[rawAccountOnline]); err != nil {
		return nil, fmt.Errorf("%s: %w", rawAccountOnline, err)
	}
	return acc, nil
}

// GetAccount fetches an account by id from the Root server.
func (c *Client) GetAccount(ctx context.Context, id int64) (*Account, error) {
	var resp struct {
		Account json.RawMessage `json:"account"`
	}
	err := c.SendRequest(ctx, "RAccountsGet", map[string]interface{}{
		"accountId": id,
	}, nil, &resp, NoSpecialization)
	if err != nil {
		return nil, err
	}
	if len(resp.Account) == 0 || string(resp.Account) == "null" {
		return nil, newProtocolError(CodeDecodeFailed, "response has no account", map[string]interface{}{
			"operation": "RAccountsGet",
		}, nil)
	}

	dec := json.NewDecoder(bytes.NewReader(resp.Account))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, decodeError("RAccountsGet", err)
	}

	acc, err := accountFromRaw(raw)
	if err != nil {
		return nil, decodeError("RAccountsGet", err)
	}
	return acc, nil
}

// ChangeName renames the current account. Rejections surface as *ChangeNameError.
func (c *Client) ChangeName(ctx context.Context, name string) error {
	return c.SendRequest(ctx, "RAccountsChangeName", map[string]interface{}{
		"name": name,
	}, nil, nil, changeNameSpecializer)
}

// ChangeAvatar uploads a new avatar image. A nil image removes the avatar.
func (c *Client) ChangeAvatar(ctx context.Context, image []byte) error {
	return c.SendRequest(ctx, "RAccountsChangeAvatar", nil,
		[]protocol.Attachment{protocol.Attachment(image)}, nil, NoSpecialization)
}

// MeliorAccount is the account the Melior server returns for the current session.
type MeliorAccount struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	CreatedAt string `json:"createdAt"`
}

const meQuery = `query Me {
  me { id username email createdAt }
}`

// Me returns the authenticated account. It fails with TokenUnauthenticated when
// no credentials are held, without contacting the server.
func (c *Client) Me(ctx context.Context) (*MeliorAccount, error) {
	if !c.IsAuthenticated() {
		return nil, newTokenError(TokenUnauthenticated, "no credentials are held", nil)
	}

	resp, err := Query[struct {
		Me *MeliorAccount `json:"me"`
	}](ctx, c, "Me", meQuery, nil, NoSpecialization)
	if err != nil {
		return nil, err
	}
	if resp.Me == nil {
		return nil, newProtocolError(CodeDecodeFailed, "response has no account", map[string]interface{}{
			"operation": "Me",
		}, nil)
	}
	return resp.Me, nil
}
