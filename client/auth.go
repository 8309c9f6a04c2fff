package client

import (
	"context"
	"encoding/json"
)

const loginResultFields = `
    __typename
    ... on LoginResultSuccess { accessToken refreshToken }
    ... on LoginResultTfaRequired { tfaWaitToken tfaType }`

const loginEmailMutation = `mutation LoginEmail($input: LoginEmailInput!) {
  loginEmail(input: $input) {` + loginResultFields + `
  }
}`

const loginTfaTotpMutation = `mutation LoginTfaTotp($input: LoginTfaTotpInput!) {
  loginTfaTotp(input: $input) {` + loginResultFields + `
  }
}`

const tfaStatusQuery = `query TfaStatus($tfaWaitToken: String!) {
  tfaStatus(tfaWaitToken: $tfaWaitToken) {` + loginResultFields + `
  }
}`

const refreshTokenMutation = `mutation RefreshToken($refreshToken: String!) {
  refreshToken(refreshToken: $refreshToken) { accessToken refreshToken }
}`

const logoutMutation = `mutation Logout {
  logout { success }
}`

// loginResult is the LoginResult union.
type loginResult struct {
	Typename     string  `json:"__typename"`
	AccessToken  string  `json:"accessToken"`
	RefreshToken string  `json:"refreshToken"`
	TfaWaitToken string  `json:"tfaWaitToken"`
	TfaType      TfaKind `json:"tfaType"`
}

const (
	typeLoginSuccess     = "LoginResultSuccess"
	typeLoginTfaRequired = "LoginResultTfaRequired"
)

// Login authenticates with email and password. A second factor surfaces as a
// TokenError of kind TokenTfaRequired carrying the wait token: finish with LoginTfa
// for TOTP or poll CheckTfa for an email link.
func (c *Client) Login(ctx context.Context, email, password string) error {
	if c.IsAuthenticated() {
		return newTokenError(TokenAlreadyAuthenticated, "credentials are already held", nil)
	}

	var resp struct {
		LoginEmail loginResult `json:"loginEmail"`
	}
	err := c.do(ctx, &call{
		backend: BackendMelior,
		name:    "LoginEmail",
		query:   loginEmailMutation,
		variables: map[string]interface{}{
			"input": map[string]string{"email": email, "password": password},
		},
		out:       &resp,
		spec:      loginSpecializer,
		anonymous: true,
	})
	if err != nil {
		return err
	}
	return c.completeLogin(resp.LoginEmail)
}

// LoginTfa finishes a TOTP challenge.
func (c *Client) LoginTfa(ctx context.Context, waitToken, code string) error {
	if c.IsAuthenticated() {
		return newTokenError(TokenAlreadyAuthenticated, "credentials are already held", nil)
	}

	var resp struct {
		LoginTfaTotp loginResult `json:"loginTfaTotp"`
	}
	err := c.do(ctx, &call{
		backend: BackendMelior,
		name:    "LoginTfaTotp",
		query:   loginTfaTotpMutation,
		variables: map[string]interface{}{
			"input": map[string]string{"tfaWaitToken": waitToken, "code": code},
		},
		out:       &resp,
		spec:      loginSpecializer,
		anonymous: true,
	})
	if err != nil {
		return err
	}
	return c.completeLogin(resp.LoginTfaTotp)
}

// CheckTfa polls an email-link challenge. It returns true once the link was
// followed and the client is authenticated, false while still waiting.
func (c *Client) CheckTfa(ctx context.Context, waitToken string) (bool, error) {
	if c.IsAuthenticated() {
		return false, newTokenError(TokenAlreadyAuthenticated, "credentials are already held", nil)
	}

	var resp struct {
		TfaStatus loginResult `json:"tfaStatus"`
	}
	err := c.do(ctx, &call{
		backend:   BackendMelior,
		name:      "TfaStatus",
		query:     tfaStatusQuery,
		variables: map[string]string{"tfaWaitToken": waitToken},
		out:       &resp,
		spec:      loginSpecializer,
		anonymous: true,
	})
	if err != nil {
		return false, err
	}
	if resp.TfaStatus.Typename == typeLoginTfaRequired {
		return false, nil
	}
	if err := c.completeLogin(resp.TfaStatus); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) completeLogin(result loginResult) error {
	switch result.Typename {
	case typeLoginSuccess:
		return c.tokens.set(&Credentials{
			AccessToken:  result.AccessToken,
			RefreshToken: result.RefreshToken,
		}, "login")
	case typeLoginTfaRequired:
		return ErrTfaRequired(result.TfaWaitToken, result.TfaType)
	default:
		return newProtocolError(CodeDecodeFailed, "unknown login result type", map[string]interface{}{
			"typename": result.Typename,
		}, nil)
	}
}

// Logout notifies the server and clears the credentials. The credentials are cleared
// even when the exchange fails; a server that no longer accepts the token counts
// as logged out.
func (c *Client) Logout(ctx context.Context) error {
	if !c.IsAuthenticated() {
		return newTokenError(TokenUnauthenticated, "no credentials are held", nil)
	}

	var resp struct {
		Logout json.RawMessage `json:"logout"`
	}
	err := c.do(ctx, &call{
		backend: BackendMelior,
		name:    "Logout",
		query:   logoutMutation,
		out:     &resp,
		spec:    NoSpecialization,
	})
	c.tokens.clear("logout", err)

	if err != nil && !IsUnauthenticated(err) && !IsTokenError(err, TokenRefreshExpired) {
		return err
	}
	return nil
}

// refreshTokens is the token manager's network exchange.
func (c *Client) refreshTokens(ctx context.Context, refreshToken string) (*Credentials, error) {
	var resp struct {
		RefreshToken struct {
			AccessToken  string `json:"accessToken"`
			RefreshToken string `json:"refreshToken"`
		} `json:"refreshToken"`
	}
	err := c.do(ctx, &call{
		backend:   BackendMelior,
		name:      "RefreshToken",
		query:     refreshTokenMutation,
		variables: map[string]string{"refreshToken": refreshToken},
		out:       &resp,
		spec:      refreshSpecializer,
		anonymous: true,
		internal:  true,
	})
	if err != nil {
		return nil, err
	}
	return &Credentials{
		AccessToken:  resp.RefreshToken.AccessToken,
		RefreshToken: resp.RefreshToken.RefreshToken,
	}, nil
}
