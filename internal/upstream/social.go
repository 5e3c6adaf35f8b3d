package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

type UserDetails struct {
	UserID      string   `json:"userId"`
	UserName    string   `json:"userName,omitempty"`
	Name        string   `json:"name,omitempty"`
	PhoneNumber string   `json:"phoneNumber,omitempty"`
	Email       string   `json:"email,omitempty"`
	Categories  []string `json:"categories,omitempty"`
}

// DisplayName prefers the full name over the handle.
func (u *UserDetails) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.Name != "" {
		return u.Name
	}
	return u.UserName
}

// Social wraps the social API (OTP, identity, link tracking).
type Social struct {
	*Client
}

func NewSocial(c *Client) *Social {
	return &Social{Client: c}
}

var digitsOnly = regexp.MustCompile(`^\d+$`)

// NormalizePhone restores a leading '+' that was decoded as a space in a query string.
func NormalizePhone(phone string) string {
	if strings.HasPrefix(phone, " ") && digitsOnly.MatchString(phone[1:]) {
		return "+" + strings.TrimSpace(phone)
	}
	return phone
}

func (s *Social) GenerateOtp(ctx context.Context, phone string) (*Response, error) {
	return s.Do(ctx, Request{
		Method: http.MethodGet,
		Path:   "/generateOtp",
		Query:  url.Values{"phoneNumber": {NormalizePhone(phone)}},
	})
}

func (s *Social) VerifyOtp(ctx context.Context, phone, otp string) (*Response, error) {
	return s.Do(ctx, Request{
		Method: http.MethodGet,
		Path:   "/verifyOtp",
		Query:  url.Values{"phoneNumber": {NormalizePhone(phone)}, "otp": {otp}},
	})
}

// SessionToken extracts the identity token from a successful verifyOtp answer.
func SessionToken(resp *Response) (string, error) {
	if resp.Status < 200 || resp.Status > 299 {
		return "", &StatusError{Upstream: "social", Status: resp.Status, Message: errorMessage(resp)}
	}
	var out struct {
		Status string `json:"status"`
		Token  string `json:"token"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", fmt.Errorf("error decoding verifyOtp response: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("verifyOtp response has no token")
	}
	return out.Token, nil
}

func (s *Social) UserDetails(ctx context.Context, token string) (*UserDetails, error) {
	var out struct {
		Data *UserDetails `json:"data"`
	}
	if err := s.Call(ctx, Request{Method: http.MethodGet, Path: "/userDetails", Token: token}, &out); err != nil {
		return nil, err
	}
	if out.Data == nil || out.Data.UserID == "" {
		return nil, nil
	}
	return out.Data, nil
}
